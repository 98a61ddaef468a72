package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
)

// ToolKind enumerates the closed set of tools the dispatcher recognizes.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolCreateTask
	ToolSearchTasks
	ToolUpdateTaskStatus
	ToolUpdateTaskFields
	ToolGetTaskDetail
	ToolAppendTaskContent
	ToolRequestConfirmation
)

// Wire names of the tool set as declared to the model.
const (
	NameCreateTask          = "create_task"
	NameSearchTasks         = "search_tasks"
	NameUpdateTaskStatus    = "update_task_status"
	NameUpdateTaskFields    = "update_task_fields"
	NameGetTaskDetail       = "get_task_detail"
	NameAppendTaskContent   = "append_task_content"
	NameRequestConfirmation = "request_user_confirmation"
)

// searchResultCap bounds how many matches a search returns to the model.
const searchResultCap = 10

// KindForName maps a wire name onto the closed tool set.
func KindForName(name string) ToolKind {
	switch name {
	case NameCreateTask:
		return ToolCreateTask
	case NameSearchTasks:
		return ToolSearchTasks
	case NameUpdateTaskStatus:
		return ToolUpdateTaskStatus
	case NameUpdateTaskFields:
		return ToolUpdateTaskFields
	case NameGetTaskDetail:
		return ToolGetTaskDetail
	case NameAppendTaskContent:
		return ToolAppendTaskContent
	case NameRequestConfirmation:
		return ToolRequestConfirmation
	default:
		return ToolUnknown
	}
}

// String returns the wire name, or "unknown" outside the set.
func (k ToolKind) String() string {
	switch k {
	case ToolCreateTask:
		return NameCreateTask
	case ToolSearchTasks:
		return NameSearchTasks
	case ToolUpdateTaskStatus:
		return NameUpdateTaskStatus
	case ToolUpdateTaskFields:
		return NameUpdateTaskFields
	case ToolGetTaskDetail:
		return NameGetTaskDetail
	case ToolAppendTaskContent:
		return NameAppendTaskContent
	case ToolRequestConfirmation:
		return NameRequestConfirmation
	default:
		return "unknown"
	}
}

// UnknownToolError reports a tool name outside the closed tool set.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Dispatcher executes tool invocations against the task store.
type Dispatcher struct {
	store notion.Store
}

// NewDispatcher returns a dispatcher bound to the given store.
func NewDispatcher(store notion.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

type createTaskInput struct {
	Title      string   `json:"title"`
	Status     string   `json:"status,omitempty"`
	Urgency    string   `json:"urgency,omitempty"`
	Importance string   `json:"importance,omitempty"`
	Category   string   `json:"category,omitempty"`
	Due        string   `json:"due,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Product    string   `json:"product,omitempty"`
}

type searchTasksInput struct {
	Query    string `json:"query"`
	OpenOnly bool   `json:"open_only,omitempty"`
}

type updateTaskStatusInput struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type updateTaskFieldsInput struct {
	TaskID     string    `json:"task_id"`
	Title      *string   `json:"title,omitempty"`
	Status     *string   `json:"status,omitempty"`
	Urgency    *string   `json:"urgency,omitempty"`
	Importance *string   `json:"importance,omitempty"`
	Category   *string   `json:"category,omitempty"`
	Due        *string   `json:"due,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Product    *string   `json:"product,omitempty"`
}

type getTaskDetailInput struct {
	TaskID string `json:"task_id"`
}

type appendTaskContentInput struct {
	TaskID string         `json:"task_id"`
	Blocks []notion.Block `json:"blocks"`
}

// Dispatch runs one tool invocation and returns its result map. Every error
// path returns through the error value so the loop can capture it into the
// invocation's envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input json.RawMessage) (map[string]any, error) {
	switch KindForName(name) {
	case ToolCreateTask:
		return d.createTask(ctx, input)
	case ToolSearchTasks:
		return d.searchTasks(ctx, input)
	case ToolUpdateTaskStatus:
		return d.updateTaskStatus(ctx, input)
	case ToolUpdateTaskFields:
		return d.updateTaskFields(ctx, input)
	case ToolGetTaskDetail:
		return d.getTaskDetail(ctx, input)
	case ToolAppendTaskContent:
		return d.appendTaskContent(ctx, input)
	case ToolRequestConfirmation:
		// Side channel: no store effect, the loop captures the payload.
		return map[string]any{"status": "confirmation_requested"}, nil
	default:
		return nil, &UnknownToolError{Name: name}
	}
}

func (d *Dispatcher) createTask(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in createTaskInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameCreateTask, err)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	fields := notion.Fields{Title: notion.String(in.Title)}
	if in.Status != "" {
		fields.Status = notion.String(in.Status)
	}
	if in.Urgency != "" {
		fields.Urgency = notion.String(in.Urgency)
	}
	if in.Importance != "" {
		fields.Importance = notion.String(in.Importance)
	}
	if in.Category != "" {
		fields.Category = notion.String(in.Category)
	}
	if in.Due != "" {
		fields.Due = notion.String(in.Due)
	}
	if len(in.Tags) > 0 {
		fields.Tags = notion.Tags(in.Tags)
	}
	if in.Product != "" {
		fields.Product = notion.String(in.Product)
	}

	rec, err := d.store.CreateTask(ctx, fields)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":     rec.ID,
		"title":  rec.Title,
		"status": rec.Status,
		"url":    rec.URL,
	}, nil
}

func (d *Dispatcher) searchTasks(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in searchTasksInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameSearchTasks, err)
	}

	page, err := d.store.Query(ctx, notion.Query{
		TitleContains: in.Query,
		OpenOnly:      in.OpenOnly,
		PageSize:      searchResultCap,
	})
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(page.Records))
	for _, rec := range page.Records {
		entry := map[string]any{
			"id":     rec.ID,
			"title":  rec.Title,
			"status": rec.Status,
		}
		if rec.Urgency != "" {
			entry["urgency"] = rec.Urgency
		}
		if rec.Due != "" {
			entry["due"] = rec.Due
		}
		// Body content enriches matches; a fetch failure degrades one entry,
		// never the search.
		if content, err := d.store.PageText(ctx, rec.ID); err != nil {
			log.Printf("[Tools] content fetch for %s failed: %v", rec.ID, err)
		} else if content != "" {
			entry["content"] = content
		}
		results = append(results, entry)
	}
	return map[string]any{"count": len(results), "results": results}, nil
}

func (d *Dispatcher) updateTaskStatus(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in updateTaskStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameUpdateTaskStatus, err)
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if in.Status == "" {
		return nil, fmt.Errorf("status is required")
	}

	rec, err := d.store.UpdateTask(ctx, in.TaskID, notion.Fields{Status: notion.String(in.Status)})
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": rec.ID, "status": rec.Status}, nil
}

func (d *Dispatcher) updateTaskFields(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in updateTaskFieldsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameUpdateTaskFields, err)
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	fields := notion.Fields{
		Title:      in.Title,
		Status:     in.Status,
		Urgency:    in.Urgency,
		Importance: in.Importance,
		Category:   in.Category,
		Due:        in.Due,
		Tags:       in.Tags,
		Product:    in.Product,
	}
	updated := updatedFieldNames(in)
	if len(updated) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	rec, err := d.store.UpdateTask(ctx, in.TaskID, fields)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": rec.ID, "updated": updated}, nil
}

func updatedFieldNames(in updateTaskFieldsInput) []string {
	var names []string
	if in.Title != nil {
		names = append(names, "title")
	}
	if in.Status != nil {
		names = append(names, "status")
	}
	if in.Urgency != nil {
		names = append(names, "urgency")
	}
	if in.Importance != nil {
		names = append(names, "importance")
	}
	if in.Category != nil {
		names = append(names, "category")
	}
	if in.Due != nil {
		names = append(names, "due")
	}
	if in.Tags != nil {
		names = append(names, "tags")
	}
	if in.Product != nil {
		names = append(names, "product")
	}
	return names
}

func (d *Dispatcher) getTaskDetail(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in getTaskDetailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameGetTaskDetail, err)
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	rec, err := d.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	detail := map[string]any{
		"id":     rec.ID,
		"title":  rec.Title,
		"status": rec.Status,
	}
	if rec.Urgency != "" {
		detail["urgency"] = rec.Urgency
	}
	if rec.Importance != "" {
		detail["importance"] = rec.Importance
	}
	if rec.Category != "" {
		detail["category"] = rec.Category
	}
	if rec.Due != "" {
		detail["due"] = rec.Due
	}
	if len(rec.Tags) > 0 {
		detail["tags"] = rec.Tags
	}
	if rec.Product != "" {
		detail["product"] = rec.Product
	}
	if !rec.LastEditedTime.IsZero() {
		detail["last_edited"] = rec.LastEditedTime.Format("2006-01-02")
	}

	content, err := d.store.PageText(ctx, rec.ID)
	if err != nil {
		log.Printf("[Tools] content fetch for %s failed: %v", rec.ID, err)
	} else if content != "" {
		detail["content"] = content
	}
	return detail, nil
}

func (d *Dispatcher) appendTaskContent(ctx context.Context, input json.RawMessage) (map[string]any, error) {
	var in appendTaskContentInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", NameAppendTaskContent, err)
	}
	if in.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if len(in.Blocks) == 0 {
		return nil, fmt.Errorf("blocks is required")
	}

	count, err := d.store.AppendBlocks(ctx, in.TaskID, in.Blocks)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": in.TaskID, "appended": count}, nil
}

// Definitions returns the tool schema set declared to the model.
func (d *Dispatcher) Definitions() []llm.Tool {
	return toolDefinitions
}

var toolDefinitions = []llm.Tool{
	{
		Name:        NameCreateTask,
		Description: "Create a new task in the database. Title is required; everything else is optional.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "Task title"},
				"status": {"type": "string", "enum": ["TODO", "To Schedule", "In progress", "Done", "Won't do"], "description": "Initial status, defaults to TODO"},
				"urgency": {"type": "string", "enum": ["High", "Medium", "Low"]},
				"importance": {"type": "string", "enum": ["High", "Medium", "Low"]},
				"category": {"type": "string", "enum": ["Must Do", "Nice to have"]},
				"due": {"type": "string", "description": "Due date in YYYY-MM-DD"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"product": {"type": "string"}
			},
			"required": ["title"]
		}`),
	},
	{
		Name:        NameSearchTasks,
		Description: "Search tasks by title substring. Returns up to 10 matches with their body content.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Substring to match against task titles"},
				"open_only": {"type": "boolean", "description": "Restrict to tasks that are not Done or Won't do"}
			},
			"required": ["query"]
		}`),
	},
	{
		Name:        NameUpdateTaskStatus,
		Description: "Change the status of an existing task.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task to update"},
				"status": {"type": "string", "enum": ["TODO", "To Schedule", "In progress", "Done", "Won't do"]}
			},
			"required": ["task_id", "status"]
		}`),
	},
	{
		Name:        NameUpdateTaskFields,
		Description: "Update fields of an existing task. Only the fields present in the input are written.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task to update"},
				"title": {"type": "string"},
				"status": {"type": "string", "enum": ["TODO", "To Schedule", "In progress", "Done", "Won't do"]},
				"urgency": {"type": "string", "enum": ["High", "Medium", "Low"]},
				"importance": {"type": "string", "enum": ["High", "Medium", "Low"]},
				"category": {"type": "string", "enum": ["Must Do", "Nice to have"]},
				"due": {"type": "string", "description": "Due date in YYYY-MM-DD"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"product": {"type": "string"}
			},
			"required": ["task_id"]
		}`),
	},
	{
		Name:        NameGetTaskDetail,
		Description: "Fetch one task with all its fields and body content.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task to fetch"}
			},
			"required": ["task_id"]
		}`),
	},
	{
		Name:        NameAppendTaskContent,
		Description: "Append content blocks to a task's body. Block types: paragraph, heading_1, heading_2, heading_3, divider.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task to append to"},
				"blocks": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"type": {"type": "string", "enum": ["paragraph", "heading_1", "heading_2", "heading_3", "divider"]},
							"text": {"type": "string", "description": "Block text, ignored for divider"}
						},
						"required": ["type"]
					}
				}
			},
			"required": ["task_id", "blocks"]
		}`),
	},
	{
		Name:        NameRequestConfirmation,
		Description: "Ask the user to confirm a status change before it is applied. Use this instead of update_task_status when the change closes or discards a task the user did not explicitly name.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task the change targets"},
				"new_status": {"type": "string", "enum": ["TODO", "To Schedule", "In progress", "Done", "Won't do"]},
				"summary": {"type": "string", "description": "One-line description of the change shown to the user"}
			},
			"required": ["task_id", "new_status", "summary"]
		}`),
	},
}
