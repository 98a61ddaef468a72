// Package notion is the task-store boundary: a client for a Notion task
// database plus the typed records, queries and content blocks the rest of
// the system works with.
package notion

import "time"

// Status options of the task database.
const (
	StatusTodo       = "TODO"
	StatusToSchedule = "To Schedule"
	StatusInProgress = "In progress"
	StatusDone       = "Done"
	StatusWontDo     = "Won't do"
)

// Urgency / importance levels.
const (
	LevelHigh   = "High"
	LevelMedium = "Medium"
	LevelLow    = "Low"
)

// Category options.
const (
	CategoryMustDo     = "Must Do"
	CategoryNiceToHave = "Nice to have"
)

// OpenStatuses returns the non-terminal statuses.
func OpenStatuses() []string {
	return []string{StatusTodo, StatusToSchedule, StatusInProgress}
}

// IsTerminalStatus reports whether s closes a task.
func IsTerminalStatus(s string) bool {
	return s == StatusDone || s == StatusWontDo
}

// Record is one task row from the database.
type Record struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Urgency        string    `json:"urgency,omitempty"`
	Importance     string    `json:"importance,omitempty"`
	Category       string    `json:"category,omitempty"`
	Due            string    `json:"due,omitempty"` // ISO date, empty when unset
	Tags           []string  `json:"tags,omitempty"`
	Product        string    `json:"product,omitempty"`
	URL            string    `json:"url,omitempty"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// Fields is a partial record: nil members are left untouched on update and
// unset on create. Pointers carry the written-vs-absent distinction.
type Fields struct {
	Title      *string
	Status     *string
	Urgency    *string
	Importance *string
	Category   *string
	Due        *string
	Tags       *[]string
	Product    *string
}

// String returns a pointer for a Fields member.
func String(s string) *string { return &s }

// Tags returns a pointer for the Fields tag list.
func Tags(tags []string) *[]string { return &tags }

// SortByDue is the Query sort key for the due-date property.
const SortByDue = "Due"

// Query describes one database query. Zero fields are omitted from the
// filter; conditions are combined with AND.
type Query struct {
	TitleContains    string
	Statuses         []string // OR across the listed statuses
	OpenOnly         bool     // shorthand for Statuses = OpenStatuses()
	DueOnOrAfter     string   // ISO date
	DueOnOrBefore    string   // ISO date
	LastEditedBefore time.Time
	SortBy           string // property name; empty for store default
	SortAscending    bool
	PageSize         int
	StartCursor      string
}

// Page is one page of query results plus the continuation cursor.
type Page struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

// Block content types accepted by AppendBlocks.
const (
	BlockParagraph = "paragraph"
	BlockHeading1  = "heading_1"
	BlockHeading2  = "heading_2"
	BlockHeading3  = "heading_3"
	BlockDivider   = "divider"
)

// Block is one typed content block of a record body.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BlockPage is one page of a record's child blocks.
type BlockPage struct {
	Blocks     []Block `json:"blocks"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}
