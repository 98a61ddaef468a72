package notion

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	blocks  map[string][]Block
	order   []string
	nextID  int

	// Call counters for effect assertions.
	CreateCalls int
	UpdateCalls int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		blocks:  make(map[string][]Block),
	}
}

// Seed inserts a record as-is (timestamps included) and returns its id.
func (m *MemoryStore) Seed(rec Record) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.nextID++
		rec.ID = fmt.Sprintf("rec-%d", m.nextID)
	}
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = &rec
	return rec.ID
}

// SeedBlocks sets a record's body blocks.
func (m *MemoryStore) SeedBlocks(id string, blocks []Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[id] = append([]Block(nil), blocks...)
}

// CreateTask writes a new record. Title is required; status defaults to TODO.
func (m *MemoryStore) CreateTask(_ context.Context, f Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++

	if f.Title == nil || *f.Title == "" {
		return nil, NewStoreError(ErrCodeInvalidRequest, "title is required", nil)
	}

	m.nextID++
	now := time.Now()
	rec := &Record{
		ID:             fmt.Sprintf("rec-%d", m.nextID),
		Title:          *f.Title,
		Status:         StatusTodo,
		CreatedTime:    now,
		LastEditedTime: now,
	}
	applyFields(rec, f)
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)

	out := *rec
	return &out, nil
}

// Query filters and pages the seeded records.
func (m *MemoryStore) Query(_ context.Context, q Query) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Record
	for _, id := range m.order {
		rec := m.records[id]
		if matchesQuery(rec, q) {
			matched = append(matched, *rec)
		}
	}

	if q.SortBy == SortByDue {
		sort.SliceStable(matched, func(i, j int) bool {
			if q.SortAscending {
				return matched[i].Due < matched[j].Due
			}
			return matched[i].Due > matched[j].Due
		})
	}

	start := 0
	if q.StartCursor != "" {
		n, err := strconv.Atoi(q.StartCursor)
		if err != nil {
			return nil, NewStoreError(ErrCodeInvalidRequest, "bad cursor", err)
		}
		start = n
	}
	if start > len(matched) {
		start = len(matched)
	}

	end := len(matched)
	if q.PageSize > 0 && start+q.PageSize < end {
		end = start + q.PageSize
	}

	page := &Page{Records: matched[start:end]}
	if end < len(matched) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// UpdateTask applies the non-nil fields to an existing record.
func (m *MemoryStore) UpdateTask(_ context.Context, id string, f Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++

	rec, ok := m.records[id]
	if !ok {
		return nil, NewStoreError(ErrCodeNotFound, "record not found: "+id, nil)
	}
	applyFields(rec, f)
	rec.LastEditedTime = time.Now()

	out := *rec
	return &out, nil
}

// GetTask fetches one record by id.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, NewStoreError(ErrCodeNotFound, "record not found: "+id, nil)
	}
	out := *rec
	return &out, nil
}

// ListBlocks returns the record's body blocks as a single page.
func (m *MemoryStore) ListBlocks(_ context.Context, id, _ string) (*BlockPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &BlockPage{Blocks: append([]Block(nil), m.blocks[id]...)}, nil
}

// AppendBlocks appends typed blocks to the record body.
func (m *MemoryStore) AppendBlocks(_ context.Context, id string, blocks []Block) (int, error) {
	for _, b := range blocks {
		if _, err := blockToWire(b); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return 0, NewStoreError(ErrCodeNotFound, "record not found: "+id, nil)
	}
	m.blocks[id] = append(m.blocks[id], blocks...)
	m.records[id].LastEditedTime = time.Now()
	return len(blocks), nil
}

// PageText reads the record body as plain text.
func (m *MemoryStore) PageText(ctx context.Context, id string) (string, error) {
	bp, err := m.ListBlocks(ctx, id, "")
	if err != nil {
		return "", err
	}
	var out string
	for _, b := range bp.Blocks {
		if b.Type == BlockDivider {
			out += "---\n"
			continue
		}
		if b.Text != "" {
			out += b.Text + "\n"
		}
	}
	return out, nil
}

func applyFields(rec *Record, f Fields) {
	if f.Title != nil {
		rec.Title = *f.Title
	}
	if f.Status != nil {
		rec.Status = *f.Status
	}
	if f.Urgency != nil {
		rec.Urgency = *f.Urgency
	}
	if f.Importance != nil {
		rec.Importance = *f.Importance
	}
	if f.Category != nil {
		rec.Category = *f.Category
	}
	if f.Due != nil {
		rec.Due = *f.Due
	}
	if f.Tags != nil {
		rec.Tags = append([]string(nil), (*f.Tags)...)
	}
	if f.Product != nil {
		rec.Product = *f.Product
	}
}

func matchesQuery(rec *Record, q Query) bool {
	if q.TitleContains != "" && !strings.Contains(strings.ToLower(rec.Title), strings.ToLower(q.TitleContains)) {
		return false
	}

	statuses := q.Statuses
	if q.OpenOnly {
		statuses = OpenStatuses()
	}
	if len(statuses) > 0 {
		found := false
		for _, s := range statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if q.DueOnOrAfter != "" && (rec.Due == "" || rec.Due < q.DueOnOrAfter) {
		return false
	}
	if q.DueOnOrBefore != "" && (rec.Due == "" || rec.Due > q.DueOnOrBefore) {
		return false
	}
	if !q.LastEditedBefore.IsZero() && !rec.LastEditedTime.Before(q.LastEditedBefore) {
		return false
	}
	return true
}
