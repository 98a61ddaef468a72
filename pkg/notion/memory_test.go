package notion

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateGetRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	created, err := m.CreateTask(ctx, Fields{
		Title:    String("Fix login bug"),
		Urgency:  String(LevelHigh),
		Category: String(CategoryMustDo),
		Due:      String("2026-08-28"),
		Tags:     Tags([]string{"bug"}),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if created.Status != StatusTodo {
		t.Errorf("status = %q, want default TODO", created.Status)
	}

	got, err := m.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Title != "Fix login bug" || got.Urgency != LevelHigh || got.Category != CategoryMustDo {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Due != "2026-08-28" {
		t.Errorf("due = %q", got.Due)
	}
	if got.Importance != "" {
		t.Errorf("importance = %q, want unset", got.Importance)
	}
}

func TestMemoryStorePartialUpdate(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	created, err := m.CreateTask(ctx, Fields{
		Title:   String("Write report"),
		Urgency: String(LevelMedium),
		Due:     String("2026-09-01"),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if _, err := m.UpdateTask(ctx, created.ID, Fields{Status: String(StatusInProgress)}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	got, _ := m.GetTask(ctx, created.ID)
	if got.Status != StatusInProgress {
		t.Errorf("status = %q", got.Status)
	}
	if got.Urgency != LevelMedium || got.Due != "2026-09-01" {
		t.Errorf("unspecified fields must survive the update: %+v", got)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.UpdateTask(context.Background(), "nope", Fields{Status: String(StatusDone)})
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	m := NewMemoryStore()
	old := time.Now().AddDate(0, -7, 0)
	m.Seed(Record{Title: "Review PR", Status: StatusTodo, Due: "2026-08-20", LastEditedTime: old})
	m.Seed(Record{Title: "Ship feature", Status: StatusInProgress, Due: "2026-08-25", LastEditedTime: time.Now()})
	m.Seed(Record{Title: "Old chore", Status: StatusDone, LastEditedTime: old})

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"open only", Query{OpenOnly: true}, 2},
		{"title contains", Query{TitleContains: "pr"}, 1},
		{"due window", Query{DueOnOrAfter: "2026-08-21", DueOnOrBefore: "2026-08-26"}, 1},
		{"stale", Query{LastEditedBefore: time.Now().AddDate(0, 0, -14)}, 2},
		{"stale open", Query{OpenOnly: true, LastEditedBefore: time.Now().AddDate(0, 0, -14)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := m.Query(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(page.Records) != tt.want {
				t.Errorf("got %d records, want %d", len(page.Records), tt.want)
			}
		})
	}
}

func TestMemoryStoreQueryPaging(t *testing.T) {
	m := NewMemoryStore()
	for _, title := range []string{"a", "b", "c"} {
		m.Seed(Record{Title: title, Status: StatusTodo})
	}

	first, err := m.Query(context.Background(), Query{PageSize: 2})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(first.Records) != 2 || !first.HasMore {
		t.Fatalf("first page = %+v", first)
	}

	second, err := m.Query(context.Background(), Query{PageSize: 2, StartCursor: first.NextCursor})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(second.Records) != 1 || second.HasMore {
		t.Errorf("second page = %+v", second)
	}
}

func TestMemoryStoreBlocks(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	created, _ := m.CreateTask(ctx, Fields{Title: String("with body")})

	n, err := m.AppendBlocks(ctx, created.ID, []Block{
		{Type: BlockHeading2, Text: "Context"},
		{Type: BlockParagraph, Text: "some detail"},
		{Type: BlockDivider},
	})
	if err != nil {
		t.Fatalf("AppendBlocks() error = %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	text, err := m.PageText(ctx, created.ID)
	if err != nil {
		t.Fatalf("PageText() error = %v", err)
	}
	if text != "Context\nsome detail\n---\n" {
		t.Errorf("text = %q", text)
	}

	if _, err := m.AppendBlocks(ctx, created.ID, []Block{{Type: "callout"}}); err == nil {
		t.Error("unknown block type must be rejected")
	}
}
