package cleanup

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nudgebot-dev/nudgebot/internal/chat"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

var fixedNow = time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)

type fixture struct {
	states *state.MemoryStore
	tasks  *notion.MemoryStore
	out    *chat.Recorder
	runner *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		states: state.NewMemoryStore(),
		tasks:  notion.NewMemoryStore(),
		out:    &chat.Recorder{},
	}
	f.runner = NewRunner(f.states, f.tasks, f.out)
	f.runner.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) seedOldTask(t *testing.T, title, status string) string {
	t.Helper()
	return f.tasks.Seed(notion.Record{
		Title:          title,
		Status:         status,
		CreatedTime:    fixedNow.Add(-400 * 24 * time.Hour),
		LastEditedTime: fixedNow.Add(-200 * 24 * time.Hour),
	})
}

func (f *fixture) setQueue(t *testing.T, q state.CleanupState) {
	t.Helper()
	if err := state.Update(context.Background(), f.states, func(doc *state.State) error {
		doc.Cleanup = q
		return nil
	}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
}

func (f *fixture) queue(t *testing.T) state.CleanupState {
	t.Helper()
	doc, err := f.states.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return doc.Cleanup
}

func TestRunRebuildsEmptyQueueAndDrainsThree(t *testing.T) {
	f := newFixture(t)
	old1 := f.seedOldTask(t, "Renew passport", notion.StatusTodo)
	old2 := f.seedOldTask(t, "Learn sourdough", notion.StatusToSchedule)
	old3 := f.seedOldTask(t, "Fix bike brakes", notion.StatusTodo)
	old4 := f.seedOldTask(t, "Sort photo backlog", notion.StatusTodo)
	f.seedOldTask(t, "Shipped long ago", notion.StatusDone)
	f.tasks.Seed(notion.Record{
		Title:          "Fresh work",
		Status:         notion.StatusTodo,
		LastEditedTime: fixedNow.Add(-24 * time.Hour),
	})

	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	q := f.queue(t)
	wantIDs := []string{old1, old2, old3, old4}
	if len(q.IDs) != len(wantIDs) {
		t.Fatalf("queue = %v, want %v", q.IDs, wantIDs)
	}
	for i, id := range wantIDs {
		if q.IDs[i] != id {
			t.Errorf("queue[%d] = %s, want %s", i, q.IDs[i], id)
		}
	}
	if !q.RebuiltAt.Equal(fixedNow) {
		t.Errorf("RebuiltAt = %v, want %v", q.RebuiltAt, fixedNow)
	}
	if q.Cursor != 3 {
		t.Errorf("cursor = %d, want 3", q.Cursor)
	}

	if len(f.out.Sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(f.out.Sent))
	}
	first := f.out.Sent[0]
	if !strings.Contains(first.Text, "Renew passport") {
		t.Errorf("first item text = %q", first.Text)
	}
	if len(first.Buttons) != 1 || len(first.Buttons[0]) != 4 {
		t.Fatalf("buttons = %v, want one row of four", first.Buttons)
	}
	if got := first.Buttons[0][0].Data; got != "cleanup_done:"+old1 {
		t.Errorf("done button data = %q", got)
	}
}

func TestRunKeepsFreshQueueAndAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.seedOldTask(t, fmt.Sprintf("Old task %d", i), notion.StatusTodo))
	}
	f.setQueue(t, state.CleanupState{
		IDs:       ids,
		Cursor:    1,
		RebuiltAt: fixedNow.Add(-24 * time.Hour),
	})

	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	q := f.queue(t)
	if q.Cursor != 4 {
		t.Errorf("cursor = %d, want 4", q.Cursor)
	}
	if !q.RebuiltAt.Equal(fixedNow.Add(-24 * time.Hour)) {
		t.Errorf("queue was rebuilt; RebuiltAt = %v", q.RebuiltAt)
	}
	if len(f.out.Sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(f.out.Sent))
	}
	if !strings.Contains(f.out.Sent[0].Text, "Old task 1") {
		t.Errorf("drain did not start at the cursor: %q", f.out.Sent[0].Text)
	}
}

func TestRunRebuildsWeekOldQueue(t *testing.T) {
	f := newFixture(t)
	fresh := f.seedOldTask(t, "Still untouched", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{
		IDs:       []string{"gone-1", "gone-2"},
		Cursor:    0,
		RebuiltAt: fixedNow.Add(-8 * 24 * time.Hour),
	})

	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	q := f.queue(t)
	if len(q.IDs) != 1 || q.IDs[0] != fresh {
		t.Errorf("queue = %v, want [%s]", q.IDs, fresh)
	}
}

func TestRunAdvancesCursorPastSendFailures(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.seedOldTask(t, fmt.Sprintf("Old task %d", i), notion.StatusTodo))
	}
	f.setQueue(t, state.CleanupState{IDs: ids, RebuiltAt: fixedNow})
	f.out.SendErr = fmt.Errorf("chat unreachable")

	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	q := f.queue(t)
	if q.Cursor != len(ids) {
		t.Errorf("cursor = %d, want %d (failed sends are skipped, not retried)", q.Cursor, len(ids))
	}
	if len(f.out.Sent) != 0 {
		t.Errorf("recorded %d sends despite failure", len(f.out.Sent))
	}
}

func TestRunEmptyStoreLeavesQueueEmpty(t *testing.T) {
	f := newFixture(t)

	if err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.out.Sent) != 0 {
		t.Errorf("sent %d messages from an empty queue", len(f.out.Sent))
	}
}

func TestResolveDoneWritesStatusAndDequeues(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Renew passport", notion.StatusTodo)
	other := f.seedOldTask(t, "Learn sourdough", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id, other}, RebuiltAt: fixedNow})

	ack, err := f.runner.Resolve(context.Background(), ActionDone, id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(ack, "Renew passport") {
		t.Errorf("ack = %q, want the task title", ack)
	}

	rec, err := f.tasks.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if rec.Status != notion.StatusDone {
		t.Errorf("status = %q, want %q", rec.Status, notion.StatusDone)
	}

	q := f.queue(t)
	if q.Contains(id) {
		t.Error("resolved id still queued")
	}
	if !q.Contains(other) {
		t.Error("unrelated id dropped from queue")
	}
}

func TestResolveDiscardWritesWontDo(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Learn sourdough", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id}, RebuiltAt: fixedNow})

	if _, err := f.runner.Resolve(context.Background(), ActionDiscard, id); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	rec, _ := f.tasks.GetTask(context.Background(), id)
	if rec.Status != notion.StatusWontDo {
		t.Errorf("status = %q, want %q", rec.Status, notion.StatusWontDo)
	}
	if f.queue(t).Contains(id) {
		t.Error("discarded id still queued")
	}
}

func TestResolveKeepSkipsStoreWrite(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Fix bike brakes", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id}, RebuiltAt: fixedNow})

	ack, err := f.runner.Resolve(context.Background(), ActionKeep, id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(ack, "Fix bike brakes") {
		t.Errorf("ack = %q", ack)
	}
	if f.tasks.UpdateCalls != 0 {
		t.Errorf("keep wrote to the task store %d times", f.tasks.UpdateCalls)
	}
	if f.queue(t).Contains(id) {
		t.Error("kept id still queued")
	}
}

func TestResolveLaterMovesToEnd(t *testing.T) {
	f := newFixture(t)
	a := f.seedOldTask(t, "Old task a", notion.StatusTodo)
	b := f.seedOldTask(t, "Old task b", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{a, b}, RebuiltAt: fixedNow})

	if _, err := f.runner.Resolve(context.Background(), ActionLater, a); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	q := f.queue(t)
	if len(q.IDs) != 2 || q.IDs[0] != b || q.IDs[1] != a {
		t.Errorf("queue = %v, want [%s %s]", q.IDs, b, a)
	}
	if f.tasks.UpdateCalls != 0 {
		t.Errorf("later wrote to the task store %d times", f.tasks.UpdateCalls)
	}
}

func TestResolveAbsentIDIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Renew passport", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id}, RebuiltAt: fixedNow})

	ack, err := f.runner.Resolve(context.Background(), ActionDone, "rec-unknown")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ack != "Already handled." {
		t.Errorf("ack = %q", ack)
	}
	if f.tasks.UpdateCalls != 0 {
		t.Errorf("no-op resolution wrote to the task store %d times", f.tasks.UpdateCalls)
	}
	if !f.queue(t).Contains(id) {
		t.Error("queue changed on a no-op resolution")
	}
}

func TestResolveSecondTapIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Renew passport", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id}, RebuiltAt: fixedNow})

	if _, err := f.runner.Resolve(context.Background(), ActionDone, id); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	ack, err := f.runner.Resolve(context.Background(), ActionDone, id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if ack != "Already handled." {
		t.Errorf("second tap ack = %q", ack)
	}
	if f.tasks.UpdateCalls != 1 {
		t.Errorf("store written %d times, want once", f.tasks.UpdateCalls)
	}
}

type failingUpdates struct {
	*notion.MemoryStore
}

func (f *failingUpdates) UpdateTask(context.Context, string, notion.Fields) (*notion.Record, error) {
	return nil, fmt.Errorf("store unavailable")
}

func TestResolveStoreFailureLeavesQueue(t *testing.T) {
	f := newFixture(t)
	id := f.seedOldTask(t, "Renew passport", notion.StatusTodo)
	f.setQueue(t, state.CleanupState{IDs: []string{id}, RebuiltAt: fixedNow})
	f.runner.tasks = &failingUpdates{f.tasks}

	if _, err := f.runner.Resolve(context.Background(), ActionDone, id); err == nil {
		t.Fatal("expected an error from the failed store write")
	}
	if !f.queue(t).Contains(id) {
		t.Error("queue changed despite the failed store write")
	}
}

func TestResolveUnknownAction(t *testing.T) {
	f := newFixture(t)
	if _, err := f.runner.Resolve(context.Background(), "explode", "rec-1"); err == nil {
		t.Fatal("expected an error for an unknown action")
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data       string
		wantAction string
		wantID     string
		wantOK     bool
	}{
		{"cleanup_done:rec-7", "done", "rec-7", true},
		{"cleanup_later:rec-7", "later", "rec-7", true},
		{"cleanup_done:", "", "", false},
		{"cleanup_:rec-7", "", "", false},
		{"action_yes:3", "", "", false},
		{"cleanup_done", "", "", false},
	}
	for _, tt := range tests {
		action, id, ok := ParseCallback(tt.data)
		if action != tt.wantAction || id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ParseCallback(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.data, action, id, ok, tt.wantAction, tt.wantID, tt.wantOK)
		}
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := CallbackData(ActionDiscard, "rec-9")
	action, id, ok := ParseCallback(data)
	if !ok || action != ActionDiscard || id != "rec-9" {
		t.Errorf("round trip = (%q, %q, %v)", action, id, ok)
	}
}
