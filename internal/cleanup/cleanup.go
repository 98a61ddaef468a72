// Package cleanup maintains a queue of long-untouched tasks and walks the
// user through them a few at a time, one button tap per verdict.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nudgebot-dev/nudgebot/internal/chat"
	"github.com/nudgebot-dev/nudgebot/internal/tracing"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/observability"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

const (
	drainPerRun  = 3
	rebuildAfter = 7 * 24 * time.Hour
	candidateAge = 180 * 24 * time.Hour
)

// Actions a presented queue item can be resolved with.
const (
	ActionDone    = "done"
	ActionKeep    = "keep"
	ActionDiscard = "discard"
	ActionLater   = "later"
)

// CallbackPrefix marks cleanup button payloads in callback queries.
const CallbackPrefix = "cleanup_"

// CallbackData builds the payload for a queue action button.
func CallbackData(action, id string) string {
	return CallbackPrefix + action + ":" + id
}

// ParseCallback splits a cleanup button payload into action and task id.
func ParseCallback(data string) (action, id string, ok bool) {
	rest, found := strings.CutPrefix(data, CallbackPrefix)
	if !found {
		return "", "", false
	}
	action, id, found = strings.Cut(rest, ":")
	if !found || action == "" || id == "" {
		return "", "", false
	}
	return action, id, true
}

// Runner rebuilds, drains, and resolves the cleanup queue.
type Runner struct {
	states state.Store
	tasks  notion.Store
	out    chat.Transport

	now func() time.Time
}

// NewRunner wires the queue against its stores and outbound transport.
func NewRunner(states state.Store, tasks notion.Store, out chat.Transport) *Runner {
	return &Runner{states: states, tasks: tasks, out: out, now: time.Now}
}

// Run is the scheduled entry point. It rebuilds the queue when it is empty,
// fully drained, or a week old, then presents up to three items. The cursor
// advances past failed sends too; a bad item is skipped, not retried.
func (r *Runner) Run(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "cleanup.run", nil)
	defer span.End()

	err := r.run(ctx, span)
	span.SetError(err)
	return err
}

func (r *Runner) run(ctx context.Context, span *tracing.Span) error {
	doc, err := r.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	queue := doc.Cleanup

	if queue.Exhausted() || r.now().Sub(queue.RebuiltAt) >= rebuildAfter {
		ids, err := r.buildCandidates(ctx)
		if err != nil {
			return fmt.Errorf("rebuild cleanup queue: %w", err)
		}
		queue = state.CleanupState{IDs: ids, RebuiltAt: r.now()}
		if err := state.Update(ctx, r.states, func(doc *state.State) error {
			doc.Cleanup = queue
			return nil
		}); err != nil {
			return fmt.Errorf("save rebuilt queue: %w", err)
		}
		span.SetAttribute("rebuilt", true)
		log.Printf("[Cleanup] rebuilt queue with %d candidates", len(ids))
	}

	if len(queue.IDs) == 0 {
		log.Printf("[Cleanup] no candidates")
		return nil
	}

	sent := 0
	cursor := queue.Cursor
	for sent < drainPerRun && cursor < len(queue.IDs) {
		id := queue.IDs[cursor]
		if err := r.present(ctx, id); err != nil {
			log.Printf("[Cleanup] present %s failed: %v", id, err)
		} else {
			sent++
		}
		cursor++
	}
	span.SetAttribute("presented", sent)

	advanced := cursor - queue.Cursor
	if advanced == 0 {
		return nil
	}
	// The cursor is persisted as a delta: button taps landing mid-drain
	// shift the stored queue, and Remove already adjusted its cursor.
	return state.Update(ctx, r.states, func(doc *state.State) error {
		doc.Cleanup.Cursor += advanced
		if doc.Cleanup.Cursor > len(doc.Cleanup.IDs) {
			doc.Cleanup.Cursor = len(doc.Cleanup.IDs)
		}
		return nil
	})
}

func (r *Runner) buildCandidates(ctx context.Context) ([]string, error) {
	cutoff := r.now().Add(-candidateAge)
	var ids []string
	cursor := ""
	for {
		page, err := r.tasks.Query(ctx, notion.Query{
			OpenOnly:         true,
			LastEditedBefore: cutoff,
			PageSize:         100,
			StartCursor:      cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			ids = append(ids, rec.ID)
		}
		if !page.HasMore {
			return ids, nil
		}
		cursor = page.NextCursor
	}
}

func (r *Runner) present(ctx context.Context, id string) error {
	rec, err := r.tasks.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch task: %w", err)
	}

	created := "unknown"
	if !rec.CreatedTime.IsZero() {
		created = rec.CreatedTime.Format("2006-01-02")
	}
	text := fmt.Sprintf("🧹 *Cleanup check*\n*%s*\nStatus: %s | Created: %s", rec.Title, rec.Status, created)
	buttons := [][]chat.Button{{
		{Label: "Done ✓", Data: CallbackData(ActionDone, id)},
		{Label: "Keep 👍", Data: CallbackData(ActionKeep, id)},
		{Label: "Discard ✗", Data: CallbackData(ActionDiscard, id)},
		{Label: "Later ⏭", Data: CallbackData(ActionLater, id)},
	}}

	if _, err := r.out.Send(ctx, text, buttons); err != nil {
		return fmt.Errorf("send item: %w", err)
	}
	return nil
}

// Resolve applies a button verdict to a queued task and returns the text
// the bot shows in place of the prompt. Ids no longer in the queue resolve
// to a no-op acknowledgment so a second tap cannot repeat a store write.
// A failed store write leaves the queue untouched.
func (r *Runner) Resolve(ctx context.Context, action, id string) (string, error) {
	switch action {
	case ActionDone, ActionKeep, ActionDiscard, ActionLater:
	default:
		return "", fmt.Errorf("unknown cleanup action %q", action)
	}

	doc, err := r.states.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}
	if !doc.Cleanup.Contains(id) {
		observability.RecordCleanupResolution("duplicate")
		return "Already handled.", nil
	}

	switch action {
	case ActionDone:
		rec, err := r.tasks.UpdateTask(ctx, id, notion.Fields{Status: notion.String(notion.StatusDone)})
		if err != nil {
			return "", fmt.Errorf("mark done: %w", err)
		}
		if err := r.remove(ctx, id); err != nil {
			return "", err
		}
		observability.RecordCleanupResolution(ActionDone)
		return "✅ Done: " + rec.Title, nil

	case ActionDiscard:
		rec, err := r.tasks.UpdateTask(ctx, id, notion.Fields{Status: notion.String(notion.StatusWontDo)})
		if err != nil {
			return "", fmt.Errorf("mark won't do: %w", err)
		}
		if err := r.remove(ctx, id); err != nil {
			return "", err
		}
		observability.RecordCleanupResolution(ActionDiscard)
		return "🗑 Moved to Won't do: " + rec.Title, nil

	case ActionKeep:
		title := r.titleOf(ctx, id)
		if err := r.remove(ctx, id); err != nil {
			return "", err
		}
		observability.RecordCleanupResolution(ActionKeep)
		return "👍 Keeping: " + title, nil

	default: // ActionLater
		title := r.titleOf(ctx, id)
		if err := state.Update(ctx, r.states, func(doc *state.State) error {
			doc.Cleanup.MoveToEnd(id)
			return nil
		}); err != nil {
			return "", fmt.Errorf("requeue task: %w", err)
		}
		observability.RecordCleanupResolution(ActionLater)
		return "⏭ I'll ask again later: " + title, nil
	}
}

func (r *Runner) remove(ctx context.Context, id string) error {
	err := state.Update(ctx, r.states, func(doc *state.State) error {
		doc.Cleanup.Remove(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dequeue task: %w", err)
	}
	return nil
}

// titleOf is best effort; verdicts that skip the store write still want a
// readable acknowledgment.
func (r *Runner) titleOf(ctx context.Context, id string) string {
	rec, err := r.tasks.GetTask(ctx, id)
	if err != nil {
		return "this task"
	}
	return rec.Title
}
