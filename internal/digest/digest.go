// Package digest runs the proactive check-in and keeps consecutive
// check-ins from stacking up while the user is away: an unread check-in is
// edited in place instead of being followed by a new message.
package digest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
	"github.com/nudgebot-dev/nudgebot/internal/auditlog"
	"github.com/nudgebot-dev/nudgebot/internal/chat"
	"github.com/nudgebot-dev/nudgebot/internal/tracing"
	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/observability"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

// auditMarker labels proactive entries in the audit log; historyMarker is
// the user-role stand-in saved to the session so the chat agent can refer
// back to what the check-in showed.
const (
	auditMarker   = "[proactive check-in]"
	historyMarker = "[hourly check-in]"
)

// Snapshotter produces the workspace snapshot, empty when degraded.
type Snapshotter interface {
	Snapshot(ctx context.Context) string
}

// Options carry the session identity of the digest conversation.
type Options struct {
	Conversation string // session key, the authorized chat id
	MaxTurns     int    // session window, default 8
}

// Controller owns one digest run end to end.
type Controller struct {
	loop      *agent.Loop
	snapshots Snapshotter
	states    state.Store
	out       chat.Transport
	audit     *auditlog.Logger
	opts      Options

	now func() time.Time
}

// NewController wires a digest controller. audit may be nil.
func NewController(loop *agent.Loop, snapshots Snapshotter, states state.Store, out chat.Transport, audit *auditlog.Logger, opts Options) *Controller {
	if opts.Conversation == "" {
		opts.Conversation = "default"
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 8
	}
	return &Controller{
		loop:      loop,
		snapshots: snapshots,
		states:    states,
		out:       out,
		audit:     audit,
		opts:      opts,
		now:       time.Now,
	}
}

// TouchInteraction stamps the read-detection clock. The bot calls it for
// every inbound message or button tap.
func TouchInteraction(ctx context.Context, states state.Store, now time.Time) error {
	return state.Update(ctx, states, func(doc *state.State) error {
		doc.Digest.LastInteraction = now
		return nil
	})
}

// Run produces one check-in. The model may answer with the skip sentinel,
// in which case nothing is sent and no state is touched.
func (c *Controller) Run(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "digest.run", nil)
	defer span.End()

	err := c.run(ctx, span)
	span.SetError(err)
	return err
}

func (c *Controller) run(ctx context.Context, span *tracing.Span) error {
	started := c.now()
	snapshot := c.snapshots.Snapshot(ctx)

	res, err := c.loop.Run(ctx, agent.ModeProactive, []llm.Message{
		llm.TextMessage("user", composePrompt(snapshot)),
	})
	if err != nil {
		observability.RecordDigest("failed")
		c.record(auditlog.Entry{
			Kind:       auditlog.KindProactive,
			UserText:   auditMarker,
			DurationMS: c.sinceMS(started),
			Error:      err.Error(),
		})
		return fmt.Errorf("proactive run: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || agent.IsSkip(text) {
		log.Printf("[Digest] nothing to send")
		observability.RecordDigest("skipped")
		c.record(auditlog.Entry{
			Kind:       auditlog.KindProactive,
			UserText:   auditMarker,
			Reply:      res.Text,
			Steps:      res.Steps,
			DurationMS: c.sinceMS(started),
		})
		return nil
	}

	// One read of the dedup snapshot; delivery works off this view.
	doc, err := c.states.Load(ctx)
	if err != nil {
		observability.RecordDigest("failed")
		return fmt.Errorf("load state: %w", err)
	}

	messageID, outcome, err := c.deliver(ctx, doc.Digest, text)
	if err != nil {
		observability.RecordDigest("failed")
		c.record(auditlog.Entry{
			Kind:       auditlog.KindProactive,
			UserText:   auditMarker,
			Reply:      text,
			Steps:      res.Steps,
			DurationMS: c.sinceMS(started),
			Error:      err.Error(),
		})
		return fmt.Errorf("deliver digest: %w", err)
	}
	observability.RecordDigest(outcome)
	span.SetAttribute("outcome", outcome)

	if err := state.Update(ctx, c.states, func(doc *state.State) error {
		doc.Digest.MessageID = messageID
		doc.Digest.SentAt = c.now()
		doc.AppendTurns(c.opts.Conversation, c.opts.MaxTurns,
			state.Turn{Role: "user", Content: historyUserText(snapshot)},
			state.Turn{Role: "assistant", Content: text},
		)
		return nil
	}); err != nil {
		return fmt.Errorf("save digest state: %w", err)
	}

	c.record(auditlog.Entry{
		Kind:       auditlog.KindProactive,
		UserText:   auditMarker,
		Reply:      text,
		Steps:      res.Steps,
		DurationMS: c.sinceMS(started),
	})
	log.Printf("[Digest] check-in %s", outcome)
	return nil
}

// deliver edits the previous check-in when the user has not interacted
// since it went out, otherwise sends a new message. A failed edit falls
// back to a fresh send.
func (c *Controller) deliver(ctx context.Context, d state.DigestState, text string) (string, string, error) {
	unread := d.MessageID != "" && !d.LastInteraction.After(d.SentAt)
	if unread {
		err := c.out.Edit(ctx, d.MessageID, text)
		if err == nil {
			return d.MessageID, "edited", nil
		}
		log.Printf("[Digest] edit %s failed: %v, sending a new message", d.MessageID, err)
	}

	id, err := c.out.Send(ctx, text, nil)
	if err != nil {
		return "", "", err
	}
	return id, "sent", nil
}

func (c *Controller) record(e auditlog.Entry) {
	if c.audit != nil {
		c.audit.Record(e)
	}
}

func (c *Controller) sinceMS(started time.Time) int64 {
	return c.now().Sub(started).Milliseconds()
}

func composePrompt(snapshot string) string {
	parts := []string{"Do an hourly check-in."}
	if snapshot != "" {
		parts = append(parts,
			"Here is the current workspace snapshot:\n\n"+snapshot+
				"\n\nBased on this data and the time of day, send ONE helpful message.")
	} else {
		parts = append(parts, "Look at the current task state and send something helpful.")
	}
	return strings.Join(parts, "\n")
}

func historyUserText(snapshot string) string {
	if snapshot == "" {
		return historyMarker
	}
	return historyMarker + "\n\n" + snapshot
}
