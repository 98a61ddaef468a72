package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
	"github.com/nudgebot-dev/nudgebot/internal/auditlog"
	"github.com/nudgebot-dev/nudgebot/internal/chat"
	"github.com/nudgebot-dev/nudgebot/internal/cleanup"
	"github.com/nudgebot-dev/nudgebot/internal/digest"
	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

// Callback payload verbs for the confirmation buttons.
const (
	actionPrefix = "action_"
	callbackYes  = "action_yes"
	callbackNo   = "action_no"
)

const (
	defaultLogCount = 10
	maxLogCount     = 50
	// errorScanWindow is how far back "/logs errors" looks; error entries
	// are sparse relative to the whole log.
	errorScanWindow = 200
)

// rawTaskTitleRunes caps the title of a task filed from a raw message.
const rawTaskTitleRunes = 2000

const greeting = "🐻 Nudgebot here!\n" +
	"Send a message and I'll help manage your Notion tasks.\n" +
	"Hourly check-ins from 9am to 11pm."

// handleText runs one chat turn: agent loop, session save, reply delivery.
// An agent failure degrades to filing the message verbatim as a task.
func (b *Bot) handleText(ctx context.Context, text string) {
	started := b.now()
	b.touch(ctx)
	b.out.Typing(ctx)

	res, err := b.loop.Run(ctx, agent.ModeChat, b.history(ctx, text))
	if err != nil {
		log.Printf("[Bot] agent run: %v", err)
		b.record(auditlog.Entry{
			Kind:       auditlog.KindChat,
			UserText:   text,
			DurationMS: b.now().Sub(started).Milliseconds(),
			Error:      "agent run failed: " + err.Error(),
		})
		b.recoverRawTask(ctx, text)
		return
	}

	if err := state.Update(ctx, b.states, func(doc *state.State) error {
		doc.AppendTurns(b.conversation, b.maxTurns,
			state.Turn{Role: "user", Content: text},
			state.Turn{Role: "assistant", Content: res.Text},
		)
		return nil
	}); err != nil {
		log.Printf("[Bot] save conversation turn: %v", err)
	}

	var sendErr error
	switch {
	case res.Confirmation != nil:
		sendErr = b.sendConfirmation(ctx, res.Confirmation)
		if sendErr == nil && res.Text != "" {
			_, sendErr = b.out.Send(ctx, res.Text, nil)
		}
	case res.Text != "":
		_, sendErr = b.out.Send(ctx, res.Text, nil)
	}
	if sendErr != nil {
		log.Printf("[Bot] deliver reply: %v", sendErr)
	}

	b.record(auditlog.Entry{
		Kind:       auditlog.KindChat,
		UserText:   text,
		Reply:      res.Text,
		Steps:      res.Steps,
		DurationMS: b.now().Sub(started).Milliseconds(),
		Error:      errText(sendErr),
	})
}

// history returns the saved session turns plus the inbound text as the final
// user message. Turns with empty content are skipped; the completion service
// rejects empty text blocks.
func (b *Bot) history(ctx context.Context, text string) []llm.Message {
	doc, err := b.states.Load(ctx)
	if err != nil {
		log.Printf("[Bot] load session history: %v", err)
		return []llm.Message{llm.TextMessage("user", text)}
	}

	turns := doc.SessionHistory(b.conversation)
	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		messages = append(messages, llm.TextMessage(turn.Role, turn.Content))
	}
	return append(messages, llm.TextMessage("user", text))
}

// sendConfirmation registers the pending action and offers apply/skip
// buttons keyed to it.
func (b *Bot) sendConfirmation(ctx context.Context, action *agent.PendingAction) error {
	key := b.pending.Register(*action)
	buttons := [][]chat.Button{{
		{Label: action.NewStatus + " ✓", Data: callbackYes + ":" + key},
		{Label: "Skip", Data: callbackNo + ":" + key},
	}}
	_, err := b.out.Send(ctx, "*"+action.Summary+"*", buttons)
	return err
}

// recoverRawTask files the message verbatim so a failed run still captures
// the task.
func (b *Bot) recoverRawTask(ctx context.Context, text string) {
	title := clipRunes(text, rawTaskTitleRunes)
	if _, err := b.tasks.CreateTask(ctx, notion.Fields{Title: notion.String(title)}); err != nil {
		log.Printf("[Bot] raw task creation failed: %v", err)
		b.send(ctx, "❌ Something went wrong. Please try again.")
		return
	}
	b.send(ctx, "⚠️ Agent failed. Task created with raw message.")
}

// resolveCallback routes one button payload and returns the user-facing
// outcome, or "" when the payload is not ours.
func (b *Bot) resolveCallback(ctx context.Context, data string) string {
	started := b.now()
	b.touch(ctx)

	kind := auditlog.KindCallback
	var ack string
	switch {
	case strings.HasPrefix(data, cleanup.CallbackPrefix):
		kind = auditlog.KindCleanup
		ack = b.resolveCleanup(ctx, data)
	case strings.HasPrefix(data, actionPrefix):
		ack = b.resolveAction(ctx, data)
	}
	if ack == "" {
		return ""
	}

	b.record(auditlog.Entry{
		Kind:       kind,
		UserText:   data,
		Reply:      ack,
		DurationMS: b.now().Sub(started).Milliseconds(),
	})
	return ack
}

func (b *Bot) resolveCleanup(ctx context.Context, data string) string {
	action, id, ok := cleanup.ParseCallback(data)
	if !ok {
		log.Printf("[Bot] malformed cleanup callback %q", data)
		return ""
	}
	ack, err := b.cleaner.Resolve(ctx, action, id)
	if err != nil {
		log.Printf("[Bot] cleanup %s on %s: %v", action, id, err)
		return "❌ Update failed. Please try again."
	}
	return ack
}

// resolveAction applies or skips a pending confirmation. The registry pops
// the key either way, so a second tap lands on "already handled".
func (b *Bot) resolveAction(ctx context.Context, data string) string {
	verdict, key, ok := strings.Cut(data, ":")
	if !ok {
		return ""
	}

	action, found := b.pending.Resolve(key)
	if !found {
		return "⏳ Already handled."
	}
	if verdict == callbackNo {
		return "⏭ Skipped: " + action.Summary
	}

	if _, err := b.tasks.UpdateTask(ctx, action.TaskID, notion.Fields{Status: notion.String(action.NewStatus)}); err != nil {
		log.Printf("[Bot] confirmed update of %s: %v", action.TaskID, err)
		return "❌ Failed to update: " + action.Summary
	}
	return fmt.Sprintf("✅ %s → %s", action.Summary, action.NewStatus)
}

func (b *Bot) handleStart(ctx context.Context) {
	b.send(ctx, greeting)
}

// handleScan runs the scheduled digest-then-cleanup sequence on demand,
// bounded by the scan timeout.
func (b *Bot) handleScan(ctx context.Context) {
	b.send(ctx, "🔄 Running manual scan...")

	sctx, cancel := context.WithTimeout(ctx, b.scanTimeout)
	defer cancel()
	err := b.scan(sctx)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("[Bot] manual scan timed out after %s", b.scanTimeout)
		b.send(ctx, "⏰ Scan timed out. Check logs for details.")
	case err != nil:
		log.Printf("[Bot] manual scan: %v", err)
		b.send(ctx, "❌ Scan failed. Check logs for details.")
	default:
		b.send(ctx, "✅ Scan complete.")
	}
}

// handleLogs answers "/logs [errors] [count]" with recent audit entries.
func (b *Bot) handleLogs(ctx context.Context, text string) {
	count, errorsOnly := parseLogsArgs(text)
	if b.audit == nil {
		b.send(ctx, "📋 No log entries yet.")
		return
	}

	window := count
	if errorsOnly {
		window = errorScanWindow
	}
	entries, err := b.audit.Tail(window)
	if err != nil {
		log.Printf("[Bot] read audit log: %v", err)
		b.send(ctx, "❌ Failed to read log file.")
		return
	}

	label := "log"
	if errorsOnly {
		label = "error"
		entries = filterErrors(entries)
		if len(entries) > count {
			entries = entries[len(entries)-count:]
		}
		if len(entries) == 0 {
			b.send(ctx, "📋 No error entries found.")
			return
		}
	}
	if len(entries) == 0 {
		b.send(ctx, "📋 No log entries yet.")
		return
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, formatLogEntry(e))
	}
	b.send(ctx, fmt.Sprintf("📋 Last %d %s entries:\n\n%s", len(entries), label, strings.Join(parts, "\n\n")))
}

// parseLogsArgs reads the optional "/logs [errors] [count]" arguments.
func parseLogsArgs(text string) (count int, errorsOnly bool) {
	count = defaultLogCount
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return count, false
	}
	for _, arg := range fields[1:] {
		switch strings.ToLower(arg) {
		case "error", "errors":
			errorsOnly = true
		default:
			if n, err := strconv.Atoi(arg); err == nil && n > 0 {
				count = min(n, maxLogCount)
			}
		}
	}
	return count, errorsOnly
}

func filterErrors(entries []auditlog.Entry) []auditlog.Entry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Error != "" {
			kept = append(kept, e)
		}
	}
	return kept
}

func formatLogEntry(e auditlog.Entry) string {
	status := "✅"
	if e.Error != "" {
		status = "❌"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s %dms %dsteps",
		e.Timestamp.Format("2006-01-02T15:04:05"), e.Kind, status, e.DurationMS, len(e.Steps))
	if e.Error != "" {
		sb.WriteString(" ERR:")
		sb.WriteString(clipRunes(e.Error, 80))
	}
	sb.WriteString("\n  → ")
	sb.WriteString(clipRunes(e.UserText, 60))
	return sb.String()
}

// touch stamps the interaction clock so the next digest knows the user has
// seen the chat.
func (b *Bot) touch(ctx context.Context) {
	if err := digest.TouchInteraction(ctx, b.states, b.now()); err != nil {
		log.Printf("[Bot] stamp interaction: %v", err)
	}
}

// send delivers a secondary notice; a failure is only logged.
func (b *Bot) send(ctx context.Context, text string) {
	if _, err := b.out.Send(ctx, text, nil); err != nil {
		log.Printf("[Bot] send: %v", err)
	}
}

func (b *Bot) record(e auditlog.Entry) {
	if b.audit == nil {
		return
	}
	b.audit.Record(e)
}

// clipRunes caps text at max runes with no marker.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
