package digest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
	"github.com/nudgebot-dev/nudgebot/internal/chat"
	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

var fixedNow = time.Date(2026, 8, 19, 14, 0, 0, 0, time.UTC)

type scriptedProvider struct {
	completions []*llm.Completion
	errs        []error
	requests    []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.completions) {
		return nil, fmt.Errorf("unscripted completion %d", i)
	}
	return p.completions[i], nil
}

func textCompletion(text string) *llm.Completion {
	return &llm.Completion{
		Blocks:     []llm.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
}

type staticSnapshot string

func (s staticSnapshot) Snapshot(context.Context) string { return string(s) }

type fixture struct {
	provider *scriptedProvider
	states   *state.MemoryStore
	out      *chat.Recorder
	ctl      *Controller
}

func newFixture(t *testing.T, snapshot string, completions ...*llm.Completion) *fixture {
	t.Helper()
	f := &fixture{
		provider: &scriptedProvider{completions: completions},
		states:   state.NewMemoryStore(),
		out:      &chat.Recorder{},
	}
	loop := agent.NewLoop(f.provider, agent.NewDispatcher(notion.NewMemoryStore()), agent.Options{Location: time.UTC})
	f.ctl = NewController(loop, staticSnapshot(snapshot), f.states, f.out, nil, Options{Conversation: "123", MaxTurns: 8})
	f.ctl.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) digestState(t *testing.T) state.DigestState {
	t.Helper()
	doc, err := f.states.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return doc.Digest
}

func (f *fixture) setDigestState(t *testing.T, d state.DigestState) {
	t.Helper()
	if err := state.Update(context.Background(), f.states, func(doc *state.State) error {
		doc.Digest = d
		return nil
	}); err != nil {
		t.Fatalf("seed digest state: %v", err)
	}
}

func TestRunSendsCheckinAndStampsState(t *testing.T) {
	f := newFixture(t, "## Current workspace snapshot\nOverdue (1):", textCompletion("Two tasks are overdue. Start with the report?"))

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.out.Sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(f.out.Sent))
	}
	sent := f.out.Sent[0]
	if !strings.Contains(sent.Text, "overdue") {
		t.Errorf("sent text = %q", sent.Text)
	}

	d := f.digestState(t)
	if d.MessageID != sent.ID {
		t.Errorf("stamped message id %q, want %q", d.MessageID, sent.ID)
	}
	if !d.SentAt.Equal(fixedNow) {
		t.Errorf("SentAt = %v, want %v", d.SentAt, fixedNow)
	}

	prompt := f.provider.requests[0].Messages[0].Content[0].Text
	if !strings.HasPrefix(prompt, "Do an hourly check-in.") {
		t.Errorf("prompt = %q", prompt)
	}
	if !strings.Contains(prompt, "## Current workspace snapshot") {
		t.Errorf("prompt is missing the snapshot: %q", prompt)
	}
	if !strings.Contains(prompt, "send ONE helpful message") {
		t.Errorf("prompt is missing the instruction: %q", prompt)
	}
}

func TestRunSavesConversationTurns(t *testing.T) {
	f := newFixture(t, "Overdue (1): report", textCompletion("The report is overdue."))

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc, err := f.states.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	turns := doc.Sessions["123"]
	if len(turns) != 2 {
		t.Fatalf("saved %d turns, want 2", len(turns))
	}
	if turns[0].Role != "user" || !strings.HasPrefix(turns[0].Content, "[hourly check-in]") {
		t.Errorf("user turn = %+v", turns[0])
	}
	if !strings.Contains(turns[0].Content, "Overdue (1): report") {
		t.Errorf("user turn is missing the snapshot: %q", turns[0].Content)
	}
	if turns[1].Role != "assistant" || turns[1].Content != "The report is overdue." {
		t.Errorf("assistant turn = %+v", turns[1])
	}
}

func TestRunWithoutSnapshotUsesFallbackPrompt(t *testing.T) {
	f := newFixture(t, "", textCompletion("All clear today."))

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	prompt := f.provider.requests[0].Messages[0].Content[0].Text
	if !strings.Contains(prompt, "Look at the current task state") {
		t.Errorf("prompt = %q", prompt)
	}
	doc, _ := f.states.Load(context.Background())
	if got := doc.Sessions["123"][0].Content; got != "[hourly check-in]" {
		t.Errorf("history user turn = %q", got)
	}
}

func TestRunSkipSentinelSuppressesSend(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("SKIP"))
	f.setDigestState(t, state.DigestState{
		MessageID: "msg-old",
		SentAt:    fixedNow.Add(-2 * time.Hour),
	})

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.out.Sent) != 0 || len(f.out.Edited) != 0 {
		t.Fatalf("skip still delivered: sent=%d edited=%d", len(f.out.Sent), len(f.out.Edited))
	}
	d := f.digestState(t)
	if d.MessageID != "msg-old" || !d.SentAt.Equal(fixedNow.Add(-2*time.Hour)) {
		t.Errorf("skip touched digest state: %+v", d)
	}
	doc, _ := f.states.Load(context.Background())
	if len(doc.Sessions["123"]) != 0 {
		t.Errorf("skip saved %d history turns", len(doc.Sessions["123"]))
	}
}

func TestRunSkipIsCaseInsensitivePrefix(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("skip: nothing new since the last check-in"))

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.out.Sent) != 0 {
		t.Fatalf("lowercase skip still delivered")
	}
}

func TestRunEditsUnreadCheckin(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("Updated: still two overdue."))
	f.setDigestState(t, state.DigestState{
		MessageID:       "msg-7",
		SentAt:          fixedNow.Add(-time.Hour),
		LastInteraction: fixedNow.Add(-3 * time.Hour),
	})

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.out.Edited) != 1 {
		t.Fatalf("edited %d messages, want 1", len(f.out.Edited))
	}
	if f.out.Edited[0].MessageID != "msg-7" {
		t.Errorf("edited %q, want msg-7", f.out.Edited[0].MessageID)
	}
	if len(f.out.Sent) != 0 {
		t.Errorf("also sent %d new messages", len(f.out.Sent))
	}

	d := f.digestState(t)
	if d.MessageID != "msg-7" {
		t.Errorf("message id changed to %q on edit", d.MessageID)
	}
	if !d.SentAt.Equal(fixedNow) {
		t.Errorf("SentAt not refreshed: %v", d.SentAt)
	}
}

func TestRunSendsNewWhenUserInteracted(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("Morning! One task due today."))
	f.setDigestState(t, state.DigestState{
		MessageID:       "msg-7",
		SentAt:          fixedNow.Add(-2 * time.Hour),
		LastInteraction: fixedNow.Add(-time.Hour),
	})

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.out.Edited) != 0 {
		t.Errorf("edited a read check-in")
	}
	if len(f.out.Sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(f.out.Sent))
	}
	if d := f.digestState(t); d.MessageID != f.out.Sent[0].ID {
		t.Errorf("message id %q not restamped to the new message", d.MessageID)
	}
}

func TestRunSendsNewWhenNoPriorMessage(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("First check-in."))

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.out.Sent) != 1 || len(f.out.Edited) != 0 {
		t.Fatalf("sent=%d edited=%d, want a fresh send", len(f.out.Sent), len(f.out.Edited))
	}
}

func TestRunEditFailureFallsBackToSend(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("Still two overdue."))
	f.setDigestState(t, state.DigestState{
		MessageID: "msg-gone",
		SentAt:    fixedNow.Add(-time.Hour),
	})
	f.out.EditErr = fmt.Errorf("message to edit not found")

	if err := f.ctl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.out.Sent) != 1 {
		t.Fatalf("fallback send did not happen")
	}
	if d := f.digestState(t); d.MessageID != f.out.Sent[0].ID {
		t.Errorf("message id %q, want the fallback message id", d.MessageID)
	}
}

func TestRunSendFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, "snapshot", textCompletion("Hello."))
	f.out.SendErr = fmt.Errorf("chat unreachable")

	if err := f.ctl.Run(context.Background()); err == nil {
		t.Fatal("expected a delivery error")
	}

	d := f.digestState(t)
	if d.MessageID != "" || !d.SentAt.IsZero() {
		t.Errorf("failed delivery stamped state: %+v", d)
	}
	doc, _ := f.states.Load(context.Background())
	if len(doc.Sessions["123"]) != 0 {
		t.Errorf("failed delivery saved history")
	}
}

func TestRunAgentFailureReturnsError(t *testing.T) {
	f := newFixture(t, "snapshot")
	f.provider.errs = []error{fmt.Errorf("provider down")}

	if err := f.ctl.Run(context.Background()); err == nil {
		t.Fatal("expected the proactive run to fail")
	}
	if len(f.out.Sent) != 0 {
		t.Errorf("failure still sent %d messages", len(f.out.Sent))
	}
}

func TestTouchInteractionStampsClock(t *testing.T) {
	states := state.NewMemoryStore()
	if err := TouchInteraction(context.Background(), states, fixedNow); err != nil {
		t.Fatalf("TouchInteraction: %v", err)
	}
	doc, err := states.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !doc.Digest.LastInteraction.Equal(fixedNow) {
		t.Errorf("LastInteraction = %v, want %v", doc.Digest.LastInteraction, fixedNow)
	}
}
