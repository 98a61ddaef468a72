// Package agent drives the bounded tool-calling loop: it feeds the session
// history and tool schemas to the completion provider, executes requested
// tools against the task store, and carries a confirmation side channel for
// state changes that need a user tap before they apply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nudgebot-dev/nudgebot/internal/tracing"
	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/observability"
)

// Mode selects the instruction prefix for a run.
type Mode string

const (
	ModeChat      Mode = "chat"
	ModeProactive Mode = "proactive"
)

// exhaustedFallback is returned when the round budget runs out without any
// free text to show.
const exhaustedFallback = "I hit the processing limit before finishing. Please try again."

// ToolStep is one executed invocation, recorded for the audit log.
type ToolStep struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of one run.
type Result struct {
	Text         string
	Confirmation *PendingAction
	Rounds       int
	Steps        []ToolStep
}

// Options bound the loop. Zero values fall back to the documented defaults;
// MaxTokens and Temperature pass through to the provider as given.
type Options struct {
	MaxRounds   int           // default 5
	Concurrency int           // default 3
	Timeout     time.Duration // per completion call, default 30s
	MaxTokens   int
	Temperature float64
	Location    *time.Location
}

// Loop runs the agent over a provider and a tool dispatcher.
type Loop struct {
	provider llm.Provider
	tools    *Dispatcher
	opts     Options
	now      func() time.Time
}

// NewLoop builds a loop with defaults applied.
func NewLoop(provider llm.Provider, tools *Dispatcher, opts Options) *Loop {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loop{provider: provider, tools: tools, opts: opts, now: time.Now}
}

// Run drives completion rounds until the model answers with plain text or
// the round budget is exhausted. history must already include the inbound
// user turn. A completion failure or timeout fails the whole run; individual
// tool failures never do.
func (l *Loop) Run(ctx context.Context, mode Mode, history []llm.Message) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.run", map[string]any{"mode": string(mode)})
	defer span.End()

	started := l.now()
	result, err := l.run(ctx, mode, history)
	elapsed := l.now().Sub(started)

	status := "ok"
	if err != nil {
		status = "error"
		span.SetError(err)
	}
	observability.RecordAgentRun(string(mode), status, elapsed)
	return result, err
}

func (l *Loop) run(ctx context.Context, mode Mode, history []llm.Message) (*Result, error) {
	system := ChatSystemPrompt(l.now().In(l.opts.Location))
	if mode == ModeProactive {
		system = ProactiveSystemPrompt(l.now().In(l.opts.Location))
	}

	messages := append([]llm.Message(nil), history...)
	var accumulated []string
	var confirmation *PendingAction
	var steps []ToolStep

	for round := 1; round <= l.opts.MaxRounds; round++ {
		completion, err := l.complete(ctx, system, messages)
		if err != nil {
			return nil, fmt.Errorf("completion round %d: %w", round, err)
		}

		roundText := completion.Text()
		if roundText != "" {
			accumulated = append(accumulated, roundText)
		}

		uses := completion.ToolUses()
		if len(uses) == 0 {
			return &Result{Text: roundText, Confirmation: confirmation, Rounds: round, Steps: steps}, nil
		}

		for _, use := range uses {
			if KindForName(use.Name) != ToolRequestConfirmation {
				continue
			}
			payload, err := parseConfirmation(use.Input)
			if err != nil {
				log.Printf("[Agent] bad confirmation payload: %v", err)
				continue
			}
			confirmation = payload
		}

		results, roundSteps := l.executeTools(ctx, uses)
		steps = append(steps, roundSteps...)

		messages = append(messages,
			llm.Message{Role: "assistant", Content: completion.Blocks},
			llm.ToolResultMessage(results...),
		)
	}

	log.Printf("[Agent] round budget exhausted after %d rounds", l.opts.MaxRounds)
	text := strings.Join(accumulated, "\n")
	if strings.TrimSpace(text) == "" {
		text = exhaustedFallback
	}
	return &Result{Text: text, Confirmation: confirmation, Rounds: l.opts.MaxRounds, Steps: steps}, nil
}

func (l *Loop) complete(ctx context.Context, system string, messages []llm.Message) (*llm.Completion, error) {
	cctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	return l.provider.Complete(cctx, llm.Request{
		System:      system,
		Messages:    messages,
		Tools:       l.tools.Definitions(),
		MaxTokens:   l.opts.MaxTokens,
		Temperature: l.opts.Temperature,
	})
}

// executeTools runs one round's invocations concurrently, bounded by the
// concurrency cap. Every invocation yields exactly one result block; a
// failure becomes an error envelope and never cancels its siblings.
func (l *Loop) executeTools(ctx context.Context, uses []llm.ContentBlock) ([]llm.ContentBlock, []ToolStep) {
	results := make([]llm.ContentBlock, len(uses))
	steps := make([]ToolStep, len(uses))

	g := new(errgroup.Group)
	g.SetLimit(l.opts.Concurrency)
	for i, use := range uses {
		g.Go(func() error {
			results[i], steps[i] = l.executeTool(ctx, use)
			return nil
		})
	}
	_ = g.Wait()

	return results, steps
}

func (l *Loop) executeTool(ctx context.Context, use llm.ContentBlock) (llm.ContentBlock, ToolStep) {
	out, err := l.tools.Dispatch(ctx, use.Name, use.Input)
	if err != nil {
		log.Printf("[Agent] tool %s failed: %v", use.Name, err)
		observability.RecordToolCall(use.Name, "error")
		return llm.ToolResultBlock(use.ID, err.Error(), true), ToolStep{Name: use.Name, Error: err.Error()}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		log.Printf("[Agent] tool %s result not serializable: %v", use.Name, err)
		observability.RecordToolCall(use.Name, "error")
		return llm.ToolResultBlock(use.ID, fmt.Sprintf("marshal result: %v", err), true), ToolStep{Name: use.Name, Error: err.Error()}
	}

	observability.RecordToolCall(use.Name, "ok")
	return llm.ToolResultBlock(use.ID, string(payload), false), ToolStep{Name: use.Name, OK: true}
}

func parseConfirmation(input json.RawMessage) (*PendingAction, error) {
	var action PendingAction
	if err := json.Unmarshal(input, &action); err != nil {
		return nil, fmt.Errorf("unmarshal confirmation payload: %w", err)
	}
	if action.TaskID == "" || action.NewStatus == "" {
		return nil, fmt.Errorf("confirmation payload missing task_id or new_status")
	}
	return &action, nil
}
