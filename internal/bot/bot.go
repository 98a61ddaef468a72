// Package bot is the Telegram edge of the assistant: it long-polls one
// authorized chat, routes text messages and button taps into the agent,
// pending-action and cleanup paths, and answers the /start, /scan and /logs
// commands. Its transport doubles as the chat.Transport the proactive jobs
// deliver through.
package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
	"github.com/nudgebot-dev/nudgebot/internal/auditlog"
	"github.com/nudgebot-dev/nudgebot/internal/cleanup"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

// defaultScanTimeout bounds a manual /scan run.
const defaultScanTimeout = 2 * time.Minute

// Options wires the bot's collaborators.
type Options struct {
	// ChatID is the one authorized chat; updates from anywhere else are
	// dropped.
	ChatID int64

	Loop    *agent.Loop
	States  state.Store
	Tasks   notion.Store
	Pending *agent.PendingRegistry
	Cleaner *cleanup.Runner
	Audit   *auditlog.Logger // nil disables the audit trail

	// Scan is the manual /scan job, the same digest-then-cleanup sequence
	// the daily schedule runs.
	Scan func(context.Context) error

	// MaxTurns caps each session history, counting user and assistant
	// entries separately. Defaults to 8.
	MaxTurns int
}

// Bot owns the long-polling loop and the update handlers.
type Bot struct {
	api     *telego.Bot
	chatID  int64
	out     sender
	handler *th.BotHandler

	loop    *agent.Loop
	states  state.Store
	tasks   notion.Store
	pending *agent.PendingRegistry
	cleaner *cleanup.Runner
	audit   *auditlog.Logger
	scan    func(context.Context) error

	conversation string
	maxTurns     int
	scanTimeout  time.Duration
	now          func() time.Time
}

// NewAPI builds the underlying Telegram client.
func NewAPI(token string) (*telego.Bot, error) {
	api, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return api, nil
}

// New assembles the bot around an already-created client.
func New(api *telego.Bot, opts Options) *Bot {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 8
	}
	return &Bot{
		api:          api,
		chatID:       opts.ChatID,
		out:          &telegramSender{api: api, chatID: opts.ChatID},
		loop:         opts.Loop,
		states:       opts.States,
		tasks:        opts.Tasks,
		pending:      opts.Pending,
		cleaner:      opts.Cleaner,
		audit:        opts.Audit,
		scan:         opts.Scan,
		conversation: strconv.FormatInt(opts.ChatID, 10),
		maxTurns:     opts.MaxTurns,
		scanTimeout:  defaultScanTimeout,
		now:          time.Now,
	}
}

// Start begins long polling and dispatching updates. It returns once the
// handler loop is running; Stop shuts it down.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	bh, err := th.NewBotHandler(b.api, updates)
	if err != nil {
		return fmt.Errorf("create bot handler: %w", err)
	}
	b.handler = bh

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		if message.Chat.ID == b.chatID {
			b.handleStart(ctx)
		}
		return nil
	}, th.CommandEqual("start"))

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		if message.Chat.ID == b.chatID {
			b.handleScan(ctx)
		}
		return nil
	}, th.CommandEqual("scan"))

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		if message.Chat.ID == b.chatID {
			b.handleLogs(ctx, message.Text)
		}
		return nil
	}, th.CommandEqual("logs"))

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		if message.Chat.ID == b.chatID && message.Text != "" && !strings.HasPrefix(message.Text, "/") {
			b.handleText(ctx, message.Text)
		}
		return nil
	}, th.AnyMessage())

	bh.HandleCallbackQuery(func(ctx *th.Context, query telego.CallbackQuery) error {
		b.handleCallbackQuery(ctx, query)
		return nil
	}, th.AnyCallbackQueryWithMessage())

	log.Printf("[Bot] %s listening on chat %d", b.api.Username(), b.chatID)
	go bh.Start()
	return nil
}

// Stop drains in-flight handlers and stops the dispatch loop.
func (b *Bot) Stop() {
	if b.handler != nil {
		b.handler.Stop()
	}
}

// handleCallbackQuery answers the tap, resolves its payload and rewrites the
// tapped message with the outcome.
func (b *Bot) handleCallbackQuery(ctx context.Context, query telego.CallbackQuery) {
	if err := b.api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		log.Printf("[Bot] answer callback: %v", err)
	}
	if query.Message == nil || query.Message.GetChat().ID != b.chatID {
		return
	}

	ack := b.resolveCallback(ctx, query.Data)
	if ack == "" {
		return
	}
	if err := b.out.Edit(ctx, strconv.Itoa(query.Message.GetMessageID()), ack); err != nil {
		log.Printf("[Bot] rewrite tapped message: %v", err)
		if _, err := b.out.Send(ctx, ack, nil); err != nil {
			log.Printf("[Bot] send callback outcome: %v", err)
		}
	}
}
