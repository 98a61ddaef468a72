package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nudgebot-dev/nudgebot/internal/chat"
)

// maxMessageRunes stays under Telegram's 4096-character message cap.
const maxMessageRunes = 4000

// sender is the outbound surface the handlers write through. telegramSender
// implements it against the live API; tests substitute a recorder.
type sender interface {
	Send(ctx context.Context, text string, buttons [][]chat.Button) (string, error)
	Edit(ctx context.Context, messageID, text string) error
	Typing(ctx context.Context)
}

// telegramSender delivers to one chat. Messages go out in Markdown and are
// retried as plain text when the parse is rejected.
type telegramSender struct {
	api    *telego.Bot
	chatID int64
}

// NewTransport returns the outbound surface for one Telegram chat. The
// proactive digest and cleanup paths deliver through it.
func NewTransport(api *telego.Bot, chatID int64) chat.Transport {
	return &telegramSender{api: api, chatID: chatID}
}

func (t *telegramSender) Send(ctx context.Context, text string, buttons [][]chat.Button) (string, error) {
	params := tu.Message(tu.ID(t.chatID), truncateRunes(text, maxMessageRunes))
	params.ParseMode = telego.ModeMarkdown
	if kb := inlineKeyboard(buttons); kb != nil {
		params.ReplyMarkup = kb
	}

	msg, err := t.api.SendMessage(ctx, params)
	if err != nil {
		log.Printf("[Bot] markdown send rejected, retrying plain: %v", err)
		params.ParseMode = ""
		msg, err = t.api.SendMessage(ctx, params)
	}
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

func (t *telegramSender) Edit(ctx context.Context, messageID, text string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", messageID, err)
	}

	params := tu.EditMessageText(tu.ID(t.chatID), id, truncateRunes(text, maxMessageRunes))
	params.ParseMode = telego.ModeMarkdown
	if _, err = t.api.EditMessageText(ctx, params); err == nil {
		return nil
	}
	log.Printf("[Bot] markdown edit rejected, retrying plain: %v", err)
	params.ParseMode = ""
	if _, err = t.api.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("edit message %d: %w", id, err)
	}
	return nil
}

func (t *telegramSender) Typing(ctx context.Context) {
	if err := t.api.SendChatAction(ctx, tu.ChatAction(tu.ID(t.chatID), telego.ChatActionTyping)); err != nil {
		log.Printf("[Bot] typing indicator: %v", err)
	}
}

func inlineKeyboard(buttons [][]chat.Button) *telego.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		cells := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			cells = append(cells, tu.InlineKeyboardButton(button.Label).WithCallbackData(button.Data))
		}
		rows = append(rows, tu.InlineKeyboardRow(cells...))
	}
	return tu.InlineKeyboard(rows...)
}

// truncateRunes caps text at max runes, marking the cut with an ellipsis.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
