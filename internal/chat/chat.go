// Package chat declares the outbound messaging surface the proactive
// paths share. The Telegram transport in internal/bot satisfies Transport;
// tests use Recorder.
package chat

import "context"

// Button is one inline keyboard entry. Data comes back verbatim in the
// button's callback query.
type Button struct {
	Label string
	Data  string
}

// Transport delivers messages to the user's chat.
type Transport interface {
	// Send posts a message, optionally with inline buttons, and returns
	// the transport's message id.
	Send(ctx context.Context, text string, buttons [][]Button) (string, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, messageID, text string) error
}
