package chat

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is an in-memory Transport for tests.
type Recorder struct {
	mu     sync.Mutex
	nextID int

	Sent   []SentMessage
	Edited []EditedMessage

	// When set, the corresponding call fails without recording.
	SendErr error
	EditErr error
}

// SentMessage is one recorded Send call.
type SentMessage struct {
	ID      string
	Text    string
	Buttons [][]Button
}

// EditedMessage is one recorded Edit call.
type EditedMessage struct {
	MessageID string
	Text      string
}

func (r *Recorder) Send(_ context.Context, text string, buttons [][]Button) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return "", r.SendErr
	}
	r.nextID++
	id := fmt.Sprintf("msg-%d", r.nextID)
	r.Sent = append(r.Sent, SentMessage{ID: id, Text: text, Buttons: buttons})
	return id, nil
}

func (r *Recorder) Edit(_ context.Context, messageID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EditErr != nil {
		return r.EditErr
	}
	r.Edited = append(r.Edited, EditedMessage{MessageID: messageID, Text: text})
	return nil
}

// LastSent returns the most recent Send, or nil when nothing was sent.
func (r *Recorder) LastSent() *SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		return nil
	}
	out := r.Sent[len(r.Sent)-1]
	return &out
}
