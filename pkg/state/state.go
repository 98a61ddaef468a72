// Package state persists the bot's cross-restart state as one JSON document:
// per-conversation session histories, the cleanup queue and digest tracking.
// Backends store and load the whole document; callers re-read immediately
// before every mutation and accept last-writer-wins.
package state

import (
	"context"
	"time"
)

// Turn is one text turn of a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CleanupState is the persisted cleanup queue: candidate record ids, the
// drain cursor and the last rebuild time.
type CleanupState struct {
	IDs       []string  `json:"ids,omitempty"`
	Cursor    int       `json:"cursor,omitempty"`
	RebuiltAt time.Time `json:"rebuilt_at,omitempty"`
}

// DigestState tracks the last proactive message for dedup decisions.
type DigestState struct {
	MessageID       string    `json:"message_id,omitempty"`
	SentAt          time.Time `json:"sent_at,omitempty"`
	LastInteraction time.Time `json:"last_interaction,omitempty"`
}

// State is the whole persisted document. Every field tolerates first-run
// absence; the zero value is the documented default.
type State struct {
	Sessions map[string][]Turn `json:"sessions,omitempty"`
	Cleanup  CleanupState      `json:"cleanup,omitempty"`
	Digest   DigestState       `json:"digest,omitempty"`
}

// NewState returns an empty document.
func NewState() *State {
	return &State{Sessions: make(map[string][]Turn)}
}

// SessionHistory returns a copy of one conversation's turns.
func (s *State) SessionHistory(convID string) []Turn {
	return append([]Turn(nil), s.Sessions[convID]...)
}

// AppendTurns appends turns to a conversation and trims the history to
// maxTurns, dropping the oldest first.
func (s *State) AppendTurns(convID string, maxTurns int, turns ...Turn) {
	if s.Sessions == nil {
		s.Sessions = make(map[string][]Turn)
	}
	history := append(s.Sessions[convID], turns...)
	if maxTurns > 0 && len(history) > maxTurns {
		history = append([]Turn(nil), history[len(history)-maxTurns:]...)
	}
	s.Sessions[convID] = history
}

// Exhausted reports whether the drain cursor has passed the queue end.
func (c *CleanupState) Exhausted() bool {
	return c.Cursor >= len(c.IDs)
}

// Contains reports whether id is still queued.
func (c *CleanupState) Contains(id string) bool {
	for _, queued := range c.IDs {
		if queued == id {
			return true
		}
	}
	return false
}

// Remove deletes id from the queue, keeping the cursor pointed at the same
// next element. It reports whether the id was present.
func (c *CleanupState) Remove(id string) bool {
	for i, queued := range c.IDs {
		if queued != id {
			continue
		}
		c.IDs = append(c.IDs[:i], c.IDs[i+1:]...)
		if i < c.Cursor && c.Cursor > 0 {
			c.Cursor--
		}
		return true
	}
	return false
}

// MoveToEnd rotates id to the back of the queue so it resurfaces after the
// rest. It reports whether the id was present.
func (c *CleanupState) MoveToEnd(id string) bool {
	if !c.Remove(id) {
		return false
	}
	c.IDs = append(c.IDs, id)
	return true
}

// Store persists the whole state document.
type Store interface {
	// Load reads the current document; a missing document yields an empty
	// state, never an error.
	Load(ctx context.Context) (*State, error)

	// Save writes the whole document.
	Save(ctx context.Context, st *State) error
}

// Update is the read-modify-write helper: it reloads the document, applies
// fn and saves the result.
func Update(ctx context.Context, store Store, fn func(*State) error) error {
	st, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return store.Save(ctx, st)
}
