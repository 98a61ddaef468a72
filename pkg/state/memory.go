package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore holds the document in memory for tests. Load returns a deep
// copy so mutations stay invisible until saved, matching the durable
// backends.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte

	SaveCalls int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return NewState(), nil
	}
	st := NewState()
	if err := json.Unmarshal(m.data, st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if st.Sessions == nil {
		st.Sessions = make(map[string][]Turn)
	}
	return st, nil
}

func (m *MemoryStore) Save(_ context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.SaveCalls++
	return nil
}
