package agent

import (
	"strconv"
	"sync"
)

// PendingAction is one state change awaiting a confirmation tap.
type PendingAction struct {
	TaskID    string `json:"task_id"`
	NewStatus string `json:"new_status"`
	Summary   string `json:"summary"`
}

// PendingRegistry maps short opaque keys to pending actions. Entries live in
// memory only; a restart drops them. Keys come from a monotonic counter so
// duplicate actions coexist under distinct keys.
type PendingRegistry struct {
	mu      sync.Mutex
	next    int64
	actions map[string]PendingAction
}

// NewPendingRegistry returns an empty registry.
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{actions: make(map[string]PendingAction)}
}

// Register stores the action and returns its key.
func (r *PendingRegistry) Register(action PendingAction) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key := strconv.FormatInt(r.next, 10)
	r.actions[key] = action
	return key
}

// Resolve pops the action for key. Exactly one caller observes ok=true; any
// later resolution of the same key observes ok=false.
func (r *PendingRegistry) Resolve(key string) (PendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	action, ok := r.actions[key]
	if ok {
		delete(r.actions, key)
	}
	return action, ok
}

// Len reports the number of live entries.
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}
