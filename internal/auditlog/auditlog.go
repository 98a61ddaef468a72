// Package auditlog persists one JSON line per user-visible interaction so
// /logs can answer what the agent just did and why.
package auditlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
)

// Interaction kinds.
const (
	KindChat      = "chat"
	KindProactive = "proactive"
	KindCleanup   = "cleanup"
	KindCallback  = "callback"
)

const (
	maxFileBytes  = 5 * 1024 * 1024
	maxReplyRunes = 500
)

// Entry is one logged interaction. Reply is capped at 500 runes on write.
type Entry struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"ts"`
	Kind       string           `json:"kind"`
	UserText   string           `json:"user_message"`
	Reply      string           `json:"reply,omitempty"`
	Steps      []agent.ToolStep `json:"steps,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// Logger appends entries to a JSONL file, rotating once it crosses 5 MiB.
type Logger struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	now      func() time.Time
}

// New prepares the log directory. The file itself appears on first write.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Logger{path: path, maxBytes: maxFileBytes, now: time.Now}, nil
}

// Record writes one entry, filling in id and timestamp when absent.
// Failures are logged and swallowed; the audit trail never blocks an
// interaction.
func (l *Logger) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if runes := []rune(e.Reply); len(runes) > maxReplyRunes {
		e.Reply = string(runes[:maxReplyRunes])
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Audit] marshal entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotateLocked()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		log.Printf("[Audit] open log: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("[Audit] write entry: %v", err)
	}
}

// rotateLocked keeps the newer half of the file's lines once the size cap
// is crossed.
func (l *Logger) rotateLocked() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() <= l.maxBytes {
		return
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		log.Printf("[Audit] rotate read: %v", err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	kept := lines[len(lines)/2:]
	if err := os.WriteFile(l.path, []byte(strings.Join(kept, "\n")+"\n"), 0o600); err != nil {
		log.Printf("[Audit] rotate write: %v", err)
		return
	}
	log.Printf("[Audit] rotated log, kept %d of %d lines", len(kept), len(lines))
}

// Tail returns the newest n entries, oldest first. A missing file is an
// empty log; unparseable lines are skipped.
func (l *Logger) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
