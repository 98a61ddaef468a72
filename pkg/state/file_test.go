package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreFirstRunEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "data", "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	if len(st.Sessions) != 0 || len(st.Cleanup.IDs) != 0 || st.Digest.MessageID != "" {
		t.Errorf("expected empty first-run state, got %+v", st)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	rebuilt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := NewState()
	st.AppendTurns("chat", 8, Turn{Role: "user", Content: "add milk"})
	st.Cleanup = CleanupState{IDs: []string{"rec-1", "rec-2"}, Cursor: 1, RebuiltAt: rebuilt}
	st.Digest = DigestState{MessageID: "42", SentAt: rebuilt, LastInteraction: rebuilt.Add(time.Hour)}

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := loaded.SessionHistory("chat"); len(got) != 1 || got[0].Content != "add milk" {
		t.Errorf("session did not survive round trip: %+v", got)
	}
	if loaded.Cleanup.Cursor != 1 || len(loaded.Cleanup.IDs) != 2 {
		t.Errorf("cleanup queue did not survive round trip: %+v", loaded.Cleanup)
	}
	if !loaded.Cleanup.RebuiltAt.Equal(rebuilt) {
		t.Errorf("rebuilt time mismatch: %v", loaded.Cleanup.RebuiltAt)
	}
	if loaded.Digest.MessageID != "42" || !loaded.Digest.LastInteraction.Equal(rebuilt.Add(time.Hour)) {
		t.Errorf("digest state did not survive round trip: %+v", loaded.Digest)
	}
}

func TestFileStoreSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, NewState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Errorf("expected only state.json left behind, got %v", entries)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected state file mode 0600, got %o", perm)
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if _, err := store.Load(context.Background()); err == nil {
		t.Error("expected error for corrupt state file")
	}
}
