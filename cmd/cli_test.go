package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != Version {
		t.Fatalf("version output = %q, want %q", got, Version)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	want := map[string]bool{"run": false, "version": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRunCommandHasConfigFlag(t *testing.T) {
	run := newRunCmd()
	if run.Flags().Lookup("config") == nil {
		t.Fatal("run command has no --config flag")
	}
}

func TestRunBotRejectsIncompleteConfig(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("NOTION_TOKEN", "")
	t.Setenv("NOTION_DATABASE_ID", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	err := runBot(context.Background(), "")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Fatalf("error = %v, want a missing-field validation error", err)
	}
}
