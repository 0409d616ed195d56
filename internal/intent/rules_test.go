package intent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const extraRules = `
rules:
  - intent: command_execution
    keywords: ["кластер"]
    patterns: ['^/k8s\s+\w+']
`

func writeRules(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeRules(t, t.TempDir(), extraRules)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Intent != CommandExecution {
		t.Fatalf("rules = %+v", rules)
	}
	if rules[0].Keywords[0] != "кластер" {
		t.Errorf("keyword = %q", rules[0].Keywords[0])
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"yaml":    "rules: [",
		"intent":  "rules:\n  - intent: flying\n",
		"pattern": "rules:\n  - intent: general_chat\n    patterns: ['(']\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeRules(t, dir, content)
			if _, err := LoadRules(path); err == nil {
				t.Error("LoadRules() error = nil, want error")
			}
		})
	}
}

func TestRuleWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	c := NewDefault()
	w := NewRuleWatcher(path, c)

	// Missing file keeps defaults.
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload without file: %v", err)
	}
	if got := c.Classify("/k8s pods"); got.Intent == CommandExecution {
		t.Fatalf("custom rule active before file exists: %+v", got)
	}

	writeRules(t, dir, extraRules)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := c.Classify("/k8s pods"); got.Intent != CommandExecution {
		t.Errorf("Classify after reload = %+v, want command_execution", got)
	}
	// Defaults are still present.
	if got := c.Classify("привет!"); got.Intent != GeneralChat {
		t.Errorf("default rule lost after reload: %+v", got)
	}
}

func TestRuleWatcher_BadFileKeepsRules(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, extraRules)
	c := NewDefault()
	w := NewRuleWatcher(path, c)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	writeRules(t, dir, "rules: [")
	if err := w.Reload(); err == nil {
		t.Fatal("Reload of broken file error = nil")
	}
	if got := c.Classify("/k8s pods"); got.Intent != CommandExecution {
		t.Errorf("rules changed after failed reload: %+v", got)
	}
}

func TestRuleWatcher_PicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	c := NewDefault()
	w := NewRuleWatcher(path, c)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	initial := w.Reloads()
	writeRules(t, dir, extraRules)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Reloads() > initial && c.Classify("/k8s pods").Intent == CommandExecution {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher did not reload rules after write")
}
