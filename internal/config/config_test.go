package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Confirm.Timeout != 5*time.Minute {
		t.Errorf("Confirm.Timeout = %v, want 5m", cfg.Confirm.Timeout)
	}
	if cfg.Confirm.AutoExecuteThreshold != 0.8 {
		t.Errorf("AutoExecuteThreshold = %v, want 0.8", cfg.Confirm.AutoExecuteThreshold)
	}
	if cfg.Tracing.MaxTraces != 1000 || cfg.Tracing.TTL != 24*time.Hour {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Preference.MinUses != 3 || cfg.Preference.TTL != 720*time.Hour {
		t.Errorf("Preference = %+v", cfg.Preference)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestFileValues(t *testing.T) {
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "confirm.timeout": "90s",
  "confirm.always_confirm": "true",
  "confirm.auto_execute_threshold": 0.6,
  "access.admin_ids": "42, 7",
  "proxy.openrouter_api_key": "ignored"
}`)
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Confirm.Timeout != 90*time.Second || !cfg.Confirm.AlwaysConfirm || cfg.Confirm.AutoExecuteThreshold != 0.6 {
		t.Errorf("Confirm = %+v", cfg.Confirm)
	}
	if !slices.Equal(cfg.Access.AdminIDs, []string{"42", "7"}) {
		t.Errorf("AdminIDs = %v", cfg.Access.AdminIDs)
	}
	if cfg.Proxy.OpenRouterAPIKey != "" {
		t.Error("secret read from config file")
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 5000, "log.level": "warn"}`)
	t.Setenv("SWITCHBOARD_SERVER_PORT", "6000")
	t.Setenv("SWITCHBOARD_OPENROUTER_API_KEY", "env-key")
	t.Setenv("SWITCHBOARD_TRACING_TTL", "2h")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env value 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want file value", cfg.Log.Level)
	}
	if cfg.Proxy.OpenRouterAPIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Proxy.OpenRouterAPIKey)
	}
	if cfg.Tracing.TTL != 2*time.Hour {
		t.Errorf("Tracing.TTL = %v", cfg.Tracing.TTL)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIRM_TIMEOUT", "soon")
	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Confirm.Timeout != 5*time.Minute {
		t.Errorf("Confirm.Timeout = %v, want default", cfg.Confirm.Timeout)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIRM_AUTO_EXECUTE_THRESHOLD", "1.5")
	t.Setenv("SWITCHBOARD_SERVER_PORT", "70000")
	_, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "auto_execute_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "confirm.timeout", "2m"); err != nil {
		t.Fatalf("setKey timeout: %v", err)
	}
	if err := setKey(b, "confirm.timeout", "later"); err == nil {
		t.Error("invalid duration accepted")
	}
	if err := setKey(b, "proxy.openrouter_api_key", "x"); err == nil {
		t.Error("secret accepted")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("unknown key accepted")
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4100 || cfg.Confirm.Timeout != 2*time.Minute {
		t.Errorf("reloaded = port %d, timeout %v", cfg.Server.Port, cfg.Confirm.Timeout)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Proxy.OpenRouterAPIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-secret") || k.Key == "server.api_token" {
			t.Errorf("secret exposed: %+v", k)
		}
	}
	if slices.Contains(ValidKeys(), "proxy.openrouter_api_key") {
		t.Error("secret listed as valid key")
	}
}

func TestConfigFilePath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := configFilePath(); got != filepath.Join("/tmp/xdg", "switchboard", "config.json") {
		t.Errorf("configFilePath = %q", got)
	}
}
