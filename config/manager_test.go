package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg := mgr.Get()
	cfg.CollectDelayMs = 0
	cfg.WebhookURL = "http://localhost:9999/hook"

	data, _ := json.Marshal(cfg)
	if err := mgr.UpdateFromJSON(string(data)); err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}

	updated := mgr.Get()
	if updated.WebhookURL != cfg.WebhookURL || updated.CollectDelayMs != 0 {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	cfg.MaxNegotiationRounds = 7
	if err := mgr.Update(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	if mgr.Get().MaxNegotiationRounds != 3 {
		t.Fatalf("invalid config was applied")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	if err := mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg := mgr.Get()
	cfg.RoundDelayMs = 42

	if err := writeConfigFile(mgr.Path(), cfg); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.RoundDelayMs != 42 {
			t.Fatalf("reloaded round delay = %d", got.RoundDelayMs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
}

func TestNewManagerLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	onDisk := *DefaultConfigWithRoot(dir)
	onDisk.RoundDelayMs = 17
	onDisk.PaymentTerms = "Net 15 days"
	if err := writeConfigFile(filepath.Join(dir, "config.json"), onDisk); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}

	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := mgr.Get()
	if got.RoundDelayMs != 17 || got.PaymentTerms != "Net 15 days" {
		t.Fatalf("file on disk not loaded: %+v", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := loadConfigFromFile(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}

	garbled := filepath.Join(dir, "garbled.json")
	if err := os.WriteFile(garbled, []byte(`{"llm_provider":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFromFile(garbled); err == nil {
		t.Fatalf("expected decode error")
	}

	invalid := *DefaultConfigWithRoot(dir)
	invalid.MaxNegotiationRounds = 8
	invalidPath := filepath.Join(dir, "invalid.json")
	if err := writeConfigFile(invalidPath, invalid); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFromFile(invalidPath); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewManager(WithConfigPath(invalidPath)); err == nil {
		t.Fatalf("NewManager accepted an invalid file")
	}
}

func TestWithConfigPathOverridesDir(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "nested", "caremesh.json")

	mgr, err := NewManager(WithConfigPath(explicit), WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if mgr.Path() != explicit {
		t.Fatalf("path = %s", mgr.Path())
	}
	if _, err := os.Stat(explicit); err != nil {
		t.Fatalf("config not written to explicit path: %v", err)
	}
}

func TestManagerWatchSkipsInvalidEdits(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)), WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	if err := mgr.Watch(ctx, func(cfg Config) { reloaded <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	bad := mgr.Get()
	bad.MaxNegotiationRounds = 0
	if err := writeConfigFile(mgr.Path(), bad); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-reloaded:
		t.Fatalf("invalid edit applied: %+v", got)
	case <-time.After(300 * time.Millisecond):
	}
	if mgr.Get().MaxNegotiationRounds != 3 {
		t.Fatalf("in-memory config changed by an invalid edit")
	}

	good := mgr.Get()
	good.MaxNegotiationRounds = 2
	if err := writeConfigFile(mgr.Path(), good); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-reloaded:
		if got.MaxNegotiationRounds != 2 {
			t.Fatalf("reloaded rounds = %d", got.MaxNegotiationRounds)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not pick up the valid edit")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"openai without key", func(c *Config) { c.LLMProvider = "openai" }, false},
		{"deepseek with key", func(c *Config) { c.LLMProvider = "deepseek"; c.DeepSeekAPIKey = "sk-test" }, true},
		{"unknown provider", func(c *Config) { c.LLMProvider = "carrier-pigeon" }, false},
		{"zero rounds", func(c *Config) { c.MaxNegotiationRounds = 0 }, false},
		{"bad tolerance", func(c *Config) { c.PriceTolerance = "abc" }, false},
		{"tolerance of one", func(c *Config) { c.PriceTolerance = "1" }, false},
		{"negative delay", func(c *Config) { c.RoundDelayMs = -1 }, false},
		{"zero ttl", func(c *Config) { c.OfferTTLMin = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfigWithRoot(t.TempDir())
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	t.Setenv("MAX_NEGOTIATION_ROUNDS", "2")
	t.Setenv("EINO_DEBUG_ENABLED", "true")
	t.Setenv("COLLECT_DELAY_MS", "not-a-number")

	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.loadFromEnv()
	if cfg.LLMProvider != "deepseek" || cfg.DeepSeekAPIKey != "sk-env" || cfg.MaxNegotiationRounds != 2 || !cfg.EinoDebugEnabled {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.CollectDelayMs != 300 {
		t.Fatalf("bad int should be ignored, got %d", cfg.CollectDelayMs)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.DeepSeekAPIKey = "sk-1234567890"
	r := cfg.Redacted()
	if r.DeepSeekAPIKey != "sk****90" || cfg.DeepSeekAPIKey != "sk-1234567890" {
		t.Fatalf("redacted = %q", r.DeepSeekAPIKey)
	}
}
