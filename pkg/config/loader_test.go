package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadirpekel/nestor/pkg/config/provider"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nestor.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfigFile(t, `
name: test-deployment
llms:
  main:
    provider: anthropic
    model: claude-sonnet-4-20250514
    api_key: test-key
supervisor:
  llm: main
  max_iterations: 10
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "test-deployment" {
		t.Errorf("Name = %q, want test-deployment", cfg.Name)
	}
	if cfg.Supervisor.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Supervisor.MaxIterations)
	}
	// Defaults fill in what the file leaves out
	if cfg.Supervisor.SummaryBudget != 4000 {
		t.Errorf("SummaryBudget = %d, want 4000", cfg.Supervisor.SummaryBudget)
	}
}

func TestLoader_Load_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/nestor.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoader_Load_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "llms:\n  - broken: [unclosed\n")

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoader_Load_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
llms:
  main:
    provider: anthropic
    api_key: test-key
supervisor:
  llm: missing-llm
`)

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected validation error for unresolved llm reference")
	}
}

func TestLoader_Load_EnvExpansion(t *testing.T) {
	t.Setenv("NESTOR_TEST_KEY", "secret-key-123")

	path := writeConfigFile(t, `
llms:
  main:
    provider: anthropic
    api_key: ${NESTOR_TEST_KEY}
supervisor:
  llm: main
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.LLMs["main"].APIKey != "secret-key-123" {
		t.Errorf("APIKey = %q, want secret-key-123", cfg.LLMs["main"].APIKey)
	}
}

func TestLoader_Load_EnvExpansion_Default(t *testing.T) {
	os.Unsetenv("NESTOR_UNSET_VAR")

	path := writeConfigFile(t, `
llms:
  main:
    provider: anthropic
    api_key: ${NESTOR_UNSET_VAR:-fallback-key}
supervisor:
  llm: main
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.LLMs["main"].APIKey != "fallback-key" {
		t.Errorf("APIKey = %q, want fallback-key", cfg.LLMs["main"].APIKey)
	}
}

func TestLoader_Load_DurationStrings(t *testing.T) {
	path := writeConfigFile(t, `
llms:
  main:
    provider: anthropic
    api_key: test-key
supervisor:
  llm: main
  oracle_timeout: 90s
  worker_timeout: 4m
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Supervisor.OracleTimeout != 90*time.Second {
		t.Errorf("OracleTimeout = %v, want 90s", cfg.Supervisor.OracleTimeout)
	}
	if cfg.Supervisor.WorkerTimeout != 4*time.Minute {
		t.Errorf("WorkerTimeout = %v, want 4m", cfg.Supervisor.WorkerTimeout)
	}
}

func TestLoader_Watch(t *testing.T) {
	path := writeConfigFile(t, `
name: initial
llms:
  main:
    provider: anthropic
    api_key: test-key
supervisor:
  llm: main
`)

	var reloads atomic.Int32
	p, err := provider.NewFileProvider(path)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	loader := NewLoader(p, WithOnChange(func(cfg *Config) {
		reloads.Add(1)
	}))
	defer loader.Close()

	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Name != "initial" {
		t.Errorf("Name = %q, want initial", cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- loader.Watch(ctx)
	}()

	// Give the watcher a moment to register
	time.Sleep(200 * time.Millisecond)

	updated := `
name: updated
llms:
  main:
    provider: anthropic
    api_key: test-key
supervisor:
  llm: main
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Error("expected reload to be triggered")
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Error("Watch did not return after cancellation")
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("NESTOR_EXPAND_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"${NESTOR_EXPAND_A}", "alpha"},
		{"$NESTOR_EXPAND_A", "alpha"},
		{"prefix-${NESTOR_EXPAND_A}-suffix", "prefix-alpha-suffix"},
		{"${NESTOR_EXPAND_MISSING:-beta}", "beta"},
		{"${NESTOR_EXPAND_MISSING}", ""},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		if got := expandEnvString(tt.in); got != tt.want {
			t.Errorf("expandEnvString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBytes_JSON(t *testing.T) {
	parsed, err := parseBytes([]byte(`{"name": "from-json"}`))
	if err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if parsed["name"] != "from-json" {
		t.Errorf("name = %v, want from-json", parsed["name"])
	}
}
