package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strategy.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d, want 3", cfg.Strategy.MaxRounds)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("Provider = %q", cfg.LLM.Provider)
	}
	if _, ok := cfg.Datasets["defects4j"]; !ok {
		t.Error("defects4j dataset missing from defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	content := `
strategy:
  max_rounds: 5
llm:
  provider: deepseek
limits:
  output_reserve: 2048
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strategy.MaxRounds != 5 {
		t.Errorf("MaxRounds = %d, want 5", cfg.Strategy.MaxRounds)
	}
	if cfg.LLM.Provider != "deepseek" {
		t.Errorf("Provider = %q, want deepseek", cfg.LLM.Provider)
	}
	if cfg.Limits.OutputReserve != 2048 {
		t.Errorf("OutputReserve = %d, want 2048", cfg.Limits.OutputReserve)
	}
	// Untouched sections keep their defaults.
	if cfg.Graph.CLICommand != "joern" {
		t.Errorf("CLICommand = %q", cfg.Graph.CLICommand)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("strategy: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML should error")
	}
}

func TestLoadClampsInvalidRounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("strategy:\n  max_rounds: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy.MaxRounds != 3 {
		t.Errorf("invalid round count should fall back to 3, got %d", cfg.Strategy.MaxRounds)
	}
}
