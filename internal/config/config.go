package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full settings tree loaded from configs/settings.yaml.
// It is constructed once at process start and passed to component
// constructors explicitly; nothing reads it through package state.
type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Strategy StrategyConfig `yaml:"strategy"`
	LLM      LLMConfig      `yaml:"llm"`
	Limits   LimitsConfig   `yaml:"limits"`
	Graph    GraphConfig    `yaml:"graph"`
	Datasets DatasetsConfig `yaml:"datasets"`
}

// ProjectConfig holds workspace paths.
type ProjectConfig struct {
	WorkspaceRoot string `yaml:"workspace_root"`
	OutputDir     string `yaml:"output_dir"`
}

// StrategyConfig controls the repair loop.
type StrategyConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

// LLMConfig selects and parameterizes completion providers.
type LLMConfig struct {
	Provider       string                 `yaml:"provider"`
	APIProviders   map[string]APIProvider `yaml:"api_providers"`
	LocalProviders LocalProviders         `yaml:"local_providers"`
	Retry          RetryConfig            `yaml:"retry"`
}

// APIProvider describes one hosted completion endpoint.
type APIProvider struct {
	ModelName   string  `yaml:"model_name"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

// LocalProviders holds local-inference services.
type LocalProviders struct {
	Ollama OllamaConfig `yaml:"ollama"`
}

// OllamaConfig describes a local Ollama endpoint. Models maps CLI aliases
// (e.g. "qwen_32b") to full model tags.
type OllamaConfig struct {
	BaseURL     string            `yaml:"base_url"`
	Models      map[string]string `yaml:"models"`
	Temperature float64           `yaml:"temperature"`
}

// RetryConfig parameterizes the completion retry policy.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BaseDelaySecs float64 `yaml:"base_delay_secs"`
	Factor        float64 `yaml:"backoff_factor"`
}

// LimitsConfig holds the token-budget tables.
type LimitsConfig struct {
	OutputReserve int            `yaml:"output_reserve"`
	DefaultWindow int            `yaml:"default_window"`
	ModelWindows  map[string]int `yaml:"model_windows"`
}

// GraphConfig configures the external graph-query engine.
type GraphConfig struct {
	CLICommand        string       `yaml:"cli_command"`
	JavaOpts          string       `yaml:"java_opts"`
	ScriptTimeoutSecs int          `yaml:"script_timeout_secs"`
	Scripts           GraphScripts `yaml:"scripts"`
}

// GraphScripts holds the query script identifiers.
type GraphScripts struct {
	DataDep    string `yaml:"data_dep_slice"`
	ControlDep string `yaml:"control_dep_slice"`
	Structure  string `yaml:"ast_structure"`
}

// DatasetsConfig keys dataset families to their sandbox settings.
type DatasetsConfig map[string]DatasetConfig

// DatasetConfig describes how one dataset family is built and tested.
type DatasetConfig struct {
	Image      string `yaml:"image"`
	CompileCmd string `yaml:"compile_cmd"`
	TestCmd    string `yaml:"test_cmd"`
	WorkDir    string `yaml:"work_dir"`
}

// Default returns the built-in configuration used when no settings file exists.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			WorkspaceRoot: "./data/workspace",
			OutputDir:     "./data/outputs",
		},
		Strategy: StrategyConfig{MaxRounds: 3},
		LLM: LLMConfig{
			Provider: "openai",
			APIProviders: map[string]APIProvider{
				"openai": {
					ModelName: "gpt-3.5-turbo",
					BaseURL:   "https://api.openai.com/v1",
					APIKeyEnv: "OPENAI_API_KEY",
				},
				"deepseek": {
					ModelName: "deepseek-chat",
					BaseURL:   "https://api.deepseek.com/v1",
					APIKeyEnv: "DEEPSEEK_API_KEY",
				},
				"google": {
					ModelName: "gemini-2.0-flash",
					BaseURL:   "https://generativelanguage.googleapis.com/v1beta/models",
					APIKeyEnv: "GEMINI_API_KEY",
				},
			},
			LocalProviders: LocalProviders{
				Ollama: OllamaConfig{
					BaseURL: "http://localhost:11434",
					Models:  map[string]string{},
				},
			},
			Retry: RetryConfig{MaxAttempts: 5, BaseDelaySecs: 1.0, Factor: 2.0},
		},
		Limits: LimitsConfig{
			OutputReserve: 1024,
			DefaultWindow: 4096,
			ModelWindows: map[string]int{
				"gpt-3.5-turbo":    10000,
				"gemini-2.0-flash": 10000,
				"deepseek-chat":    12000,
				"qwen2.5-coder":    12000,
				"llama3":           8000,
			},
		},
		Graph: GraphConfig{
			CLICommand:        "joern",
			JavaOpts:          "-Xmx8g",
			ScriptTimeoutSecs: 300,
			Scripts: GraphScripts{
				DataDep:    "scripts/data_dependency.sc",
				ControlDep: "scripts/control_dependency.sc",
				Structure:  "scripts/ast_structure.sc",
			},
		},
		Datasets: DatasetsConfig{
			"defects4j": {
				Image:      "defects4j-env",
				CompileCmd: "defects4j compile",
				TestCmd:    "defects4j test",
				WorkDir:    "/workspace",
			},
			"quixbugs": {
				Image:   "python:3.9",
				TestCmd: "python3 scripts/run_quixbugs_test.py --bug {bug_id}",
				WorkDir: "/workspace",
			},
		},
	}
}

// Load reads a YAML settings file over the defaults. A missing file is not an
// error; the defaults are returned unchanged. Env vars referenced by
// APIKeyEnv are resolved later, at provider construction.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Strategy.MaxRounds <= 0 {
		cfg.Strategy.MaxRounds = 3
	}
	return cfg, nil
}
