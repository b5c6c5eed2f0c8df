// Package config loads oasgen settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "oasgen.yaml"

type Config struct {
	Input struct {
		Dir         string   `yaml:"dir"`
		Ignore      []string `yaml:"ignore"`
		ExtractHTML bool     `yaml:"extract_html"`
	} `yaml:"input"`
	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`
	Generator struct {
		Provider    string   `yaml:"provider"`
		Model       string   `yaml:"model"`
		APIKey      string   `yaml:"api_key"`
		BaseURL     string   `yaml:"base_url"`
		Temperature *float64 `yaml:"temperature"` // nil keeps the backend default
		MaxTokens   int      `yaml:"max_tokens"`
		Timeout     Duration `yaml:"timeout"`
		Concurrency int      `yaml:"concurrency"`
	} `yaml:"generator"`
	Validation struct {
		Schema    string `yaml:"schema"`    // path to the OpenAPI JSON Schema document
		Structure bool   `yaml:"structure"` // run the OpenAPI structural validator too
	} `yaml:"validation"`
	Scoring struct {
		Backend  string   `yaml:"backend"` // exec | oastools
		ToolPath string   `yaml:"tool_path"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"scoring"`
	Pipeline struct {
		Workers     int    `yaml:"workers"`
		Incremental bool   `yaml:"incremental"`
		Report      string `yaml:"report"`
	} `yaml:"pipeline"`
	Storage struct {
		DB string `yaml:"db"`
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Prompt struct {
		Instruction string `yaml:"instruction"`
	} `yaml:"prompt"`
}

// Duration accepts Go duration strings ("90s", "2m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Input.Dir = "data/raw"
	cfg.Output.Dir = "generated"
	cfg.Generator.Provider = "gemini"
	temperature := 0.1
	cfg.Generator.Temperature = &temperature
	cfg.Generator.MaxTokens = 4096
	cfg.Generator.Timeout = Duration(5 * time.Minute)
	cfg.Generator.Concurrency = 1
	cfg.Scoring.Backend = "exec"
	cfg.Scoring.ToolPath = "oasdiff"
	cfg.Scoring.Timeout = Duration(2 * time.Minute)
	cfg.Pipeline.Workers = 1
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// LoadConfig reads path over the defaults. A missing file is not an error.
// Environment variables (after .env is loaded) take precedence over the file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OASGEN_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("OASGEN_PROVIDER"); v != "" {
		cfg.Generator.Provider = v
	}
	if v := os.Getenv("OASGEN_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := os.Getenv("OASGEN_BASE_URL"); v != "" {
		cfg.Generator.BaseURL = v
	}
	if v := os.Getenv("OASGEN_DIFF_TOOL"); v != "" {
		cfg.Scoring.ToolPath = v
	}
}
