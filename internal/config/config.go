// Package config loads and validates searchlab configuration.
// Precedence: built-in defaults < .searchlab.yaml < SEARCHLAB_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// Config represents the complete searchlab configuration.
// It is built once at startup and treated as read-only afterwards; no
// component reaches for environment state while a pipeline is running.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Tools     ToolsConfig     `yaml:"tools" json:"tools"`
	Pipeline  PipelineConfig  `yaml:"pipeline" json:"pipeline"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// ToolsConfig selects tool backends and their parameters.
// Backend keys decide which variant registers for each domain; a missing
// prerequisite (API key, binary) makes the domain unavailable rather than
// failing startup.
type ToolsConfig struct {
	Grep     GrepConfig     `yaml:"grep" json:"grep"`
	Find     FindConfig     `yaml:"find" json:"find"`
	Keyword  KeywordConfig  `yaml:"keyword" json:"keyword"`
	Semantic SemanticConfig `yaml:"semantic" json:"semantic"`
	AST      ASTConfig      `yaml:"ast" json:"ast"`
}

// GrepConfig configures the pattern search tool.
type GrepConfig struct {
	// Backend is "regexp" (in-process, default) or "ripgrep" (external rg binary).
	Backend string `yaml:"backend" json:"backend"`
	// Timeout bounds a single invocation. External calls must always carry one.
	Timeout Duration `yaml:"timeout" json:"timeout"`
	// MaxFileSizeKB skips files larger than this (default 1024).
	MaxFileSizeKB int `yaml:"max_file_size_kb" json:"max_file_size_kb"`
}

// FindConfig configures the filesystem discovery tool.
type FindConfig struct {
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// KeywordConfig configures the BM25 keyword search tool.
type KeywordConfig struct {
	TopK      int      `yaml:"topk" json:"topk"`
	CacheSize int      `yaml:"cache_size" json:"cache_size"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// SemanticConfig configures the embedding search tool.
// The domain registers only when APIKey resolves non-empty.
type SemanticConfig struct {
	APIKey  string   `yaml:"api_key" json:"-"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
	Model   string   `yaml:"model" json:"model"`
	TopK    int      `yaml:"topk" json:"topk"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// ASTConfig configures the structural search tool.
type ASTConfig struct {
	Languages []string `yaml:"languages" json:"languages"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// PipelineConfig configures executor behavior.
type PipelineConfig struct {
	// FailFast aborts the run on the first stage failure instead of the
	// default contain-and-continue policy.
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
	// StageTimeout is the default per-stage bound when a stage sets none.
	StageTimeout Duration `yaml:"stage_timeout" json:"stage_timeout"`
}

// StoreConfig configures the experiment ledger.
type StoreConfig struct {
	// Path is the SQLite database path. Empty derives <data_dir>/experiments.db.
	Path string `yaml:"path" json:"path"`
	// TraceDir holds one serialized FlowTrace file per run.
	// Empty derives <data_dir>/traces.
	TraceDir string `yaml:"trace_dir" json:"trace_dir"`
}

// OptimizerConfig configures study execution.
type OptimizerConfig struct {
	// Workers bounds concurrent trials (default 2).
	Workers int `yaml:"workers" json:"workers"`
	// WarmupTrials is the random-sampling window before the surrogate
	// sampler takes over, and the median pruner's minimum observation count.
	WarmupTrials int `yaml:"warmup_trials" json:"warmup_trials"`
	// WarmupSteps is how many intermediate reports a trial is immune to
	// pruning for.
	WarmupSteps int `yaml:"warmup_steps" json:"warmup_steps"`
	// Seed seeds the samplers; 0 means time-based.
	Seed int64 `yaml:"seed" json:"seed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: ".searchlab",
		Logging: LoggingConfig{
			Level: "info",
		},
		Tools: ToolsConfig{
			Grep: GrepConfig{
				Backend:       "regexp",
				Timeout:       Duration(30 * time.Second),
				MaxFileSizeKB: 1024,
			},
			Find: FindConfig{
				Timeout: Duration(30 * time.Second),
			},
			Keyword: KeywordConfig{
				TopK:      50,
				CacheSize: 8,
				Timeout:   Duration(60 * time.Second),
			},
			Semantic: SemanticConfig{
				Model:   "text-embedding-3-large",
				TopK:    50,
				Timeout: Duration(120 * time.Second),
			},
			AST: ASTConfig{
				Languages: []string{"go"},
				Timeout:   Duration(60 * time.Second),
			},
		},
		Pipeline: PipelineConfig{
			FailFast:     false,
			StageTimeout: Duration(2 * time.Minute),
		},
		Optimizer: OptimizerConfig{
			Workers:      2,
			WarmupTrials: 5,
			WarmupSteps:  1,
		},
	}
}

// Load reads configuration for a project directory.
// A missing config file is fine; defaults plus env overrides apply.
func Load(dir string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .searchlab.yaml or .searchlab.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".searchlab.yaml", ".searchlab.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return laberrors.New(laberrors.ErrCodeConfigNotFound,
				fmt.Sprintf("cannot read %s: %v", path, err), err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return laberrors.ConfigError(fmt.Sprintf("invalid yaml in %s: %v", path, err), err)
		}
		return nil
	}
	return nil
}

// applyEnvOverrides applies SEARCHLAB_* environment variables.
// Env vars have the highest precedence.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEARCHLAB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SEARCHLAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SEARCHLAB_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("SEARCHLAB_GREP_BACKEND"); v != "" {
		c.Tools.Grep.Backend = v
	}
	if v := os.Getenv("SEARCHLAB_OPENAI_API_KEY"); v != "" {
		c.Tools.Semantic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Tools.Semantic.APIKey == "" {
		c.Tools.Semantic.APIKey = v
	}
	if v := os.Getenv("SEARCHLAB_OPENAI_BASE_URL"); v != "" {
		c.Tools.Semantic.BaseURL = v
	}
	if v := os.Getenv("SEARCHLAB_EMBEDDING_MODEL"); v != "" {
		c.Tools.Semantic.Model = v
	}
	if v := os.Getenv("SEARCHLAB_FAIL_FAST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.FailFast = b
		}
	}
	if v := os.Getenv("SEARCHLAB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Optimizer.Workers = n
		}
	}
	if v := os.Getenv("SEARCHLAB_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Optimizer.Seed = n
		}
	}
}

// Validate checks the final configuration. Errors here are fatal at
// startup, before any run is attempted.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return laberrors.ConfigError("data_dir must not be empty", nil)
	}
	switch c.Tools.Grep.Backend {
	case "regexp", "ripgrep":
	default:
		return laberrors.ConfigError(
			fmt.Sprintf("unknown grep backend %q (want regexp or ripgrep)", c.Tools.Grep.Backend), nil)
	}
	if c.Tools.Keyword.TopK <= 0 {
		return laberrors.ConfigError("keyword.topk must be positive", nil)
	}
	if c.Tools.Keyword.CacheSize <= 0 {
		return laberrors.ConfigError("keyword.cache_size must be positive", nil)
	}
	if c.Tools.Semantic.TopK <= 0 {
		return laberrors.ConfigError("semantic.topk must be positive", nil)
	}
	if c.Pipeline.StageTimeout <= 0 {
		return laberrors.ConfigError("pipeline.stage_timeout must be positive", nil)
	}
	if c.Optimizer.Workers <= 0 {
		return laberrors.ConfigError("optimizer.workers must be positive", nil)
	}
	if c.Optimizer.WarmupTrials < 0 || c.Optimizer.WarmupSteps < 0 {
		return laberrors.ConfigError("optimizer warmup values must not be negative", nil)
	}
	return nil
}

// StorePath returns the resolved database path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "experiments.db")
}

// TraceDir returns the resolved trace artifact directory.
func (c *Config) TraceDir() string {
	if c.Store.TraceDir != "" {
		return c.Store.TraceDir
	}
	return filepath.Join(c.DataDir, "traces")
}
