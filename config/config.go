// Package config provides the subsystem configuration: defaults,
// optional YAML file, and environment-variable overrides, applied in
// that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("codexec.yaml").
//	    WithEnvPrefix("CODEXEC").
//	    Load()
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/codexec/optimizer"
)

// Config is the complete subsystem configuration.
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Session   SessionConfig   `yaml:"session"`
	Security  SecurityConfig  `yaml:"security"`
	Log       LogConfig       `yaml:"log"`
}

// SandboxConfig configures execution limits and the isolation backend.
type SandboxConfig struct {
	// Backend selects the isolation mode: "goja" (capability-based
	// interpreter, default) or "process" (OS-level rlimits).
	Backend string `yaml:"backend"`
	// Interpreter is the executable used by the process backend.
	Interpreter string `yaml:"interpreter"`

	Timeout        time.Duration `yaml:"timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	MemoryLimitMB  int           `yaml:"memory_limit_mb"`
	MaxMemoryMB    int           `yaml:"max_memory_mb"`
	CPUSeconds     int           `yaml:"cpu_seconds"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxToolCalls   int           `yaml:"max_tool_calls"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// OptimizerConfig configures post-execution output shaping.
type OptimizerConfig struct {
	Strategy        optimizer.Strategy `yaml:"strategy"`
	MaxOutputTokens int                `yaml:"max_output_tokens"`
	SampleHead      int                `yaml:"sample_head"`
	SampleTail      int                `yaml:"sample_tail"`
}

// SessionConfig configures session lifecycle and per-session limits.
type SessionConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	RateRPS   float64       `yaml:"rate_rps"`
	RateBurst int           `yaml:"rate_burst"`
}

// SecurityConfig configures the static validator.
type SecurityConfig struct {
	MaxCodeBytes       int      `yaml:"max_code_bytes"`
	ExtraDeniedGlobals []string `yaml:"extra_denied_globals"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the documented defaults: 5s timeout, 512MB
// memory ceiling, 1000 max output tokens.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Backend:        "goja",
			Interpreter:    "node",
			Timeout:        5 * time.Second,
			MaxTimeout:     30 * time.Second,
			MemoryLimitMB:  512,
			MaxMemoryMB:    2048,
			CPUSeconds:     5,
			MaxOutputBytes: 1024 * 1024,
			MaxToolCalls:   32,
			MaxConcurrent:  16,
		},
		Optimizer: OptimizerConfig{
			Strategy:        optimizer.StrategyTruncate,
			MaxOutputTokens: 1000,
			SampleHead:      5,
			SampleTail:      5,
		},
		Session: SessionConfig{
			TTL:       30 * time.Minute,
			RateRPS:   0,
			RateBurst: 0,
		},
		Security: SecurityConfig{
			MaxCodeBytes: 256 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks configured bounds.
func (c *Config) Validate() error {
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.Timeout > c.Sandbox.MaxTimeout {
		return fmt.Errorf("sandbox.timeout %v exceeds max_timeout %v", c.Sandbox.Timeout, c.Sandbox.MaxTimeout)
	}
	if c.Sandbox.MemoryLimitMB <= 0 {
		return fmt.Errorf("sandbox.memory_limit_mb must be positive")
	}
	if c.Sandbox.MemoryLimitMB > c.Sandbox.MaxMemoryMB {
		return fmt.Errorf("sandbox.memory_limit_mb %d exceeds max_memory_mb %d", c.Sandbox.MemoryLimitMB, c.Sandbox.MaxMemoryMB)
	}
	switch c.Sandbox.Backend {
	case "goja", "process":
	default:
		return fmt.Errorf("sandbox.backend must be goja or process, got %q", c.Sandbox.Backend)
	}
	switch c.Optimizer.Strategy {
	case optimizer.StrategyTruncate, optimizer.StrategySample, optimizer.StrategySummarize:
	default:
		return fmt.Errorf("optimizer.strategy must be truncate, sample, or summarize, got %q", c.Optimizer.Strategy)
	}
	if c.Optimizer.MaxOutputTokens <= 0 {
		return fmt.Errorf("optimizer.max_output_tokens must be positive")
	}
	return nil
}
