package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/codexec/optimizer"
)

// Loader assembles a Config from defaults, an optional YAML file, and
// environment-variable overrides, in that order.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the default env prefix CODEXEC.
func NewLoader() *Loader {
	return &Loader{envPrefix: "CODEXEC"}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; a malformed one is.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
			}
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := l.lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := l.lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", l.envKey(key), err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := l.lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", l.envKey(key), err))
				return
			}
			*dst = d
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := l.lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", l.envKey(key), err))
				return
			}
			*dst = f
		}
	}

	str("SANDBOX_BACKEND", &cfg.Sandbox.Backend)
	str("SANDBOX_INTERPRETER", &cfg.Sandbox.Interpreter)
	duration("SANDBOX_TIMEOUT", &cfg.Sandbox.Timeout)
	duration("SANDBOX_MAX_TIMEOUT", &cfg.Sandbox.MaxTimeout)
	integer("SANDBOX_MEMORY_LIMIT_MB", &cfg.Sandbox.MemoryLimitMB)
	integer("SANDBOX_MAX_MEMORY_MB", &cfg.Sandbox.MaxMemoryMB)
	integer("SANDBOX_CPU_SECONDS", &cfg.Sandbox.CPUSeconds)
	integer("SANDBOX_MAX_OUTPUT_BYTES", &cfg.Sandbox.MaxOutputBytes)
	integer("SANDBOX_MAX_TOOL_CALLS", &cfg.Sandbox.MaxToolCalls)
	integer("SANDBOX_MAX_CONCURRENT", &cfg.Sandbox.MaxConcurrent)

	if v, ok := l.lookup("OPTIMIZER_STRATEGY"); ok {
		cfg.Optimizer.Strategy = optimizer.Strategy(v)
	}
	integer("OPTIMIZER_MAX_OUTPUT_TOKENS", &cfg.Optimizer.MaxOutputTokens)
	integer("OPTIMIZER_SAMPLE_HEAD", &cfg.Optimizer.SampleHead)
	integer("OPTIMIZER_SAMPLE_TAIL", &cfg.Optimizer.SampleTail)

	duration("SESSION_TTL", &cfg.Session.TTL)
	float("SESSION_RATE_RPS", &cfg.Session.RateRPS)
	integer("SESSION_RATE_BURST", &cfg.Session.RateBurst)

	integer("SECURITY_MAX_CODE_BYTES", &cfg.Security.MaxCodeBytes)
	if v, ok := l.lookup("SECURITY_EXTRA_DENIED_GLOBALS"); ok {
		var names []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				names = append(names, s)
			}
		}
		cfg.Security.ExtraDeniedGlobals = names
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l *Loader) envKey(key string) string {
	return l.envPrefix + "_" + key
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envKey(key))
}
