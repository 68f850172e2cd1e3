package codexec

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/codexec/config"
	"github.com/BaSui01/codexec/sandbox"
	"github.com/BaSui01/codexec/tokenizer"
)

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	config     *config.Config
	logger     *zap.Logger
	backend    sandbox.Backend
	registerer prometheus.Registerer
	tokenizer  tokenizer.Tokenizer
}

// WithConfig supplies a pre-built configuration instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger supplies a logger; without it one is built from the log
// configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend overrides the isolation backend selected by configuration.
func WithBackend(b sandbox.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithMetricsRegisterer sets the Prometheus registry. Defaults to the
// process-global registerer; tests pass a fresh registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTokenizer overrides the token estimator used for output accounting.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = tok }
}

// newLogger builds a zap logger from the log configuration.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zc.Encoding = "console"
	}
	return zc.Build()
}
