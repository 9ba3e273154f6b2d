package bootstrap

import (
	"github.com/diaflow/diaflow/common/config"
	"github.com/diaflow/diaflow/common/logger"
	"github.com/diaflow/diaflow/services"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipRedis    bool
	skipArchive  bool
	skipLLM      bool
	customLogger *logger.Logger
	customConfig *config.Config
	customBundle *services.Bundle
}

// WithoutRedis forces the in-memory store even when redis is configured
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutArchive skips the Postgres archive
func WithoutArchive() Option {
	return func(o *options) {
		o.skipArchive = true
	}
}

// WithoutLLM skips LLM client construction; person_job nodes will fail
// their missing-service check unless a bundle is injected
func WithoutLLM() Option {
	return func(o *options) {
		o.skipLLM = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithBundle injects a prebuilt service bundle, replacing the configured one
func WithBundle(bundle *services.Bundle) Option {
	return func(o *options) {
		o.customBundle = bundle
	}
}

func defaultOptions() *options {
	return &options{}
}
