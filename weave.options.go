package weave

import (
	"go.uber.org/zap"
)

// Option is a functional option for configuring a Template.
type Option func(*templateConfig)

// templateConfig holds the internal configuration of a Template.
type templateConfig struct {
	name          string
	defaultFilter string
	maxConcurrent int
	logger        *zap.Logger
}

// defaultTemplateConfig returns the default template configuration.
func defaultTemplateConfig() *templateConfig {
	return &templateConfig{
		name: "template",
	}
}

// WithName sets the template name used in error messages and logs.
// Default: "template".
func WithName(name string) Option {
	return func(c *templateConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithDefaultFilter sets the filter applied to every gen() call that has no
// explicit filter of its own. Use "raw" at a call site to skip the default
// for that one call.
func WithDefaultFilter(name string) Option {
	return func(c *templateConfig) {
		c.defaultFilter = name
	}
}

// WithMaxConcurrency caps the number of simultaneously in-flight generation
// calls per render. Use 0 for no cap. The template itself imposes no limit
// by default; rate limiting is the backend's concern.
func WithMaxConcurrency(n int) Option {
	return func(c *templateConfig) {
		if n >= 0 {
			c.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger for the template.
// Default: no logging.
func WithLogger(logger *zap.Logger) Option {
	return func(c *templateConfig) {
		c.logger = logger
	}
}
