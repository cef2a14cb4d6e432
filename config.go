package scripthost

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config holds the configuration for a Runtime.
type Config struct {
	// Engine is the interpreter backend.
	// Required.
	Engine Engine

	// Registry receives every context created from the runtime.
	// Defaults to DefaultRegistry().
	Registry *ContextRegistry

	// Logger is used for runtime diagnostics.
	// Defaults to the package Logger().
	Logger *zap.Logger

	// Name labels the runtime and its dispatcher in logs.
	// Defaults to "<engine>-<n>".
	Name string
}

var runtimeSeq atomic.Int64

// Validate checks that all required fields are set.
// Returns ErrConfiguration if any required field is missing.
func (c *Config) Validate() error {
	var missing []string

	if c.Engine == nil {
		missing = append(missing, "Engine")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("%s-%d", c.Engine.Name(), runtimeSeq.Add(1))
	}
}
