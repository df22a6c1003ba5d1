package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name unless Config.Namespace is set.
const DefaultNamespace = "powerpool"

// Config selects where a pool or scheduler publishes its collectors.
// Components sharing a Registry and Namespace share one set of collectors
// and are told apart by their name label.
type Config struct {
	// Enabled is read by constructors; EnableMetrics ignores it.
	Enabled bool

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace defaults to DefaultNamespace.
	Namespace string

	// Labels are constant labels attached to every collector. Only the
	// first Config seen for a Registry and Namespace pair decides them.
	Labels prometheus.Labels
}

// DefaultConfig enables metrics on the default registerer.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = prometheus.DefaultRegisterer
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	return c
}

// Instrumentable is implemented by the pool and the scheduler.
type Instrumentable interface {
	// EnableMetrics starts publishing to the collectors selected by config.
	EnableMetrics(config Config) error

	DisableMetrics()

	MetricsEnabled() bool
}
