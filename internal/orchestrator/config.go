package orchestrator

import (
	"time"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/health"
)

// Config tunes the assignment loop. Zero values select defaults.
type Config struct {
	RetryDelay      time.Duration // Pause after a pass finds no candidate. Default: 5s.
	IdleDelay       time.Duration // Pause when the pending queue is empty. Default: 1s.
	MaxRetries      int           // Re-queues before a task is failed. Default: 3.
	DefaultCapacity int           // Capacity assumed for agents reporting none. Default: 10.
	HealthAlpha     float64       // EWMA smoothing factor. Default: 0.1.
	Weights         Weights       // Zero value = DefaultWeights().
}

// Weights are the coefficients of the suitability score:
// Health*ewma - Workload*(workload/capacity) + Access*access_level.
type Weights struct {
	Health   float64 // Default: 10
	Workload float64 // Default: 1
	Access   float64 // Default: 0.1
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{Health: 10, Workload: 1, Access: 0.1}
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return 5 * time.Second
}

func (c Config) idleDelay() time.Duration {
	if c.IdleDelay > 0 {
		return c.IdleDelay
	}
	return time.Second
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

func (c Config) defaultCapacity() int {
	if c.DefaultCapacity > 0 {
		return c.DefaultCapacity
	}
	return agent.DefaultCapacity
}

func (c Config) alpha() float64 {
	if c.HealthAlpha > 0 && c.HealthAlpha <= 1 {
		return c.HealthAlpha
	}
	return health.DefaultAlpha
}

func (c Config) weights() Weights {
	if c.Weights == (Weights{}) {
		return DefaultWeights()
	}
	return c.Weights
}
