// Package circuitbreaker wraps Sony's gobreaker for protecting calls to
// external data providers.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// MaxConcurrentRequests limits probes while half-open.
	MaxConcurrentRequests int
}

// ProviderConfig suits HTTP data-provider calls: the rate limiter already
// spaces requests out, so a short open window is enough to ride out a
// provider brownout without starving a pipeline run.
var ProviderConfig = Config{
	MaxFailures:           5,
	Timeout:               30 * time.Second,
	MaxConcurrentRequests: 2,
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// Breaker guards one named provider endpoint.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// New creates a circuit breaker for the named provider. An invalid config
// falls back to ProviderConfig rather than panicking at call time.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if err := config.Validate(); err != nil {
		if logger != nil {
			logger.Warn("invalid circuit breaker config, using provider defaults",
				logging.String("breaker", name),
				logging.Err(err),
			)
		}
		config = ProviderConfig
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Rejections and malformed payloads mean the provider answered;
			// only connectivity-class failures should trip the circuit.
			switch errors.GetType(err) {
			case errors.ErrTypeProviderRejection, errors.ErrTypeValidation:
				return true
			}
			return false
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn inside the breaker. An open circuit surfaces as a
// connectivity error so callers treat it like any other transient outage.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.ConnectivityError(fmt.Sprintf("circuit breaker %q is open", b.name), err)
	}
	return err
}

// IsOpen reports whether the circuit is currently rejecting calls.
func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}
