// Package ratelimit provides blocking sliding-window admission control for
// external data providers. Each provider has its own window of request
// timestamps; Acquire suspends the caller until admission is safe and never
// rejects.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"filings-pipeline/internal/common/logging"
)

// Config describes one provider's admission window.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the sliding window length. Must be greater than zero.
	Window time.Duration

	// BurstLimit caps requests admitted in a burst. Defaults to
	// MaxRequests when unset.
	BurstLimit int
}

func (c *Config) validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("max requests must be positive")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be greater than zero")
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = c.MaxRequests
	}
	return nil
}

// providerWindow holds the request timestamps for one provider. The
// timestamps are mutated only while holding mu; admission is fully
// serialized per provider so two callers can never observe the same free
// slot.
type providerWindow struct {
	mu     sync.Mutex
	config Config
	times  []time.Time
}

// Limiter is a sliding-window rate limiter keyed by provider name.
type Limiter struct {
	mu        sync.Mutex
	providers map[string]*providerWindow
	logger    logging.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter with per-provider window configurations.
func NewLimiter(configs map[string]Config, logger logging.Logger) (*Limiter, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	providers := make(map[string]*providerWindow, len(configs))
	for name, cfg := range configs {
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("invalid rate limit config for %q: %w", name, err)
		}
		providers[name] = &providerWindow{config: cfg}
	}

	return &Limiter{
		providers: providers,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// window returns the provider's window, creating one on first use with a
// conservative single-request-per-second configuration.
func (l *Limiter) window(provider string) *providerWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.providers[provider]
	if !ok {
		w = &providerWindow{config: Config{MaxRequests: 1, Window: time.Second, BurstLimit: 1}}
		l.providers[provider] = w
		l.logger.Warn("rate limiter created default window for unregistered provider",
			logging.String("provider", provider))
	}
	return w
}

// Acquire blocks until a request to the provider is admissible, then
// records the request timestamp. The only error returned is the context's
// when the caller gives up waiting.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	w := l.window(provider)

	// Prune-wait-append runs as one critical section per provider.
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := l.now()
		w.prune(now)

		if len(w.times) < w.config.BurstLimit {
			w.times = append(w.times, now)
			return nil
		}

		wait := w.config.Window - now.Sub(w.times[0])
		if wait <= 0 {
			continue
		}

		l.logger.Debug("rate limit reached, waiting",
			logging.String("provider", provider),
			logging.Duration("wait", wait))

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops timestamps that have slid out of the window.
func (w *providerWindow) prune(now time.Time) {
	cutoff := now.Add(-w.config.Window)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

// Pending returns the number of timestamps currently inside the provider's
// window. Used for monitoring.
func (l *Limiter) Pending(provider string) int {
	w := l.window(provider)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.now())
	return len(w.times)
}
