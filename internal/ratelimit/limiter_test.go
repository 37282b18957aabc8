package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filings-pipeline/internal/common/logging"
)

// fakeClock drives the limiter deterministically: sleeping advances time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, configs map[string]Config) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := NewLimiter(configs, logging.NewDefaultLogger())
	require.NoError(t, err)

	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l.now = clock.now
	l.sleep = func(ctx context.Context, d time.Duration) error {
		clock.advance(d)
		return nil
	}
	return l, clock
}

func TestAcquireUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]Config{
		"edgar": {MaxRequests: 5, Window: time.Second},
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "edgar"))
	}
	assert.Equal(t, 5, l.Pending("edgar"))
}

func TestAcquireBlocksAtLimit(t *testing.T) {
	l, clock := newTestLimiter(t, map[string]Config{
		"edgar": {MaxRequests: 3, Window: time.Second},
	})

	ctx := context.Background()
	start := clock.now()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "edgar"))
	}
	assert.Equal(t, time.Duration(0), clock.now().Sub(start), "first burst admits immediately")

	// Fourth acquire must wait for the oldest timestamp to expire.
	require.NoError(t, l.Acquire(ctx, "edgar"))
	assert.Equal(t, time.Second, clock.now().Sub(start))
}

func TestSlidingWindowInvariant(t *testing.T) {
	const (
		maxRequests = 4
		window      = time.Second
		total       = 25
	)

	l, clock := newTestLimiter(t, map[string]Config{
		"edgar": {MaxRequests: maxRequests, Window: window},
	})

	ctx := context.Background()
	var admitted []time.Time
	for i := 0; i < total; i++ {
		require.NoError(t, l.Acquire(ctx, "edgar"))
		admitted = append(admitted, clock.now())

		// Interleave occasional partial-window gaps.
		if i%3 == 0 {
			clock.advance(150 * time.Millisecond)
		}
	}

	// Any sliding window of length T contains at most N admissions.
	for i := range admitted {
		count := 0
		for j := range admitted {
			d := admitted[j].Sub(admitted[i])
			if d >= 0 && d < window {
				count++
			}
		}
		assert.LessOrEqual(t, count, maxRequests, "window starting at admission %d", i)
	}
}

func TestBurstLimitDefaultsToMaxRequests(t *testing.T) {
	l, err := NewLimiter(map[string]Config{
		"edgar": {MaxRequests: 7, Window: time.Second},
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	assert.Equal(t, 7, l.providers["edgar"].config.BurstLimit)
}

func TestConfigValidation(t *testing.T) {
	logger := logging.NewDefaultLogger()

	_, err := NewLimiter(map[string]Config{
		"edgar": {MaxRequests: 5, Window: 0},
	}, logger)
	assert.Error(t, err, "zero window rejected")

	_, err = NewLimiter(map[string]Config{
		"edgar": {MaxRequests: 0, Window: time.Second},
	}, logger)
	assert.Error(t, err, "zero max requests rejected")
}

func TestProvidersIsolated(t *testing.T) {
	l, clock := newTestLimiter(t, map[string]Config{
		"edgar":  {MaxRequests: 1, Window: time.Second},
		"market": {MaxRequests: 5, Window: time.Second},
	})

	ctx := context.Background()
	start := clock.now()

	require.NoError(t, l.Acquire(ctx, "edgar"))

	// Exhausting edgar must not make market wait.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "market"))
	}
	assert.Equal(t, time.Duration(0), clock.now().Sub(start))
}

func TestAcquireContextCancelled(t *testing.T) {
	l, err := NewLimiter(map[string]Config{
		"edgar": {MaxRequests: 1, Window: time.Minute},
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "edgar"))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err = l.Acquire(cancelled, "edgar")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAcquireRespectsLimit(t *testing.T) {
	const (
		maxRequests = 5
		window      = 50 * time.Millisecond
		callers     = 12
	)

	l, err := NewLimiter(map[string]Config{
		"edgar": {MaxRequests: maxRequests, Window: window},
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx, "edgar"))
		}()
	}
	wg.Wait()

	// 12 admissions at 5 per 50ms need at least two full window waits.
	assert.GreaterOrEqual(t, time.Since(start), 2*window-5*time.Millisecond)
}
