package circuitbreaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
)

func TestBreakerOpensOnConsecutiveConnectivityFailures(t *testing.T) {
	b := New("edgar", Config{MaxFailures: 3, Timeout: time.Minute, MaxConcurrentRequests: 1}, logging.NewDefaultLogger())

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error {
			return errors.ConnectivityError("timeout", fmt.Errorf("dial tcp"))
		})
		require.Error(t, err)
	}

	assert.True(t, b.IsOpen())

	err := b.Execute(func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnectivity), "open circuit surfaces as connectivity")
}

func TestBreakerIgnoresProviderRejections(t *testing.T) {
	b := New("edgar", Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1}, logging.NewDefaultLogger())

	for i := 0; i < 10; i++ {
		err := b.Execute(func() error {
			return errors.ProviderRejectionError("status 404")
		})
		require.Error(t, err)
	}

	assert.False(t, b.IsOpen(), "rejections mean the provider answered")
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("market", ProviderConfig, logging.NewDefaultLogger())

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.False(t, b.IsOpen())
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	b := New("edgar", Config{MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxConcurrentRequests: 1}, logging.NewDefaultLogger())

	_ = b.Execute(func() error {
		return errors.ConnectivityError("down", nil)
	})
	require.True(t, b.IsOpen())

	time.Sleep(40 * time.Millisecond)

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.False(t, b.IsOpen())
}

func TestBreakerInvalidConfigFallsBack(t *testing.T) {
	b := New("edgar", Config{}, logging.NewDefaultLogger())

	assert.NoError(t, b.Execute(func() error { return nil }))
}
