package httpretry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.Client(), 3, WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, c.Get(context.Background(), srv.URL))
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.Client(), 3, WithBackoff(time.Millisecond, time.Millisecond))
	err := c.Get(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "403")
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetReturnsLastRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.Client(), 2, WithBackoff(time.Millisecond, time.Millisecond))
	assert.ErrorContains(t, c.Get(context.Background(), srv.URL), "502")
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(http.DefaultClient, 3)
	assert.ErrorIs(t, c.Get(ctx, "http://127.0.0.1:1"), context.Canceled)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(http.StatusTooManyRequests))
	assert.True(t, retryable(http.StatusGatewayTimeout))
	assert.False(t, retryable(http.StatusNotFound))
	assert.False(t, retryable(http.StatusOK))
}
