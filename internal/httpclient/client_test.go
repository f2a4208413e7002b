package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

func TestDo_SucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(5)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestDo_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5)
	cfg := &domain.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Second, cfg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_ExhaustsRetriesOnPersistent5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(5)
	cfg := &domain.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1}
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Second, cfg)
	assert.Error(t, err)
}

func TestDo_DoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(5)
	cfg := &domain.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Second, cfg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a non-5xx response should not be retried")
}

func TestFullJitter_BoundedAndRandom(t *testing.T) {
	for i := 0; i < 20; i++ {
		d, err := FullJitter(100 * time.Millisecond)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestFullJitter_ZeroMax(t *testing.T) {
	d, err := FullJitter(0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}
