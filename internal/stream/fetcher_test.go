package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBody(ts float64, frameID string, lat, lng float64) string {
	return fmt.Sprintf(`{"gps":{"lat":%v,"lng":%v,"read_timestamp":%v},"frame":{"frame_id":%q}}`,
		lat, lng, ts, frameID)
}

func newTestFetcher(url string, capacity int) (*Fetcher, *EndSignal) {
	end := &EndSignal{}
	f := NewFetcher(FetcherConfig{URL: url, Timeout: 5 * time.Second}, NewThrottle(capacity), end)
	return f, end
}

func TestFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("batch_index"))
		assert.Equal(t, "7", r.URL.Query().Get("sample_index"))
		fmt.Fprint(w, sampleBody(99, "f1", 52.5, 13.4))
	}))
	defer srv.Close()

	f, end := newTestFetcher(srv.URL, 4)
	out := f.Fetch(context.Background(), 3, 7)

	require.Equal(t, OutcomeSample, out.Kind)
	assert.False(t, end.Reached())

	key, ok := out.Sample.DedupKey()
	require.True(t, ok)
	assert.Equal(t, Key{Timestamp: 99, FrameID: "f1"}, key)
}

func TestFetcherEndOfStream(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, end := newTestFetcher(srv.URL, 4)

	out := f.Fetch(context.Background(), 1, 0)
	assert.Equal(t, OutcomeEndOfStream, out.Kind)
	assert.True(t, end.Reached())

	// Once the signal is set, later fetches never reach the server.
	out = f.Fetch(context.Background(), 1, 1)
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))
}

func TestFetcherUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, end := newTestFetcher(srv.URL, 4)
	out := f.Fetch(context.Background(), 1, 0)

	assert.Equal(t, OutcomeUnexpectedStatus, out.Kind)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.False(t, end.Reached(), "a soft miss must not end the stream")
}

func TestFetcherMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	f, end := newTestFetcher(srv.URL, 4)
	out := f.Fetch(context.Background(), 1, 0)

	assert.Equal(t, OutcomeMalformed, out.Kind)
	assert.Error(t, out.Err)
	assert.False(t, end.Reached())
}

func TestFetcherTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f, end := newTestFetcher(srv.URL, 4)
	out := f.Fetch(context.Background(), 1, 0)

	assert.Equal(t, OutcomeTransport, out.Kind)
	assert.Error(t, out.Err)
	assert.False(t, end.Reached(), "transport errors must not end the stream")
}

func TestFetcherRetry(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			// Drop the connection without a response to force a
			// transport error on the client side.
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		fmt.Fprint(w, sampleBody(1, "f1", 1, 2))
	}))
	defer srv.Close()

	end := &EndSignal{}
	f := NewFetcher(FetcherConfig{
		URL:         srv.URL,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}, NewThrottle(4), end)

	out := f.Fetch(context.Background(), 1, 0)
	assert.Equal(t, OutcomeSample, out.Kind)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestFetcherRetryDisabledByDefault(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, 4)
	out := f.Fetch(context.Background(), 1, 0)

	assert.Equal(t, OutcomeTransport, out.Kind)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

func TestFetcherBoundedConcurrency(t *testing.T) {
	const capacity = 2
	const fetches = 12

	var inFlight, maxInFlight int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			m := atomic.LoadInt64(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		fmt.Fprint(w, sampleBody(1, "f1", 1, 2))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, capacity)

	var wg sync.WaitGroup
	for i := 0; i < fetches; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			out := f.Fetch(context.Background(), 1, idx)
			assert.Equal(t, OutcomeSample, out.Kind)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(capacity))
}
