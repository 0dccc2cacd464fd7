package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDoRetriesOnRetryableStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, JitterFrac: 0}
	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, cfg)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDoDoesNotRetryNonRetryableStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1 (404 should not retry)", got)
	}
}

func TestGetPerformsExactlyOneAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error from a 503 with no retries")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want exactly 1 — Get must not retry", got)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2, JitterFrac: 0}
	// first attempt still runs (attempt 0 has no pre-sleep), but the retry sleep must observe cancellation
	_, err := Do(ctx, srv.Client(), http.MethodGet, srv.URL, nil, nil, cfg)
	if err == nil {
		t.Fatal("expected an error when context is cancelled")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	got := NextBackoff(8*time.Second, 2.0, 10*time.Second)
	if got != 10*time.Second {
		t.Fatalf("NextBackoff = %v, want capped at 10s", got)
	}
}

func TestNextBackoffGeometricGrowth(t *testing.T) {
	got := NextBackoff(time.Second, 2.0, time.Minute)
	if got != 2*time.Second {
		t.Fatalf("NextBackoff = %v, want 2s", got)
	}
}

func TestApplyJitterZeroFracIsNoop(t *testing.T) {
	d := 5 * time.Second
	if got := ApplyJitter(d, 0); got != d {
		t.Fatalf("ApplyJitter with frac=0 = %v, want %v unchanged", got, d)
	}
}

func TestApplyJitterStaysNonNegative(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := ApplyJitter(time.Millisecond, 5.0) // absurd jitter fraction
		if got < 0 {
			t.Fatalf("ApplyJitter returned negative duration: %v", got)
		}
	}
}
