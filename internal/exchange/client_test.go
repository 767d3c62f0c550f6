package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

func testRestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRestClientDoSuccessDecodesResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testRestLogger())
	var result struct {
		Status string `json:"status"`
	}
	err := c.Do(context.Background(), NewTokenBucket(10, 10), failureNetwork, http.MethodGet, "/ping", nil, &result)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("status = %q, want ok", result.Status)
	}
}

func TestRestClientDoMapsUnauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testRestLogger())
	err := c.Do(context.Background(), NewTokenBucket(10, 10), failureService, http.MethodGet, "/account", nil, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestRestClientDoRetriableOn5xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testRestLogger())
	err := c.Do(context.Background(), NewTokenBucket(10, 10), failureNetwork, http.MethodGet, "/book", nil, nil)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if ClassifyFailureKind(err) != failureNetwork {
		t.Errorf("classified kind = %v, want network", ClassifyFailureKind(err))
	}
}

func TestRestClientCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testRestLogger())
	c.Breaker = NewCircuitBreaker(2, time.Minute) // trip after 2 failures; the cooldown outlasts the test

	for i := 0; i < 2; i++ {
		_ = c.Do(context.Background(), NewTokenBucket(10, 10), failureNetwork, http.MethodGet, "/book", nil, nil)
	}

	err := c.Do(context.Background(), NewTokenBucket(10, 10), failureNetwork, http.MethodGet, "/book", nil, nil)
	if !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v, want circuit breaker open error", err)
	}
}
