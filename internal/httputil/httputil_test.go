package httputil

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "s1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var env struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.Data["id"] != "s1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestWriteErrorUsesServiceErrorStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "t-1"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, errors.NotFound("strategy"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error != "strategy not found" || env.Code != "NOT_FOUND" || env.TraceID != "t-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestWriteErrorPlainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"Internal server error"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWriteErrorHidesUnwrappedCause(t *testing.T) {
	prev := errorLog
	var logged strings.Builder
	errorLog = logging.New("http", "error", "json")
	errorLog.Logger.SetOutput(&logged)
	defer func() { errorLog = prev }()

	rec := httptest.NewRecorder()
	cause := stderrors.New(`pq: relation "cards" does not exist`)
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/api/cards/1", nil), fmt.Errorf("get card: %w", cause))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "relation") {
		t.Fatalf("cause leaked to client: %s", rec.Body.String())
	}
	if !strings.Contains(logged.String(), "relation") || !strings.Contains(logged.String(), "/api/cards/1") {
		t.Fatalf("cause not logged: %s", logged.String())
	}
}

func TestWriteErrorRateLimitSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.RateLimitExceeded(1, "1s"))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("status = %d retry-after = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Title string `json:"title"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x"}`))
	rec := httptest.NewRecorder()
	if !DecodeJSON(rec, req, &v) || v.Title != "x" {
		t.Fatalf("decode failed: %+v", v)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{bad`))
	rec = httptest.NewRecorder()
	if DecodeJSON(rec, req, &v) {
		t.Fatal("expected failure on malformed JSON")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	rec = httptest.NewRecorder()
	if DecodeJSON(rec, req, &v) {
		t.Fatal("expected failure on oversized body")
	}

	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader("  "))
	rec = httptest.NewRecorder()
	if !DecodeJSON(rec, req, &v) {
		t.Fatal("empty body should be accepted")
	}
}

func TestRequireUserID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := RequireUserID(rec, req); ok || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = req.WithContext(logging.WithUserID(req.Context(), "u1"))
	if id, ok := RequireUserID(rec, req); !ok || id != "u1" {
		t.Fatalf("id = %q ok = %v", id, ok)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x&big=500", nil)
	if n, err := QueryInt(req, "limit", 20, 1, 100); err != nil || n != 5 {
		t.Fatalf("n = %d err = %v", n, err)
	}
	if n, _ := QueryInt(req, "missing", 20, 1, 100); n != 20 {
		t.Fatalf("default = %d", n)
	}
	if _, err := QueryInt(req, "bad", 20, 1, 100); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := QueryInt(req, "big", 20, 1, 100); err == nil {
		t.Fatal("expected range error")
	}
}

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 2 * time.Millisecond
	return p
}

func TestResilientTransportRetriesAndReplaysBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("attempt %d body = %q", atomic.LoadInt32(&calls), body)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL, Retry: ptr(fastPolicy())})
	var out map[string]bool
	if err := client.DoJSON(context.Background(), http.MethodPost, "/x", map[string]int{"a": 1}, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out["ok"] || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("out = %v calls = %d", out, calls)
	}
}

func TestResilientTransportReturnsLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL, Retry: ptr(fastPolicy())})
	err := client.DoJSON(context.Background(), http.MethodGet, "/", nil, nil)
	var httpErr *HTTPError
	if !stderrors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(httpErr.Body, "slow down") {
		t.Fatalf("body = %q", httpErr.Body)
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Now()
	b := NewBreaker("openai", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }

	b.Failure(stderrors.New("x"))
	if b.Allow() != nil {
		t.Fatal("breaker should still be closed")
	}
	b.Failure(stderrors.New("y"))
	if err := b.Allow(); !stderrors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open, got %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s", b.State())
	}
	b.Success()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s", b.State())
	}
}

func TestBreakerAdmitsOneTrialWhenHalfOpen(t *testing.T) {
	now := time.Now()
	b := NewBreaker("anthropic", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }

	b.Failure(stderrors.New("down"))
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("first trial rejected: %v", err)
	}
	if err := b.Allow(); !stderrors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent trial admitted: %v", err)
	}

	b.Failure(stderrors.New("still down"))
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("trial %d rejected: %v", i, err)
		}
		b.Success()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s", b.State())
	}
	if b.Allow() != nil || b.Allow() != nil {
		t.Fatal("closed breaker should admit every request")
	}
}

func TestBreakerDoneReleasesTrial(t *testing.T) {
	now := time.Now()
	b := NewBreaker("github", BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute})
	b.now = func() time.Time { return now }
	b.Failure(stderrors.New("down"))
	now = now.Add(2 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Done()
	if err := b.Allow(); err != nil {
		t.Fatalf("released trial slot not reusable: %v", err)
	}
}

func TestResilientTransportWaitsForRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	policy := fastPolicy()
	policy.MaxBackoff = 5 * time.Second
	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL, Retry: &policy})

	start := time.Now()
	var out map[string]bool
	if err := client.DoJSON(context.Background(), http.MethodGet, "/", nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("retried after %s, upstream asked for 1s", elapsed)
	}
	if !out["ok"] || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("out = %v calls = %d", out, calls)
	}
}

func TestResilientTransportReturnsLongRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL, Retry: ptr(fastPolicy())})
	resp, err := client.Get(context.Background(), "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("status = %d calls = %d", resp.StatusCode, calls)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"7":                             7 * time.Second,
		"-3":                            0,
		"soon":                          0,
		"Fri, 02 Jan 2026 15:04:35 GMT": 30 * time.Second,
		"Fri, 02 Jan 2026 15:00:00 GMT": 0,
	}
	for in, want := range cases {
		h := http.Header{}
		if in != "" {
			h.Set("Retry-After", in)
		}
		if got := RetryAfter(h, now); got != want {
			t.Errorf("RetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestServiceClientSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("X-Trace-ID") != "tr" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: srv.URL + "/", Headers: map[string]string{"x-api-key": "k"}})
	ctx := logging.WithTraceID(context.Background(), "tr")
	if err := client.DoJSON(ctx, http.MethodGet, "/v1", nil, nil); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
