package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/metrics":               "/metrics",
		"/api":                   "/api",
		"/api/cards/123/enhance": "/api/cards",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(InstrumentHandler)
	router.HandleFunc("/api/cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards/abc", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	exposition := httptest.NewRecorder()
	Handler().ServeHTTP(exposition, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `pinnlo_http_requests_total{method="GET",path="/api/cards/{id}",status="418"} 1`
	if !strings.Contains(exposition.Body.String(), want) {
		t.Fatalf("exposition missing %s", want)
	}
}

func TestRecordGenerationAndExposition(t *testing.T) {
	RecordGeneration("openai", true, 2*time.Second, 100, 50)
	RecordAutomationRun("schedule", "succeeded", 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`pinnlo_ai_generations_total{provider="openai",status="success"}`,
		`pinnlo_ai_tokens_total{direction="input",provider="openai"}`,
		`pinnlo_automation_runs_total{status="succeeded",trigger="schedule"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %s", want)
		}
	}
}
