package httpserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var gotID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if gotID == "" {
		t.Fatal("expected a generated request id")
	}
	if w.Header().Get("X-Request-ID") != gotID {
		t.Fatalf("response header = %q, want %q", w.Header().Get("X-Request-ID"), gotID)
	}
}

func TestRequestIDPreservesInboundHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "caller-supplied")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if got := w.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Fatalf("X-Request-ID = %q, want caller-supplied", got)
	}
}

func TestLoggerWarnsOn5xxAndIncludesRouteProvider(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	router := chi.NewRouter()
	router.Use(Logger(logger))
	router.Get("/{provider}/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	r := httptest.NewRequest("GET", "/openai/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected a WARN-level log line for a 5xx response, got: %s", out)
	}
	if !strings.Contains(out, "provider=openai") {
		t.Fatalf("expected the route's provider param in the log line, got: %s", out)
	}
}

func TestLoggerLogsInfoBelow5xx(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	out := buf.String()
	if !strings.Contains(out, "level=INFO") {
		t.Fatalf("expected an INFO-level log line, got: %s", out)
	}
}
