package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_formats(t *testing.T) {
	var jsonBuf bytes.Buffer
	NewWithWriter(&jsonBuf, "info", "json").Info("hello", "k", "v")
	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output: %v (%s)", err, jsonBuf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("unexpected record: %v", rec)
	}

	var textBuf bytes.Buffer
	NewWithWriter(&textBuf, "info", "text").Info("hello")
	if !strings.Contains(textBuf.String(), "msg=hello") {
		t.Errorf("expected text output, got %s", textBuf.String())
	}

	var quiet bytes.Buffer
	NewWithWriter(&quiet, "error", "json").Info("dropped")
	if quiet.Len() != 0 {
		t.Errorf("expected info to be filtered at error level: %s", quiet.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record: %v (%s)", err, buf.String())
	}
	if rec["route"] != "/sessions/{id}" {
		t.Errorf("unexpected route: %v", rec["route"])
	}
	if rec["status"] != float64(http.StatusTeapot) {
		t.Errorf("unexpected status: %v", rec["status"])
	}
	if rec["size"] != float64(len("short and stout")) {
		t.Errorf("unexpected size: %v", rec["size"])
	}
}
