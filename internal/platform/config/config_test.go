package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HLS_ENGINE_TEST_LOADED=yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("HLS_ENGINE_TEST_LOADED") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("HLS_ENGINE_TEST_LOADED"); got != "yes" {
		t.Errorf("expected variable from .env, got %q", got)
	}

	if err := Load(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("HLS_ENGINE_TEST_STR", "value")
	if got := GetEnv("HLS_ENGINE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("got %q", got)
	}
	if got := GetEnv("HLS_ENGINE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("HLS_ENGINE_TEST_INT", "42")
	t.Setenv("HLS_ENGINE_TEST_BAD_INT", "forty-two")

	if got := GetEnvInt("HLS_ENGINE_TEST_INT", 1); got != 42 {
		t.Errorf("got %d", got)
	}
	if got := GetEnvInt("HLS_ENGINE_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("expected fallback, got %d", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("HLS_ENGINE_TEST_FLOAT", "0.25")
	if got := GetEnvFloat("HLS_ENGINE_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("got %v", got)
	}
	if got := GetEnvFloat("HLS_ENGINE_TEST_UNSET", 0.5); got != 0.5 {
		t.Errorf("expected fallback, got %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{value: "true", want: true},
		{value: "1", want: true},
		{value: "YES", want: true},
		{value: "false", fallback: true, want: false},
		{value: "0", fallback: true, want: false},
		{value: "", fallback: true, want: true},
		{value: "maybe", fallback: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("HLS_ENGINE_TEST_BOOL", tt.value)
			if got := GetEnvBool("HLS_ENGINE_TEST_BOOL", tt.fallback); got != tt.want {
				t.Errorf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("HLS_ENGINE_TEST_DURATION", "1500ms")
	t.Setenv("HLS_ENGINE_TEST_BAD_DURATION", "soon")

	if got := GetEnvDuration("HLS_ENGINE_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Errorf("got %v", got)
	}
	if got := GetEnvDuration("HLS_ENGINE_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
}
