package logger

import "testing"

func TestRedactMasksSecrets(t *testing.T) {
	out := redact([]interface{}{"openai_api_key", "sk-123", "teaching", "Session 1", "database_dsn", "postgres://u:p@h/db"})
	if out[1] != "[REDACTED]" {
		t.Fatalf("api key: want redacted got=%v", out[1])
	}
	if out[3] != "Session 1" {
		t.Fatalf("teaching: want passthrough got=%v", out[3])
	}
	if out[5] != "[REDACTED]" {
		t.Fatalf("dsn: want redacted got=%v", out[5])
	}
}

func TestRedactOddTrailingKey(t *testing.T) {
	out := redact([]interface{}{"a", 1, "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "production"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("service", "test").Debug("hello", "k", "v")
	}
}
