package logger

import "testing"

func TestSanitizeKVsRedactsSensitiveKeys(t *testing.T) {
	got := sanitizeKVs([]interface{}{"pennkey", "abc123", "email", "a@b.c", "dangling"})
	if len(got) != 5 {
		t.Fatalf("len: got=%d want=5", len(got))
	}
	if got[1] != "abc123" {
		t.Fatalf("pennkey should pass through, got=%v", got[1])
	}
	if got[3] != "[REDACTED]" {
		t.Fatalf("email should be redacted, got=%v", got[3])
	}
	if got[4] != "dangling" {
		t.Fatalf("odd trailing key should be kept, got=%v", got[4])
	}
}

func TestNewTestModeDiscards(t *testing.T) {
	log, err := New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.With("service", "x").Info("hello", "k", "v")
	log.Sync()
}
