package logger

import "testing"

func TestInitAndLevel(t *testing.T) {
	if err := Init("info", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if L() == nil {
		t.Fatal("L() returned nil after Init")
	}

	if err := SetLevel("debug"); err != nil {
		t.Errorf("SetLevel(debug) error = %v", err)
	}
	if err := SetLevel("not-a-level"); err == nil {
		t.Error("SetLevel with garbage should fail")
	}
}

func TestInit_IsIdempotent(t *testing.T) {
	// Second Init must not replace the logger or error out.
	if err := Init("warn", "console"); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	Info("idempotency check")
	_ = Sync()
}
