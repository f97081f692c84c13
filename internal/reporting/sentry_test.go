package reporting

import (
	"errors"
	"testing"
	"time"
)

// TestDisabledSinkIsSafe ensures every capture path is a no-op without a
// configured DSN.
func TestDisabledSinkIsSafe(t *testing.T) {
	if err := Setup(Config{}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	CaptureException(errors.New("boom"))
	CaptureException(nil)
	RecoverPanic("panic value")
	RecoverPanic(nil)
	Flush(10 * time.Millisecond)
}

func TestSetupRejectsBadDSN(t *testing.T) {
	if err := Setup(Config{DSN: "::not-a-dsn::"}); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
