// Package reporting wires the error-reporting sink. With no DSN configured
// every capture is a no-op, so callers never need to check.
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config carries the sentry settings.
type Config struct {
	DSN     string
	HostID  string
	Release string
	Debug   bool
}

// Setup initialises the sentry client. An empty DSN leaves the client
// disabled; captures become no-ops.
func Setup(cfg Config) error {
	if cfg.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:        cfg.DSN,
		ServerName: cfg.HostID,
		Release:    cfg.Release,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	return nil
}

// CaptureException reports err to the sink.
func CaptureException(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// RecoverPanic reports a recovered panic value to the sink.
func RecoverPanic(p any) {
	if p == nil {
		return
	}
	sentry.CurrentHub().Recover(p)
}

// Flush blocks until buffered events are sent or the timeout expires.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
