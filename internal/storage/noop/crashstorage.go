// Package noop implements a crash storage that logs crashes it would have
// stored. It remembers the last few crash ids, which helps when writing
// tests and running the collector without real credentials.
package noop

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
)

const keep = 10

// CrashStorage is the no-op storage variant.
type CrashStorage struct {
	logger *zap.Logger

	mu    sync.Mutex
	saved []string
}

// New creates a no-op crash storage.
func New(logger *zap.Logger) *CrashStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrashStorage{logger: logger}
}

// Save logs the crash id and remembers it.
func (s *CrashStorage) Save(_ context.Context, report *collector.CrashReport) error {
	s.logger.Info("crash storage no-op", zap.String("crash_id", report.ID))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, report.ID)
	if len(s.saved) > keep {
		s.saved = s.saved[len(s.saved)-keep:]
	}
	return nil
}

// Verify always succeeds.
func (s *CrashStorage) Verify(context.Context) error {
	return nil
}

// Saved returns the remembered crash ids, most recent last.
func (s *CrashStorage) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.saved))
	copy(out, s.saved)
	return out
}
