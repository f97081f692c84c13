// Package noop implements a crash publisher that logs the ids it would have
// published.
package noop

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const keep = 10

// CrashPublish is the no-op publisher variant.
type CrashPublish struct {
	logger *zap.Logger

	mu        sync.Mutex
	published []string
}

// New creates a no-op crash publisher.
func New(logger *zap.Logger) *CrashPublish {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrashPublish{logger: logger}
}

// Publish logs the crash id and remembers it.
func (p *CrashPublish) Publish(_ context.Context, crashID string) error {
	p.logger.Info("crash publish no-op", zap.String("crash_id", crashID))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, crashID)
	if len(p.published) > keep {
		p.published = p.published[len(p.published)-keep:]
	}
	return nil
}

// Verify always succeeds.
func (p *CrashPublish) Verify(context.Context) error {
	return nil
}

// Published returns the remembered crash ids, most recent last.
func (p *CrashPublish) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.published))
	copy(out, p.published)
	return out
}
