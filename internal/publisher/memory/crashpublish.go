// Package memory implements an in-memory crash publisher for tests, with
// scriptable failures.
package memory

import (
	"context"
	"sync"
)

// CrashPublish records published crash ids in memory.
type CrashPublish struct {
	mu        sync.Mutex
	published []string
	calls     int

	failN   int
	failErr error

	verifyErr error
}

// New creates an empty in-memory crash publisher.
func New() *CrashPublish {
	return &CrashPublish{}
}

// FailNextPublishes scripts the next n Publish calls to return err.
func (p *CrashPublish) FailNextPublishes(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failN = n
	p.failErr = err
}

// FailVerify scripts Verify to return err.
func (p *CrashPublish) FailVerify(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyErr = err
}

// Publish records the crash id.
func (p *CrashPublish) Publish(_ context.Context, crashID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.failN > 0 {
		p.failN--
		return p.failErr
	}
	p.published = append(p.published, crashID)
	return nil
}

// Verify returns the scripted verification result.
func (p *CrashPublish) Verify(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyErr
}

// Published returns the recorded crash ids in publish order.
func (p *CrashPublish) Published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.published))
	copy(out, p.published)
	return out
}

// PublishCalls reports how many times Publish was invoked.
func (p *CrashPublish) PublishCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
