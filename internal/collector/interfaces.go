package collector

import (
	"context"
	"time"
)

// CrashStorage writes the canonical object set for a crash report.
type CrashStorage interface {
	// Save writes the raw crash, dump names index, and every dump. Writes
	// are idempotent; a retry after a partial failure re-writes the
	// already-written objects. Retryable failures are marked with
	// Transient.
	Save(ctx context.Context, report *CrashReport) error

	// Verify proves write capability once at startup without leaving
	// garbage behind.
	Verify(ctx context.Context) error
}

// CrashPublisher announces a saved crash id to the downstream queue/topic.
type CrashPublisher interface {
	// Publish sends the bare crash id as the message body. Retryable
	// failures are marked with Transient.
	Publish(ctx context.Context, crashID string) error

	// Verify proves publish capability once at startup.
	Verify(ctx context.Context) error
}

// Queue is the bounded hand-off between the submit handler and the
// crash-mover workers. Enqueue blocks when the queue is full; that is the
// sole backpressure channel.
type Queue interface {
	Enqueue(ctx context.Context, report *CrashReport) error
	Dequeue(ctx context.Context) (*CrashReport, error)
}

// Hasher computes digests for dump checksums.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
