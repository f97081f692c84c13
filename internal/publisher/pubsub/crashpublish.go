// Package pubsub implements crash publishing to a Google Cloud Pub/Sub
// topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Config captures the parameters for the Pub/Sub publisher.
type Config struct {
	Timeout time.Duration
}

// CrashPublish sends crash ids to a Pub/Sub topic. The message body is the
// bare 36-char id; no envelope is added.
type CrashPublish struct {
	publisher *pubsub.Publisher
	timeout   time.Duration
}

// New creates a CrashPublish for the provided topic publisher.
func New(publisher *pubsub.Publisher, cfg Config) (*CrashPublish, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &CrashPublish{publisher: publisher, timeout: cfg.Timeout}, nil
}

// Publish sends the crash id, bounded by the configured deadline.
func (p *CrashPublish) Publish(ctx context.Context, crashID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: []byte(crashID)})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", crashID, classify(err))
	}
	return nil
}

// Verify publishes a fake crash id of "test". Downstream consumers ignore
// it.
func (p *CrashPublish) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: []byte("test")})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub verify: %w", err)
	}
	return nil
}

// classify marks deadline and server-side failures as transient.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return collector.Transient(err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Aborted:
		return collector.Transient(err)
	}
	return err
}
