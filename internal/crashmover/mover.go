// Package crashmover runs the worker pool that drains the hand-off queue,
// saving each crash to storage and publishing its id downstream.
package crashmover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/metrics"
	"github.com/stackwatch/crash-collector/internal/reporting"
)

// Queue is the mover's view of the hand-off queue.
type Queue interface {
	collector.Queue
	Len() int
}

// Config controls Mover behavior.
type Config struct {
	// Concurrency is the number of crash-mover workers.
	Concurrency int
	// MaxRetries bounds save/publish retries per crash.
	MaxRetries uint64
	// RetryBase is the first backoff interval; it doubles per retry with
	// jitter.
	RetryBase time.Duration
}

// Mover consumes the hand-off queue with a fixed pool of workers. Each
// crash is saved, then published when its verdict asks for processing; save
// and publish retry in place on transient errors and drop on exhaustion.
type Mover struct {
	queue     Queue
	storage   collector.CrashStorage
	publisher collector.CrashPublisher
	clock     collector.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// New constructs a Mover, applying defaults for unset config values.
func New(
	queue Queue,
	storage collector.CrashStorage,
	publisher collector.CrashPublisher,
	clock collector.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Mover {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mover{
		queue:     queue,
		storage:   storage,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run blocks, consuming queue items with the configured worker pool until
// the context finishes or the queue is closed and drained.
func (m *Mover) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (m *Mover) runWorker(ctx context.Context, worker int) {
	for {
		report, err := m.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, collector.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			m.logger.Error("dequeue failed", zap.Int("worker", worker), zap.Error(err))
			continue
		}
		m.metrics.SetQueueSize(m.queue.Len())
		m.processReport(ctx, report)
	}
}

// processReport drives one crash to a terminal state. A panic anywhere in
// the pipeline is isolated to this crash; the worker loop survives.
func (m *Mover) processReport(ctx context.Context, report *collector.CrashReport) {
	defer func() {
		if p := recover(); p != nil {
			reporting.RecoverPanic(p)
			m.metrics.IncrSaveCrashDropped()
			m.logger.Error("panic while moving crash; dropped",
				zap.String("crash_id", report.ID),
				zap.Any("panic", p),
			)
		}
	}()

	// Fake-accepted crashes were answered and are dropped unsaved.
	if report.Verdict == collector.FakeAccept {
		m.logger.Info("fakeaccept crash discarded", zap.String("crash_id", report.ID))
		return
	}

	if err := m.save(ctx, report); err != nil {
		m.metrics.IncrSaveCrashDropped()
		m.logger.Error("crash dropped: save failed after retries",
			zap.String("crash_id", report.ID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("crash saved", zap.String("crash_id", report.ID))

	if report.Verdict == collector.Accept {
		if err := m.publish(ctx, report.ID); err != nil {
			// Saved but unannounced; the reconciliation reaper picks these
			// up later.
			m.metrics.IncrPublishCrashDropped()
			m.logger.Error("crash publish dropped after retries",
				zap.String("crash_id", report.ID),
				zap.Error(err),
			)
		} else {
			m.logger.Info("crash published", zap.String("crash_id", report.ID))
		}
	}

	m.metrics.IncrSaveCrash()
	m.metrics.TimingCrashHandling(m.clock.Now().Sub(report.ReceivedAt))
}

func (m *Mover) save(ctx context.Context, report *collector.CrashReport) error {
	start := m.clock.Now()
	defer func() { m.metrics.TimingSave(m.clock.Now().Sub(start)) }()

	attempt := 0
	return retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		err := m.storage.Save(ctx, report)
		if err == nil {
			return nil
		}
		if !collector.IsTransient(err) {
			return err
		}
		attempt++
		m.metrics.IncrSaveRetry()
		report.AddNote(fmt.Sprintf("save_retry:%d", attempt))
		return retry.RetryableError(err)
	})
}

func (m *Mover) publish(ctx context.Context, crashID string) error {
	start := m.clock.Now()
	defer func() { m.metrics.TimingPublish(m.clock.Now().Sub(start)) }()

	return retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		err := m.publisher.Publish(ctx, crashID)
		if err == nil {
			return nil
		}
		if !collector.IsTransient(err) {
			return err
		}
		m.metrics.IncrPublishRetry()
		return retry.RetryableError(err)
	})
}

func (m *Mover) backoff() retry.Backoff {
	b := retry.NewExponential(m.cfg.RetryBase)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(m.cfg.MaxRetries, b)
	return b
}
