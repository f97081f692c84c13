// Package app wires the collector together: adapters, hand-off queue,
// crash-mover pool, and HTTP server, plus startup verification and graceful
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/api"
	"github.com/stackwatch/crash-collector/internal/breakpad"
	"github.com/stackwatch/crash-collector/internal/clock/system"
	"github.com/stackwatch/crash-collector/internal/collector"
	"github.com/stackwatch/crash-collector/internal/config"
	"github.com/stackwatch/crash-collector/internal/crashmover"
	"github.com/stackwatch/crash-collector/internal/hash/sha256"
	"github.com/stackwatch/crash-collector/internal/metrics"
	publishernoop "github.com/stackwatch/crash-collector/internal/publisher/noop"
	publisherpubsub "github.com/stackwatch/crash-collector/internal/publisher/pubsub"
	publishersqs "github.com/stackwatch/crash-collector/internal/publisher/sqs"
	queuememory "github.com/stackwatch/crash-collector/internal/queue/memory"
	storagefs "github.com/stackwatch/crash-collector/internal/storage/fs"
	storagegcs "github.com/stackwatch/crash-collector/internal/storage/gcs"
	storagenoop "github.com/stackwatch/crash-collector/internal/storage/noop"
	storages3 "github.com/stackwatch/crash-collector/internal/storage/s3"
	"github.com/stackwatch/crash-collector/internal/throttler"
	"github.com/stackwatch/crash-collector/internal/version"
)

// App owns the collector's runtime components.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	queue     *queuememory.Queue
	storage   collector.CrashStorage
	publisher collector.CrashPublisher
	mover     *crashmover.Mover
	server    *api.Server
	metrics   *metrics.Metrics

	closers []func(context.Context) error
}

// New builds an App from configuration, constructing the configured storage
// and publish adapters.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	m, err := metrics.New(metrics.Config{
		Host:      cfg.Statsd.Host,
		Port:      cfg.Statsd.Port,
		Namespace: cfg.Statsd.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, metrics: m}

	if a.storage, err = a.buildStorage(ctx); err != nil {
		return nil, fmt.Errorf("build crashstorage %s: %w", cfg.CrashMover.CrashStorage.Class, err)
	}
	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return nil, fmt.Errorf("build crashpublish %s: %w", cfg.CrashMover.CrashPublish.Class, err)
	}

	if err := a.assemble(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewWithAdapters builds an App around caller-supplied adapters; used by
// tests.
func NewWithAdapters(
	cfg config.Config,
	logger *zap.Logger,
	storage collector.CrashStorage,
	publisher collector.CrashPublisher,
) (*App, error) {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.NewNop(),
		storage:   storage,
		publisher: publisher,
	}
	if err := a.assemble(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) assemble() error {
	cfg := a.cfg
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	thr, err := throttler.New(cfg.Breakpad.ThrottlerRules, cfg.Breakpad.Products(), a.logger)
	if err != nil {
		return fmt.Errorf("build throttler: %w", err)
	}

	verinfo, err := version.Load(cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("load version info: %w", err)
	}

	clock := system.New()
	a.queue = queuememory.New(cfg.CrashMover.MaxQueueSize)

	a.mover = crashmover.New(
		a.queue,
		a.storage,
		a.publisher,
		clock,
		a.metrics,
		a.logger,
		crashmover.Config{
			Concurrency: cfg.CrashMover.ConcurrentCrashmovers,
			MaxRetries:  cfg.CrashMover.MaxRetries,
			RetryBase:   cfg.CrashMover.RetryBase,
		},
	)

	a.server = api.NewServer(
		breakpad.New(breakpad.Config{
			MaxCrashSize:      cfg.Breakpad.MaxCrashSize,
			MaxAnnotationSize: cfg.Breakpad.MaxAnnotationSize,
			DumpField:         cfg.Breakpad.DumpField,
		}),
		thr,
		a.queue,
		a.storage,
		a.publisher,
		sha256.New(),
		clock,
		a.metrics,
		a.logger,
		verinfo,
		api.Config{EnqueueTimeout: cfg.CrashMover.EnqueueTimeout},
	)
	return nil
}

func (a *App) buildStorage(ctx context.Context) (collector.CrashStorage, error) {
	scfg := a.cfg.CrashMover.CrashStorage
	switch scfg.Class {
	case config.StorageGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return storagegcs.New(client, storagegcs.Config{
			Bucket:  scfg.BucketName,
			Timeout: scfg.Timeout,
		}, a.logger)
	case config.StorageS3:
		return storages3.New(storages3.Config{
			Bucket:          scfg.BucketName,
			Endpoint:        scfg.EndpointURL,
			Region:          scfg.Region,
			AccessKey:       scfg.AccessKey,
			SecretAccessKey: scfg.SecretAccessKey,
			Secure:          scfg.Secure,
			Timeout:         scfg.Timeout,
		}, a.logger)
	case config.StorageFS:
		return storagefs.New(storagefs.Config{RootDir: scfg.RootDir})
	case config.StorageNoop:
		return storagenoop.New(a.logger), nil
	}
	return nil, fmt.Errorf("unknown class %q", scfg.Class)
}

func (a *App) buildPublisher(ctx context.Context) (collector.CrashPublisher, error) {
	pcfg := a.cfg.CrashMover.CrashPublish
	switch pcfg.Class {
	case config.PublishPubSub:
		client, err := pubsub.NewClient(ctx, pcfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return publisherpubsub.New(client.Publisher(pcfg.TopicName), publisherpubsub.Config{
			Timeout: pcfg.Timeout,
		})
	case config.PublishSQS:
		return publishersqs.New(ctx, publishersqs.Config{
			QueueName:       pcfg.QueueName,
			Region:          pcfg.Region,
			Endpoint:        pcfg.EndpointURL,
			AccessKey:       pcfg.AccessKey,
			SecretAccessKey: pcfg.SecretAccessKey,
			Timeout:         pcfg.Timeout,
		})
	case config.PublishNoop:
		return publishernoop.New(a.logger), nil
	}
	return nil, fmt.Errorf("unknown class %q", pcfg.Class)
}

// Verify exercises every configured adapter once. A failure means this
// replica must not serve traffic.
func (a *App) Verify(ctx context.Context) error {
	if err := a.storage.Verify(ctx); err != nil {
		return fmt.Errorf("crashstorage verification failed: %w", err)
	}
	a.logger.Info("crashstorage verified",
		zap.String("class", a.cfg.CrashMover.CrashStorage.Class))

	if err := a.publisher.Verify(ctx); err != nil {
		return fmt.Errorf("crashpublish verification failed: %w", err)
	}
	a.logger.Info("crashpublish verified",
		zap.String("class", a.cfg.CrashMover.CrashPublish.Class))
	return nil
}

// Run serves until the context is canceled or a termination signal arrives,
// then drains the hand-off queue within the shutdown deadline. A non-nil
// error means the HTTP server failed, or crashes were still queued when the
// deadline expired.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	moverCtx, cancelMover := context.WithCancel(context.Background())
	defer cancelMover()

	moverDone := make(chan struct{})
	go func() {
		a.mover.Run(moverCtx)
		close(moverDone)
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Host, fmt.Sprintf("%d", a.cfg.Port)),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		cancelMover()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown initiated",
		zap.Duration("deadline", a.cfg.ShutdownTimeout),
		zap.Int("queued", a.queue.Len()),
	)
	deadline := time.NewTimer(a.cfg.ShutdownTimeout)
	defer deadline.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// No new submissions can arrive; close the queue so workers exit when
	// it is empty.
	a.queue.Close()

	var drainErr error
	select {
	case <-moverDone:
		a.logger.Info("hand-off queue drained")
	case <-deadline.C:
		queued := a.queue.Len()
		cancelMover()
		<-moverDone
		a.logger.Error("drain deadline exceeded; crashes lost", zap.Int("queued", queued))
		drainErr = fmt.Errorf("drain deadline exceeded with %d crashes queued", queued)
	}

	a.close()
	return drainErr
}

func (a *App) close() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, closer := range a.closers {
		if err := closer(closeCtx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	if err := a.metrics.Close(); err != nil {
		a.logger.Warn("metrics close failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

// Handler exposes the HTTP handler; used by tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Enqueue places a report on the hand-off queue directly; used by tests.
func (a *App) Enqueue(ctx context.Context, report *collector.CrashReport) error {
	return a.queue.Enqueue(ctx, report)
}
