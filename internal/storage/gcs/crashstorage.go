// Package gcs provides crash storage backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/stackwatch/crash-collector/internal/collector"
	storagelayout "github.com/stackwatch/crash-collector/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket  string
	Timeout time.Duration
}

// CrashStorage writes crash objects to a configured GCS bucket.
type CrashStorage struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a GCS-backed crash storage.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*CrashStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrashStorage{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Save writes the full object set for the crash. Object writes are
// idempotent key overwrites, so a retry after a partial failure is safe.
func (s *CrashStorage) Save(ctx context.Context, report *collector.CrashReport) error {
	objects, err := storagelayout.Objects(report)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.putObject(ctx, obj.Path, obj.ContentType, obj.Body); err != nil {
			return classify(fmt.Errorf("save %s: %w", obj.Path, err))
		}
	}
	return nil
}

// Verify writes and removes a scratch object to prove write capability.
func (s *CrashStorage) Verify(ctx context.Context) error {
	path := storagelayout.VerifyPath(uuid.New().String())
	if err := s.putObject(ctx, path, "text/plain", []byte("test")); err != nil {
		return fmt.Errorf("gcs verify write: %w", err)
	}
	if err := s.client.Bucket(s.bucket).Object(path).Delete(ctx); err != nil {
		s.logger.Warn("gcs verify cleanup failed", zap.String("path", path), zap.Error(err))
	}
	return nil
}

func (s *CrashStorage) putObject(ctx context.Context, path, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// classify marks 5xx and 429 responses, timeouts, and connection errors as
// transient; everything else (bad credentials, missing bucket) is permanent.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 || apiErr.Code == 429 {
			return collector.Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return collector.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return collector.Transient(err)
	}
	return err
}
