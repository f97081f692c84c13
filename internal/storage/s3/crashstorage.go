// Package s3 provides crash storage over an S3-compatible API.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/collector"
	storagelayout "github.com/stackwatch/crash-collector/internal/storage"
)

// Config captures the parameters required to connect to an S3-compatible
// endpoint.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKey       string
	SecretAccessKey string
	Secure          bool
	Timeout         time.Duration
}

// CrashStorage writes crash objects to an S3-compatible bucket.
type CrashStorage struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an S3-backed crash storage from configuration.
func New(cfg Config, logger *zap.Logger) (*CrashStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}
	return NewFromClient(client, cfg, logger), nil
}

// NewFromClient creates an S3-backed crash storage with a caller-supplied
// client; used by tests.
func NewFromClient(client *minio.Client, cfg Config, logger *zap.Logger) *CrashStorage {
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
	}
}

// Save writes the full object set for the crash.
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
		return fmt.Errorf("s3 verify write: %w", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("s3 verify cleanup failed", zap.String("path", path), zap.Error(err))
	}
	return nil
}

func (s *CrashStorage) putObject(ctx context.Context, path, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(
		ctx, s.bucket, path,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	return err
}

// classify marks 5xx responses, throttling, timeouts, and connection errors
// as transient.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return collector.Transient(err)
	}
	if resp.StatusCode != 0 {
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
