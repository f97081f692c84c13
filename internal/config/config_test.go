package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "info", cfg.LoggingLevel)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, 8, cfg.CrashMover.ConcurrentCrashmovers)
	assert.Equal(t, 32, cfg.CrashMover.MaxQueueSize, "queue defaults to 4x workers")
	assert.Equal(t, time.Duration(0), cfg.CrashMover.EnqueueTimeout)
	assert.Equal(t, uint64(5), cfg.CrashMover.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.CrashMover.RetryBase)

	assert.Equal(t, StorageNoop, cfg.CrashMover.CrashStorage.Class)
	assert.Equal(t, 10*time.Second, cfg.CrashMover.CrashStorage.Timeout)
	assert.Equal(t, PublishNoop, cfg.CrashMover.CrashPublish.Class)
	assert.Equal(t, 5*time.Second, cfg.CrashMover.CrashPublish.Timeout)

	assert.Equal(t, "upload_file_minidump", cfg.Breakpad.DumpField)
	assert.Equal(t, int64(25<<20), cfg.Breakpad.MaxCrashSize)
	assert.Equal(t, 8125, cfg.Statsd.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CRASHMOVER_CONCURRENT_CRASHMOVERS", "3")
	t.Setenv("CRASHMOVER_MAX_QUEUE_SIZE", "5")
	t.Setenv("CRASHMOVER_CRASHSTORAGE_CLASS", "s3")
	t.Setenv("CRASHMOVER_CRASHSTORAGE_BUCKET_NAME", "crash-bucket")
	t.Setenv("CRASHMOVER_CRASHSTORAGE_ENDPOINT_URL", "minio.internal:9000")
	t.Setenv("CRASHMOVER_CRASHSTORAGE_ACCESS_KEY", "ak")
	t.Setenv("CRASHMOVER_CRASHSTORAGE_SECRET_ACCESS_KEY", "sk")
	t.Setenv("CRASHMOVER_CRASHPUBLISH_CLASS", "pubsub")
	t.Setenv("CRASHMOVER_CRASHPUBLISH_PROJECT_ID", "proj")
	t.Setenv("CRASHMOVER_CRASHPUBLISH_TOPIC_NAME", "crash-ids")
	t.Setenv("CRASHMOVER_CRASHPUBLISH_TIMEOUT", "2s")
	t.Setenv("BREAKPAD_THROTTLER_RULES", "accept_all")
	t.Setenv("BREAKPAD_THROTTLER_PRODUCTS", "Firefox, Thunderbird")
	t.Setenv("STATSD_HOST", "statsd.internal")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.CrashMover.ConcurrentCrashmovers)
	assert.Equal(t, 5, cfg.CrashMover.MaxQueueSize)
	assert.Equal(t, "s3", cfg.CrashMover.CrashStorage.Class)
	assert.Equal(t, "crash-bucket", cfg.CrashMover.CrashStorage.BucketName)
	assert.Equal(t, "pubsub", cfg.CrashMover.CrashPublish.Class)
	assert.Equal(t, 2*time.Second, cfg.CrashMover.CrashPublish.Timeout)
	assert.Equal(t, "accept_all", cfg.Breakpad.ThrottlerRules)
	assert.Equal(t, []string{"Firefox", "Thunderbird"}, cfg.Breakpad.Products())
	assert.Equal(t, "statsd.internal", cfg.Statsd.Host)
	assert.Equal(t, "debug", cfg.LoggingLevel)
}

func TestLoadValidatesAdapterRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			"gcs without bucket",
			map[string]string{"CRASHMOVER_CRASHSTORAGE_CLASS": "gcs"},
		},
		{
			"s3 without endpoint",
			map[string]string{
				"CRASHMOVER_CRASHSTORAGE_CLASS":       "s3",
				"CRASHMOVER_CRASHSTORAGE_BUCKET_NAME": "bucket",
			},
		},
		{
			"fs without root dir",
			map[string]string{"CRASHMOVER_CRASHSTORAGE_CLASS": "fs"},
		},
		{
			"unknown storage class",
			map[string]string{"CRASHMOVER_CRASHSTORAGE_CLASS": "tape"},
		},
		{
			"pubsub without topic",
			map[string]string{
				"CRASHMOVER_CRASHPUBLISH_CLASS":      "pubsub",
				"CRASHMOVER_CRASHPUBLISH_PROJECT_ID": "proj",
			},
		},
		{
			"sqs without queue",
			map[string]string{"CRASHMOVER_CRASHPUBLISH_CLASS": "sqs"},
		},
		{
			"unknown publish class",
			map[string]string{"CRASHMOVER_CRASHPUBLISH_CLASS": "carrier-pigeon"},
		},
		{
			"zero workers",
			map[string]string{"CRASHMOVER_CONCURRENT_CRASHMOVERS": "0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, val := range tt.env {
				t.Setenv(key, val)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestProductsParsing(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, BreakpadConfig{ThrottlerProducts: "mozilla"}.Products())
	assert.Nil(t, BreakpadConfig{ThrottlerProducts: "all"}.Products())
	assert.Equal(t,
		[]string{"Firefox", "Focus"},
		BreakpadConfig{ThrottlerProducts: " Firefox ,Focus,"}.Products(),
	)
}
