// Package config loads and validates collector configuration from the
// environment via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stackwatch/crash-collector/internal/throttler"
)

// Storage adapter variants selectable via CRASHMOVER_CRASHSTORAGE_CLASS.
const (
	StorageGCS  = "gcs"
	StorageS3   = "s3"
	StorageFS   = "fs"
	StorageNoop = "noop"
)

// Publish adapter variants selectable via CRASHMOVER_CRASHPUBLISH_CLASS.
const (
	PublishPubSub = "pubsub"
	PublishSQS    = "sqs"
	PublishNoop   = "noop"
)

// Config captures all service configuration knobs loaded from the
// environment.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseDir         string        `mapstructure:"basedir"`
	LoggingLevel    string        `mapstructure:"logging_level"`
	LocalDevEnv     bool          `mapstructure:"local_dev_env"`
	HostID          string        `mapstructure:"host_id"`
	SentryDSN       string        `mapstructure:"secret_sentry_dsn"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	CrashMover CrashMoverConfig `mapstructure:"crashmover"`
	Breakpad   BreakpadConfig   `mapstructure:"breakpad"`
	Statsd     StatsdConfig     `mapstructure:"statsd"`
}

// CrashMoverConfig governs the worker pool and hand-off queue.
type CrashMoverConfig struct {
	ConcurrentCrashmovers int           `mapstructure:"concurrent_crashmovers"`
	MaxQueueSize          int           `mapstructure:"max_queue_size"`
	EnqueueTimeout        time.Duration `mapstructure:"enqueue_timeout"`
	RetryBase             time.Duration `mapstructure:"retry_base"`
	MaxRetries            uint64        `mapstructure:"max_retries"`

	CrashStorage StorageConfig `mapstructure:"crashstorage"`
	CrashPublish PublishConfig `mapstructure:"crashpublish"`
}

// StorageConfig selects and parameterises the storage adapter.
type StorageConfig struct {
	Class           string        `mapstructure:"class"`
	BucketName      string        `mapstructure:"bucket_name"`
	EndpointURL     string        `mapstructure:"endpoint_url"`
	Region          string        `mapstructure:"region"`
	AccessKey       string        `mapstructure:"access_key"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	RootDir         string        `mapstructure:"root_dir"`
	Secure          bool          `mapstructure:"secure"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PublishConfig selects and parameterises the publish adapter.
type PublishConfig struct {
	Class            string        `mapstructure:"class"`
	ProjectID        string        `mapstructure:"project_id"`
	TopicName        string        `mapstructure:"topic_name"`
	QueueName        string        `mapstructure:"queue_name"`
	SubscriptionName string        `mapstructure:"subscription_name"`
	EndpointURL      string        `mapstructure:"endpoint_url"`
	Region           string        `mapstructure:"region"`
	AccessKey        string        `mapstructure:"access_key"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// BreakpadConfig governs submission parsing and throttling policy.
type BreakpadConfig struct {
	DumpField         string `mapstructure:"dump_field"`
	ThrottlerRules    string `mapstructure:"throttler_rules"`
	ThrottlerProducts string `mapstructure:"throttler_products"`
	MaxCrashSize      int64  `mapstructure:"max_crash_size"`
	MaxAnnotationSize int    `mapstructure:"max_annotation_size"`
}

// Products parses the supported-products option: a comma-separated list,
// "mozilla" for the built-in list, or "all" to disable the product gate.
func (c BreakpadConfig) Products() []string {
	switch strings.ToLower(strings.TrimSpace(c.ThrottlerProducts)) {
	case "", "mozilla":
		return throttler.MozillaProducts
	case "all":
		return nil
	}
	parts := strings.Split(c.ThrottlerProducts, ",")
	products := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			products = append(products, trimmed)
		}
	}
	return products
}

// StatsdConfig selects the metrics sink endpoint.
type StatsdConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
}

// envBindings maps config keys to their environment variable names.
var envBindings = map[string]string{
	"host":              "HOST",
	"port":              "PORT",
	"basedir":           "BASEDIR",
	"logging_level":     "LOGGING_LEVEL",
	"local_dev_env":     "LOCAL_DEV_ENV",
	"host_id":           "HOST_ID",
	"secret_sentry_dsn": "SECRET_SENTRY_DSN",
	"shutdown_timeout":  "SHUTDOWN_TIMEOUT",

	"crashmover.concurrent_crashmovers": "CRASHMOVER_CONCURRENT_CRASHMOVERS",
	"crashmover.max_queue_size":         "CRASHMOVER_MAX_QUEUE_SIZE",
	"crashmover.enqueue_timeout":        "CRASHMOVER_ENQUEUE_TIMEOUT",
	"crashmover.retry_base":             "CRASHMOVER_RETRY_BASE",
	"crashmover.max_retries":            "CRASHMOVER_MAX_RETRIES",

	"crashmover.crashstorage.class":             "CRASHMOVER_CRASHSTORAGE_CLASS",
	"crashmover.crashstorage.bucket_name":       "CRASHMOVER_CRASHSTORAGE_BUCKET_NAME",
	"crashmover.crashstorage.endpoint_url":      "CRASHMOVER_CRASHSTORAGE_ENDPOINT_URL",
	"crashmover.crashstorage.region":            "CRASHMOVER_CRASHSTORAGE_REGION",
	"crashmover.crashstorage.access_key":        "CRASHMOVER_CRASHSTORAGE_ACCESS_KEY",
	"crashmover.crashstorage.secret_access_key": "CRASHMOVER_CRASHSTORAGE_SECRET_ACCESS_KEY",
	"crashmover.crashstorage.root_dir":          "CRASHMOVER_CRASHSTORAGE_ROOT_DIR",
	"crashmover.crashstorage.secure":            "CRASHMOVER_CRASHSTORAGE_SECURE",
	"crashmover.crashstorage.timeout":           "CRASHMOVER_CRASHSTORAGE_TIMEOUT",

	"crashmover.crashpublish.class":             "CRASHMOVER_CRASHPUBLISH_CLASS",
	"crashmover.crashpublish.project_id":        "CRASHMOVER_CRASHPUBLISH_PROJECT_ID",
	"crashmover.crashpublish.topic_name":        "CRASHMOVER_CRASHPUBLISH_TOPIC_NAME",
	"crashmover.crashpublish.queue_name":        "CRASHMOVER_CRASHPUBLISH_QUEUE_NAME",
	"crashmover.crashpublish.subscription_name": "CRASHMOVER_CRASHPUBLISH_SUBSCRIPTION_NAME",
	"crashmover.crashpublish.endpoint_url":      "CRASHMOVER_CRASHPUBLISH_ENDPOINT_URL",
	"crashmover.crashpublish.region":            "CRASHMOVER_CRASHPUBLISH_REGION",
	"crashmover.crashpublish.access_key":        "CRASHMOVER_CRASHPUBLISH_ACCESS_KEY",
	"crashmover.crashpublish.secret_access_key": "CRASHMOVER_CRASHPUBLISH_SECRET_ACCESS_KEY",
	"crashmover.crashpublish.timeout":           "CRASHMOVER_CRASHPUBLISH_TIMEOUT",

	"breakpad.dump_field":          "BREAKPAD_DUMP_FIELD",
	"breakpad.throttler_rules":     "BREAKPAD_THROTTLER_RULES",
	"breakpad.throttler_products":  "BREAKPAD_THROTTLER_PRODUCTS",
	"breakpad.max_crash_size":      "BREAKPAD_MAX_CRASH_SIZE",
	"breakpad.max_annotation_size": "BREAKPAD_MAX_ANNOTATION_SIZE",

	"statsd.host":      "STATSD_HOST",
	"statsd.port":      "STATSD_PORT",
	"statsd.namespace": "STATSD_NAMESPACE",
}

// Load builds a Config from the environment.
func Load() (Config, error) {
	v := viper.New()

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CrashMover.MaxQueueSize <= 0 {
		cfg.CrashMover.MaxQueueSize = 4 * cfg.CrashMover.ConcurrentCrashmovers
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("basedir", ".")
	v.SetDefault("logging_level", "info")
	v.SetDefault("local_dev_env", false)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("crashmover.concurrent_crashmovers", 8)
	v.SetDefault("crashmover.enqueue_timeout", time.Duration(0))
	v.SetDefault("crashmover.retry_base", 100*time.Millisecond)
	v.SetDefault("crashmover.max_retries", 5)

	v.SetDefault("crashmover.crashstorage.class", StorageNoop)
	v.SetDefault("crashmover.crashstorage.secure", true)
	v.SetDefault("crashmover.crashstorage.timeout", 10*time.Second)

	v.SetDefault("crashmover.crashpublish.class", PublishNoop)
	v.SetDefault("crashmover.crashpublish.timeout", 5*time.Second)

	v.SetDefault("breakpad.dump_field", "upload_file_minidump")
	v.SetDefault("breakpad.throttler_rules", throttler.RuleSetMozilla)
	v.SetDefault("breakpad.throttler_products", "mozilla")
	v.SetDefault("breakpad.max_crash_size", 25<<20)
	v.SetDefault("breakpad.max_annotation_size", 1<<20)

	v.SetDefault("statsd.host", "localhost")
	v.SetDefault("statsd.port", 8125)
	v.SetDefault("statsd.namespace", "")
}

// Validate enforces required values and cross-field consistency.
func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be > 0")
	}
	if c.CrashMover.ConcurrentCrashmovers <= 0 {
		return fmt.Errorf("crashmover concurrent_crashmovers must be > 0")
	}
	if c.CrashMover.MaxQueueSize <= 0 {
		return fmt.Errorf("crashmover max_queue_size must be > 0")
	}
	if c.Breakpad.MaxCrashSize <= 0 {
		return fmt.Errorf("breakpad max_crash_size must be > 0")
	}

	switch c.CrashMover.CrashStorage.Class {
	case StorageGCS, StorageS3:
		if c.CrashMover.CrashStorage.BucketName == "" {
			return fmt.Errorf("crashstorage bucket_name is required for class %s",
				c.CrashMover.CrashStorage.Class)
		}
		if c.CrashMover.CrashStorage.Class == StorageS3 && c.CrashMover.CrashStorage.EndpointURL == "" {
			return fmt.Errorf("crashstorage endpoint_url is required for class s3")
		}
	case StorageFS:
		if c.CrashMover.CrashStorage.RootDir == "" {
			return fmt.Errorf("crashstorage root_dir is required for class fs")
		}
	case StorageNoop:
	default:
		return fmt.Errorf("unknown crashstorage class %q", c.CrashMover.CrashStorage.Class)
	}

	switch c.CrashMover.CrashPublish.Class {
	case PublishPubSub:
		if c.CrashMover.CrashPublish.ProjectID == "" || c.CrashMover.CrashPublish.TopicName == "" {
			return fmt.Errorf("crashpublish project_id and topic_name are required for class pubsub")
		}
	case PublishSQS:
		if c.CrashMover.CrashPublish.QueueName == "" {
			return fmt.Errorf("crashpublish queue_name is required for class sqs")
		}
	case PublishNoop:
	default:
		return fmt.Errorf("unknown crashpublish class %q", c.CrashMover.CrashPublish.Class)
	}

	return nil
}
