// Package sqs implements crash publishing to an AWS SQS standard queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Config captures the parameters for the SQS publisher.
type Config struct {
	QueueName       string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretAccessKey string
	Timeout         time.Duration
}

// CrashPublish sends crash ids to an SQS queue, one message per id. The
// message body is the bare 36-char id.
type CrashPublish struct {
	client   *awssqs.Client
	queueURL string
	timeout  time.Duration
}

// New creates a CrashPublish, resolving the queue name to its URL.
func New(ctx context.Context, cfg Config) (*CrashPublish, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	out, err := client.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{
		QueueName: aws.String(cfg.QueueName),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve queue %s: %w", cfg.QueueName, err)
	}

	return NewFromClient(client, aws.ToString(out.QueueUrl), cfg), nil
}

// NewFromClient creates a CrashPublish with a caller-supplied client and
// resolved queue URL; used by tests.
func NewFromClient(client *awssqs.Client, queueURL string, cfg Config) *CrashPublish {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &CrashPublish{client: client, queueURL: queueURL, timeout: cfg.Timeout}
}

// Publish sends the crash id, bounded by the configured deadline.
func (p *CrashPublish) Publish(ctx context.Context, crashID string) error {
	if err := p.send(ctx, crashID); err != nil {
		return fmt.Errorf("publish %s: %w", crashID, classify(err))
	}
	return nil
}

// Verify publishes a fake crash id of "test". Downstream consumers ignore
// it.
func (p *CrashPublish) Verify(ctx context.Context) error {
	if err := p.send(ctx, "test"); err != nil {
		return fmt.Errorf("sqs verify: %w", err)
	}
	return nil
}

func (p *CrashPublish) send(ctx context.Context, body string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	return err
}

// classify marks server faults, throttling, timeouts, and connection errors
// as transient.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorFault() {
		case smithy.FaultServer:
			return collector.Transient(err)
		}
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestThrottled", "ServiceUnavailable":
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
