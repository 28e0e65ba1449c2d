package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"emobridge/internal/config"
	"emobridge/internal/types"
)

// traceAttribute is the optional message attribute carrying the producer's
// trace ID. Messages without it get a fresh UUID for log correlation.
const traceAttribute = "trace_id"

// SQSReceiver abstracts the SQS consume operations for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// IntakeConfig tunes the consumer.
type IntakeConfig struct {
	QueueURL          string
	WaitSeconds       int32
	MaxMessages       int32
	VisibilityTimeout int32

	// ErrorBackoff is the pause after a failed receive while the breaker is
	// still closed. OpenBackoff is the pause while it is open.
	ErrorBackoff time.Duration
	OpenBackoff  time.Duration
}

// IntakeConfigFromAWS maps the process configuration onto IntakeConfig.
func IntakeConfigFromAWS(awsCfg config.AWSConfig) IntakeConfig {
	return IntakeConfig{
		QueueURL:          awsCfg.IntakeQueueURL,
		WaitSeconds:       awsCfg.IntakeWaitSeconds,
		MaxMessages:       awsCfg.IntakeMaxMessages,
		VisibilityTimeout: awsCfg.IntakeVisibility,
	}
}

// IntakeConsumer long-polls an SQS queue and enqueues each message body as a
// command. Malformed bodies are logged and deleted so they never block the
// queue. Receive failures go through a circuit breaker.
type IntakeConsumer struct {
	client  SQSReceiver
	sink    types.CommandSink
	cfg     IntakeConfig
	breaker *gobreaker.CircuitBreaker[*sqs.ReceiveMessageOutput]
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewIntakeConsumer creates a consumer. Zero backoffs default to 1s and 30s.
func NewIntakeConsumer(client SQSReceiver, sink types.CommandSink, cfg IntakeConfig, logger *slog.Logger) *IntakeConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*sqs.ReceiveMessageOutput](gobreaker.Settings{
		Name:        "sqs-intake",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not an upstream failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &IntakeConsumer{
		client:  client,
		sink:    sink,
		cfg:     cfg,
		breaker: cb,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (c *IntakeConsumer) Run(ctx context.Context) error {
	c.logger.Info("sqs intake consumer started", "queue_url", c.cfg.QueueURL)
	defer c.logger.Info("sqs intake consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, err := c.PollOnce(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := c.cfg.ErrorBackoff
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			wait = c.cfg.OpenBackoff
		} else {
			c.logger.Error("sqs receive failed", "queue_url", c.cfg.QueueURL, "error", err)
		}
		if c.sleep(ctx, wait) != nil {
			return nil
		}
	}
}

// PollOnce performs one receive and processes every returned message. It
// returns the number of commands enqueued.
func (c *IntakeConsumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.breaker.Execute(func() (*sqs.ReceiveMessageOutput, error) {
		return c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages:   c.cfg.MaxMessages,
			WaitTimeSeconds:       c.cfg.WaitSeconds,
			VisibilityTimeout:     c.cfg.VisibilityTimeout,
			MessageAttributeNames: []string{traceAttribute},
		})
	})
	if err != nil {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			"sqs receive failed", err, map[string]any{"queue_url": c.cfg.QueueURL})
	}

	enqueued := 0
	for _, msg := range out.Messages {
		if c.handleMessage(ctx, msg) {
			enqueued++
		}
	}
	return enqueued, nil
}

// handleMessage enqueues a valid body and deletes the message either way.
func (c *IntakeConsumer) handleMessage(ctx context.Context, msg sqsTypes.Message) bool {
	traceID := traceIDOf(msg)

	cmd, err := decodeCommand(aws.ToString(msg.Body))
	if err != nil {
		c.logger.WarnContext(ctx, "discarding malformed intake message",
			"trace_id", traceID,
			"message_id", aws.ToString(msg.MessageId),
			"error", err,
		)
	} else {
		c.sink.Enqueue(cmd)
		c.logger.InfoContext(ctx, "intake command enqueued",
			"trace_id", traceID,
			"message_id", aws.ToString(msg.MessageId),
			"type", cmd.Type(),
		)
	}

	_, delErr := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if delErr != nil {
		// The message will be redelivered after the visibility timeout.
		c.logger.ErrorContext(ctx, "failed to delete intake message",
			"trace_id", traceID,
			"message_id", aws.ToString(msg.MessageId),
			"error", delErr,
		)
	}

	return err == nil
}

func decodeCommand(body string) (types.Command, error) {
	var cmd types.Command
	if err := json.Unmarshal([]byte(body), &cmd); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if err := types.ValidateCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func traceIDOf(msg sqsTypes.Message) string {
	if attr, ok := msg.MessageAttributes[traceAttribute]; ok && aws.ToString(attr.StringValue) != "" {
		return aws.ToString(attr.StringValue)
	}
	return uuid.New().String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
