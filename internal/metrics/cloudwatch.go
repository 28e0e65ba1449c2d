package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sony/gobreaker/v2"

	"emobridge/internal/types"
)

// maxDatumsPerPut is the batch size for one PutMetricData call, kept well
// under the API limit of 1000.
const maxDatumsPerPut = 500

// maxBufferedDatums caps the buffer while CloudWatch is unreachable. Oldest
// datums are dropped first.
const maxBufferedDatums = 10000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Collector = (*CloudWatchCollector)(nil)

// CloudWatchCollector buffers datums and flushes them on an interval. Record
// methods never block on the network and never fail.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	interval  time.Duration
	breaker   *gobreaker.CircuitBreaker[*cloudwatch.PutMetricDataOutput]
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	buffer []cwtypes.MetricDatum
}

// NewCloudWatchCollector creates a collector. An empty namespace falls back
// to types.MetricNamespace; a non-positive interval to one minute.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, interval time.Duration, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if interval <= 0 {
		interval = time.Minute
	}

	cb := gobreaker.NewCircuitBreaker[*cloudwatch.PutMetricDataOutput](gobreaker.Settings{
		Name:        "cloudwatch-metrics",
		MaxRequests: 1,
		Timeout:     2 * interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		interval:  interval,
		breaker:   cb,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest records APILatency (ms) and APIRequestCount.
func (c *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimMethod), Value: aws.String(method)},
		{Name: aws.String(types.DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(types.DimStatus), Value: aws.String(status)},
	}
	c.add(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims)
	c.add(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims)
}

// RecordPromoted records schedule entries turned into speak commands.
func (c *CloudWatchCollector) RecordPromoted(n int) {
	c.add(types.MetricCommandsPromoted, float64(n), cwtypes.StandardUnitCount, nil)
}

// RecordDrained records commands handed to the unit by one poll.
func (c *CloudWatchCollector) RecordDrained(n int) {
	c.add(types.MetricCommandsDrained, float64(n), cwtypes.StandardUnitCount, nil)
}

// RecordQueueDepth records the queue length after a poll.
func (c *CloudWatchCollector) RecordQueueDepth(n int) {
	c.add(types.MetricQueueDepth, float64(n), cwtypes.StandardUnitCount, nil)
}

// RecordSkippedRows records malformed schedule rows seen by one load.
func (c *CloudWatchCollector) RecordSkippedRows(n int) {
	c.add(types.MetricScheduleRowSkipped, float64(n), cwtypes.StandardUnitCount, nil)
}

func (c *CloudWatchCollector) add(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.now()),
		Dimensions: dims,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffer) >= maxBufferedDatums {
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, datum)
}

// Buffered returns the number of datums waiting to be flushed.
func (c *CloudWatchCollector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short detached deadline so shutdown does not lose the tail.
func (c *CloudWatchCollector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := c.Flush(flushCtx); err != nil {
				c.logger.Warn("final metrics flush failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("metrics flush failed", "error", err)
			}
		}
	}
}

// Flush sends the buffer in batches. Batches that fail are put back at the
// front of the buffer for the next attempt.
func (c *CloudWatchCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	for start := 0; start < len(pending); start += maxDatumsPerPut {
		end := min(start+maxDatumsPerPut, len(pending))
		batch := pending[start:end]

		_, err := c.breaker.Execute(func() (*cloudwatch.PutMetricDataOutput, error) {
			return c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
				Namespace:  aws.String(c.namespace),
				MetricData: batch,
			})
		})
		if err != nil {
			c.requeue(pending[start:])
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *CloudWatchCollector) requeue(datums []cwtypes.MetricDatum) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]cwtypes.MetricDatum, 0, len(datums)+len(c.buffer))
	merged = append(merged, datums...)
	merged = append(merged, c.buffer...)
	if over := len(merged) - maxBufferedDatums; over > 0 {
		merged = merged[over:]
	}
	c.buffer = merged
}
