// Package metrics publishes reconciliation and API telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"guied/internal/billing"
)

// Metric and dimension names.
const (
	MetricReconcileOutcome = "ReconcileOutcome"
	MetricAPIRequest       = "APIRequest"
	MetricAPILatency       = "APILatency"

	DimOutcome  = "Outcome"
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
)

const (
	defaultFlushInterval = 30 * time.Second
	maxBatch             = 500
	maxBuffered          = 5000
)

// CloudWatchClient is the PutMetricData half of *cloudwatch.Client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder buffers datums and ships them in batches, so recording
// never blocks a request on a CloudWatch round trip. Run drives periodic
// flushes; short-lived processes call Flush before exiting.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
	kick    chan struct{}
}

// NewCloudWatchRecorder creates a recorder publishing under namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		interval:  defaultFlushInterval,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
	}
}

// RecordReconcile counts one reconciliation outcome.
func (m *CloudWatchRecorder) RecordReconcile(_ context.Context, outcome billing.Outcome) {
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricReconcileOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
		},
	})
}

// RecordRequest counts one API request and its latency in milliseconds.
func (m *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
	}
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricAPIRequest),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: append(dims, cwtypes.Dimension{Name: aws.String(DimStatus), Value: aws.String(status)}),
	})
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricAPILatency),
		Value:      aws.Float64(float64(duration.Microseconds()) / 1000),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims,
	})
}

func (m *CloudWatchRecorder) add(d cwtypes.MetricDatum) {
	d.Timestamp = aws.Time(m.now().UTC())

	m.mu.Lock()
	if len(m.pending) >= maxBuffered {
		m.dropped++
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, d)
	full := len(m.pending) >= maxBatch
	m.mu.Unlock()

	if full {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every interval tick or when a batch fills, until ctx is
// done, then performs a final flush.
func (m *CloudWatchRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			m.Flush(ctx)
		case <-m.kick:
			m.Flush(ctx)
		}
	}
}

// Flush sends everything buffered. Failed batches are logged and dropped.
func (m *CloudWatchRecorder) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	dropped := m.dropped
	m.pending = nil
	m.dropped = 0
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.WarnContext(ctx, "metric buffer full, datums dropped", "dropped", dropped)
	}

	for start := 0; start < len(batch); start += maxBatch {
		end := min(start+maxBatch, len(batch))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish metrics",
				"error", err,
				"datums", strconv.Itoa(end-start),
			)
		}
	}
}

// Noop discards everything. It stands in when metrics are disabled.
type Noop struct{}

func (Noop) RecordReconcile(context.Context, billing.Outcome)    {}
func (Noop) RecordRequest(string, string, string, time.Duration) {}

var (
	_ billing.OutcomeRecorder = (*CloudWatchRecorder)(nil)
	_ billing.OutcomeRecorder = Noop{}
)
