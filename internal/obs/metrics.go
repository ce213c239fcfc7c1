// Package obs publishes operational metrics to CloudWatch. The monitoring
// pass and the action dispatcher record counters here; publish failures are
// logged and never propagate into the pipeline.
package obs

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"slasentinel/internal/sla"
	"slasentinel/internal/types"
)

// Metric names and dimension keys in the engine's namespace.
const (
	metricRulesEvaluated     = "RulesEvaluated"
	metricShipmentsEvaluated = "ShipmentsEvaluated"
	metricViolationsFound    = "ViolationsFound"
	metricPassDuration       = "MonitoringPassDuration"
	metricActionExecution    = "ActionExecution"

	dimChannel = "Channel"
	dimResult  = "Result"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder publishes monitoring and dispatch metrics to one
// CloudWatch namespace.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ sla.PassRecorder = (*CloudWatchRecorder)(nil)
var _ sla.ActionRecorder = (*CloudWatchRecorder)(nil)

func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordMonitoringPass emits the per-pass counters and duration in a single
// PutMetricData call.
func (r *CloudWatchRecorder) RecordMonitoringPass(ctx context.Context, stats sla.PassStats) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricRulesEvaluated),
				Value:      aws.Float64(float64(stats.RulesEvaluated)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(metricShipmentsEvaluated),
				Value:      aws.Float64(float64(stats.ShipmentsEvaluated)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(metricViolationsFound),
				Value:      aws.Float64(float64(stats.ViolationsFound)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(metricPassDuration),
				Value:      aws.Float64(float64(stats.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish monitoring pass metrics",
			"error", err,
			"violations_found", stats.ViolationsFound,
		)
	}
}

// RecordActionExecution emits one ActionExecution count with Channel and
// Result dimensions.
func (r *CloudWatchRecorder) RecordActionExecution(ctx context.Context, channel types.ActionType, success bool, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricActionExecution),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dimChannel), Value: aws.String(string(channel))},
					{Name: aws.String(dimResult), Value: aws.String(result)},
				},
			},
			{
				MetricName: aws.String(metricActionExecution + "Latency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dimChannel), Value: aws.String(string(channel))},
				},
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish action execution metric",
			"error", err,
			"channel", channel,
		)
	}
}

// NoopRecorder discards all metrics. Used when no CloudWatch client is
// configured (local development, tests).
type NoopRecorder struct{}

var _ sla.PassRecorder = NoopRecorder{}
var _ sla.ActionRecorder = NoopRecorder{}

func (NoopRecorder) RecordMonitoringPass(context.Context, sla.PassStats) {}

func (NoopRecorder) RecordActionExecution(context.Context, types.ActionType, bool, time.Duration) {}
