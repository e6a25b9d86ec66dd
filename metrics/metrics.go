// Package metrics records attempt, lane, task and recovery measurements with
// OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	meterName = "github.com/gaborage/vkflow"

	MetricAttempts        = "vkflow.attempts"
	MetricAttemptDuration = "vkflow.attempt.duration"
	MetricLaneWaiting     = "vkflow.lane.waiting"
	MetricTasks           = "vkflow.tasks"
	MetricRecoveries      = "vkflow.recoveries"

	attrKind    = "request.kind"
	attrLane    = "lane"
	attrOutcome = "outcome"
	attrAction  = "action"
)

// Task outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Recorder owns the instruments. A nil *Recorder records nothing.
type Recorder struct {
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	laneWaiting     metric.Int64UpDownCounter
	tasks           metric.Int64Counter
	recoveries      metric.Int64Counter
}

// New creates the instruments on mp. A nil provider yields a no-op recorder.
// Instrument creation failures are reported on stderr and leave that
// instrument as a no-op.
func New(mp metric.MeterProvider) *Recorder {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)
	fallback := noop.Meter{}

	r := &Recorder{}
	var err error

	if r.attempts, err = meter.Int64Counter(MetricAttempts,
		metric.WithDescription("Finished network attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		logMetricError(MetricAttempts, err)
		r.attempts, _ = fallback.Int64Counter(MetricAttempts)
	}
	if r.attemptDuration, err = meter.Float64Histogram(MetricAttemptDuration,
		metric.WithDescription("Duration of network attempts"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		logMetricError(MetricAttemptDuration, err)
		r.attemptDuration, _ = fallback.Float64Histogram(MetricAttemptDuration)
	}
	if r.laneWaiting, err = meter.Int64UpDownCounter(MetricLaneWaiting,
		metric.WithDescription("Attempts waiting for serial lane admission"),
		metric.WithUnit("{attempt}")); err != nil {
		logMetricError(MetricLaneWaiting, err)
		r.laneWaiting, _ = fallback.Int64UpDownCounter(MetricLaneWaiting)
	}
	if r.tasks, err = meter.Int64Counter(MetricTasks,
		metric.WithDescription("Tasks reaching a terminal state"),
		metric.WithUnit("{task}")); err != nil {
		logMetricError(MetricTasks, err)
		r.tasks, _ = fallback.Int64Counter(MetricTasks)
	}
	if r.recoveries, err = meter.Int64Counter(MetricRecoveries,
		metric.WithDescription("Recovery flows run for API errors"),
		metric.WithUnit("{recovery}")); err != nil {
		logMetricError(MetricRecoveries, err)
		r.recoveries, _ = fallback.Int64Counter(MetricRecoveries)
	}

	return r
}

// Noop returns a recorder backed by the no-op provider.
func Noop() *Recorder {
	return New(nil)
}

func logMetricError(name string, err error) {
	fmt.Fprintf(os.Stderr, "WARNING: failed to initialize metric %s: %v\n", name, err)
}

func lane(concurrent bool) string {
	if concurrent {
		return "concurrent"
	}
	return "serial"
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeSucceeded
}

// RecordAttempt counts one finished attempt and its duration.
func (r *Recorder) RecordAttempt(ctx context.Context, kind string, concurrent bool, d time.Duration, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrLane, lane(concurrent)),
		attribute.String(attrOutcome, outcome(err)),
	)
	r.attempts.Add(ctx, 1, attrs)
	r.attemptDuration.Record(ctx, d.Seconds(), attrs)
}

// LaneWaiting moves the serial lane backlog by delta.
func (r *Recorder) LaneWaiting(ctx context.Context, delta int64) {
	if r == nil || delta == 0 {
		return
	}
	r.laneWaiting.Add(ctx, delta)
}

// RecordTask counts a task reaching outcome.
func (r *Recorder) RecordTask(ctx context.Context, outcomeName string) {
	if r == nil {
		return
	}
	r.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcomeName)))
}

// RecordRecovery counts one recovery flow for action.
func (r *Recorder) RecordRecovery(ctx context.Context, action string, err error) {
	if r == nil {
		return
	}
	r.recoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAction, action),
		attribute.String(attrOutcome, outcome(err)),
	))
}
