package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/opportune/internal/pipeline"

// Skip reasons reported on opportune.steps.skipped.
const (
	ReasonNoSignal         = "no_signal"
	ReasonSourceFailed     = "source_failed"
	ReasonNoBaseline       = "no_baseline"
	ReasonNoScore          = "no_score"
	ReasonScoringFailed    = "scoring_failed"
	ReasonHistory          = "insufficient_history"
	ReasonPredictionFailed = "prediction_failed"
)

type metrics struct {
	predictions metric.Int64Counter
	skipped     metric.Int64Counter
	sessions    metric.Int64Counter
	scoring     metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	predictions, err := meter.Int64Counter("opportune.predictions",
		metric.WithDescription("Predictions made"))
	if err != nil {
		return nil, err
	}
	skipped, err := meter.Int64Counter("opportune.steps.skipped",
		metric.WithDescription("Pipeline steps skipped as not ready"))
	if err != nil {
		return nil, err
	}
	sessions, err := meter.Int64Counter("opportune.sessions",
		metric.WithDescription("Sessions finished, by final status"))
	if err != nil {
		return nil, err
	}
	scoring, err := meter.Float64Histogram("opportune.scoring.duration_ms",
		metric.WithDescription("Change-point scoring time per window"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &metrics{predictions: predictions, skipped: skipped, sessions: sessions, scoring: scoring}, nil
}

func (m *metrics) prediction(ctx context.Context, label string) {
	m.predictions.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}

func (m *metrics) skip(ctx context.Context, reason string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) session(ctx context.Context, status string) {
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *metrics) scored(ctx context.Context, d time.Duration) {
	m.scoring.Record(ctx, float64(d.Microseconds())/1000)
}
