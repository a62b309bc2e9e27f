package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const costMeterName = "github.com/overwatch-ai/reins/internal/llm"

var (
	costRequestHistogram  metric.Float64Histogram
	costMetricsOnce       sync.Once
	costMetricsRegistered bool
)

func initCostMetrics() {
	meter := otel.Meter(costMeterName)
	var err error
	costRequestHistogram, err = meter.Float64Histogram(
		"reins.llm.cost.request",
		metric.WithDescription("Cost in USD per model request"),
		metric.WithUnit("usd"),
	)
	if err != nil {
		return
	}
	costMetricsRegistered = true
}

// RecordCostMetrics records the per-request cost after a model call, tagged
// with the session and model for filtering in observability backends.
func RecordCostMetrics(ctx context.Context, costUSD float64, sessionID, model string) {
	costMetricsOnce.Do(initCostMetrics)
	if !costMetricsRegistered {
		return
	}
	costRequestHistogram.Record(ctx, costUSD, metric.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("model", model),
	))
}
