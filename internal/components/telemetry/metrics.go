package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// MetricsAPI forwards everything to an inner API and additionally records counts as otel
// measurements under the `report.count` histogram, keyed by the report id.
type MetricsAPI struct {
	API

	once      sync.Once
	histogram otelmetric.Int64Histogram
}

func NewMetricsAPI(inner API) *MetricsAPI {
	return &MetricsAPI{API: inner}
}

func (m *MetricsAPI) ReportCount(id string, count int64) {
	m.API.ReportCount(id, count)

	m.once.Do(func() {
		histogram, err := otel.Meter("portal-notifier").Int64Histogram(
			"report.count",
			otelmetric.WithDescription("point in time counts reported by components"),
		)
		if err != nil {
			m.API.ReportWarning("telemetry.metrics", err)
			return
		}
		m.histogram = histogram
	})
	if m.histogram == nil {
		return
	}
	m.histogram.Record(context.Background(), count, otelmetric.WithAttributes(attribute.String("id", id)))
}
