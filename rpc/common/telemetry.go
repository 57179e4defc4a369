package common

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var telemetryLogger = logger.GetLogger("telemetry")

// Span marks one traced operation (handshake, dispatch, publish fan-out).
// The metrics are registered in the process wide VictoriaMetrics set and can
// be exported by the embedding application with metrics.WritePrometheus.
type Span struct {
	name  string
	label string
	start time.Time
}

// StartSpan starts a span. label is an optional "key=value" label, e.g. `variant="noise"`.
func StartSpan(name, label string) *Span {
	return &Span{name: name, label: label, start: time.Now()}
}

// End records the span. A nil err counts as success.
func (s *Span) End(err error) time.Duration {
	d := time.Since(s.start)
	metrics.GetOrCreateCounter(s.metric("total")).Inc()
	metrics.GetOrCreateHistogram(s.metric("duration_seconds")).Update(d.Seconds())
	if err != nil {
		metrics.GetOrCreateCounter(s.metric("errors_total")).Inc()
		telemetryLogger.Debugf("span %s{%s} failed after %s: %v", s.name, s.label, d, err)
	} else {
		telemetryLogger.Debugf("span %s{%s} took %s", s.name, s.label, d)
	}
	return d
}

func (s *Span) metric(suffix string) string {
	return MetricName(s.name, suffix, s.label)
}

// MetricName builds a metric name of the form pkv_<name>_<suffix>{label}
func MetricName(name, suffix, label string) string {
	if label == "" {
		return fmt.Sprintf("pkv_%s_%s", name, suffix)
	}
	return fmt.Sprintf("pkv_%s_%s{%s}", name, suffix, label)
}

// IncCounter increments the counter pkv_<name>_total{label} by n
func IncCounter(name, label string, n int) {
	metrics.GetOrCreateCounter(MetricName(name, "total", label)).Add(n)
}

// CounterValue returns the current value of pkv_<name>_total{label}
func CounterValue(name, label string) uint64 {
	return metrics.GetOrCreateCounter(MetricName(name, "total", label)).Get()
}
