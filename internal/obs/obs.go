// Package obs is the ambient observability layer shared by the local and
// remote runners: a Prometheus registry for ad hoc named counters/timers
// (backing reqcontext's Metrics) and an OpenTelemetry tracer for
// per-invocation spans.
package obs

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tensorlake/sdk-go"

var (
	counters sync.Map // string -> prometheus.Counter
	gauges   sync.Map // string -> prometheus.Gauge
	timers   sync.Map // string -> prometheus.Histogram
)

func sanitize(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "tensorlake_" + r.Replace(name)
}

// CounterAdd adds value to the named counter, creating and registering it
// on first use.
func CounterAdd(name string, value float64) {
	key := sanitize(name)
	c, ok := counters.Load(key)
	if !ok {
		nc := prometheus.NewCounter(prometheus.CounterOpts{Name: key, Help: "user-reported counter " + name})
		actual, loaded := counters.LoadOrStore(key, nc)
		if !loaded {
			prometheus.DefaultRegisterer.Register(nc) //nolint:errcheck // duplicate registration is harmless here
		}
		c = actual
	}
	c.(prometheus.Counter).Add(value)
}

// TimerObserve records value (seconds) against the named histogram,
// creating and registering it on first use.
func TimerObserve(name string, value float64) {
	key := sanitize(name) + "_seconds"
	h, ok := timers.Load(key)
	if !ok {
		nh := prometheus.NewHistogram(prometheus.HistogramOpts{Name: key, Help: "user-reported timer " + name})
		actual, loaded := timers.LoadOrStore(key, nh)
		if !loaded {
			prometheus.DefaultRegisterer.Register(nh) //nolint:errcheck
		}
		h = actual
	}
	h.(prometheus.Histogram).Observe(value)
}

// GaugeSet sets the named gauge to value, creating and registering it on
// first use.
func GaugeSet(name string, value float64) {
	key := sanitize(name)
	g, ok := gauges.Load(key)
	if !ok {
		ng := prometheus.NewGauge(prometheus.GaugeOpts{Name: key, Help: "runner gauge " + name})
		actual, loaded := gauges.LoadOrStore(key, ng)
		if !loaded {
			prometheus.DefaultRegisterer.Register(ng) //nolint:errcheck
		}
		g = actual
	}
	g.(prometheus.Gauge).Set(value)
}

// StartSpan opens a span named name under ctx using the package tracer,
// tagging it with attrs. Callers must call the returned end func.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}
