// Package telemetry exports phase metrics to Prometheus and phase spans to
// OpenTelemetry. Both are driven by Observer, a phase.Observer attached to
// a world's tracker.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

const (
	namespace = "causeway"

	// TracerName is the instrumentation name of phase spans.
	TracerName = "github.com/roach88/causeway/phase"
)

// Config configures an Observer.
type Config struct {
	// Registerer receives the metrics.
	// If nil, uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// TracerProvider creates the phase tracer.
	// If nil, uses the global provider (otel.GetTracerProvider).
	TracerProvider trace.TracerProvider

	// World labels every metric and span.
	World string
}

// Metrics holds the Prometheus collectors for phases.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// PhasesTotal counts completed phases by phase name and outcome.
	PhasesTotal *prometheus.CounterVec

	// ActivePhases is the number of phases currently open.
	ActivePhases *prometheus.GaugeVec

	// PhaseDurationSeconds measures wall time from begin to end.
	PhaseDurationSeconds *prometheus.HistogramVec

	// TransactionsPerPhase measures chain length at end.
	TransactionsPerPhase *prometheus.HistogramVec

	// EventsTotal counts dispatched events by type and cancelled flag.
	EventsTotal *prometheus.CounterVec

	// RestoreFailuresTotal counts restores that failed during rollback.
	RestoreFailuresTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "total",
				Help:      "Completed phases by phase and outcome",
			},
			[]string{"world", "phase", "outcome"},
		),

		ActivePhases: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "active",
				Help:      "Phases currently open, idle excluded",
			},
			[]string{"world"},
		),

		PhaseDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "duration_seconds",
				Help:      "Wall time from phase begin to end",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"world", "phase"},
		),

		TransactionsPerPhase: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "phase",
				Name:      "transactions",
				Help:      "Transactions captured per phase",
				Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"world", "phase"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "event",
				Name:      "total",
				Help:      "Dispatched events by type and cancelled flag",
			},
			[]string{"world", "type", "cancelled"},
		),

		RestoreFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "restore_failures_total",
				Help:      "Restores that failed during rollback, by phase",
			},
			[]string{"world", "phase"},
		),
	}
}

// Observer records metrics and spans for every phase of a tracker.
type Observer struct {
	world   string
	metrics *Metrics
	tracer  trace.Tracer

	mu    sync.Mutex
	spans map[*phase.Context]openSpan
}

type openSpan struct {
	ctx   context.Context
	span  trace.Span
	began time.Time
}

// NewObserver registers the phase metrics on cfg.Registerer and returns an
// observer using them. Registering twice on one registry panics, as with
// any promauto collector.
func NewObserver(cfg Config) *Observer {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{
		world:   cfg.World,
		metrics: newMetrics(reg),
		tracer:  tp.Tracer(TracerName),
		spans:   make(map[*phase.Context]openSpan),
	}
}

// Metrics returns the observer's collectors.
func (o *Observer) Metrics() *Metrics {
	return o.metrics
}

// PhaseBegan implements phase.Observer. It starts a span, child of the
// enclosing phase's span when there is one.
func (o *Observer) PhaseBegan(c *phase.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	parent := context.Background()
	if p := c.Parent(); p != nil {
		if open, ok := o.spans[p]; ok {
			parent = open.ctx
		}
	}
	ctx, span := o.tracer.Start(parent, "phase."+c.Phase().Name(),
		trace.WithAttributes(
			attribute.String("causeway.world", o.world),
			attribute.String("causeway.phase", c.Phase().Name()),
			attribute.String("causeway.phase_id", c.ID()),
			attribute.String("causeway.kind", string(c.Phase().Kind())),
			attribute.Int("causeway.depth", c.Depth()),
			attribute.Int64("causeway.began_seq", c.BeganSeq()),
			attribute.StringSlice("causeway.cause", c.Cause().Strings()),
		),
	)
	o.spans[c] = openSpan{ctx: ctx, span: span, began: time.Now()}
	o.metrics.ActivePhases.WithLabelValues(o.world).Inc()
}

// PhaseEnded implements phase.Observer.
func (o *Observer) PhaseEnded(c *phase.Context, out phase.Outcome) {
	name := c.Phase().Name()
	m := o.metrics

	m.PhasesTotal.WithLabelValues(o.world, name, string(out.Result)).Inc()
	m.TransactionsPerPhase.WithLabelValues(o.world, name).Observe(float64(c.Chain().Len()))
	for _, e := range out.Events {
		m.EventsTotal.WithLabelValues(o.world, e.Type(), strconv.FormatBool(e.Cancelled())).Inc()
	}
	if n := len(out.Rollback.Failures); n > 0 {
		m.RestoreFailuresTotal.WithLabelValues(o.world, name).Add(float64(n))
	}

	o.mu.Lock()
	open, ok := o.spans[c]
	delete(o.spans, c)
	o.mu.Unlock()
	if !ok {
		return
	}
	m.ActivePhases.WithLabelValues(o.world).Dec()
	m.PhaseDurationSeconds.WithLabelValues(o.world, name).Observe(time.Since(open.began).Seconds())

	span := open.span
	span.SetAttributes(
		attribute.String("causeway.outcome", string(out.Result)),
		attribute.Int("causeway.transactions", c.Chain().Len()),
		attribute.Int("causeway.events", len(out.Events)),
		attribute.Int("causeway.cancelled_batches", out.CancelledBatches),
		attribute.Int("causeway.restored", out.Rollback.Restored),
		attribute.Int64("causeway.ended_seq", out.EndedSeq),
	)
	for _, f := range out.Rollback.Failures {
		span.AddEvent("restore_failed", trace.WithAttributes(
			attribute.String("causeway.kind", string(f.Kind)),
			attribute.String("causeway.target", f.Target),
			attribute.String("error", f.Err.Error()),
		))
	}
	switch {
	case out.Err != nil:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	case out.Result == ir.OutcomeRolledBackPartial:
		span.SetStatus(codes.Error, "rollback incomplete")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
// A nil g serves prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
