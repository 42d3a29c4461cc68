// Package observability records ledger operation spans and exports the
// ledger's Prometheus metrics.
//
// This provides:
//   - Lightweight spans for every ledger operation, kept in a ring buffer
//   - Context propagation of a request-scoped trace ID
//   - Prometheus counters for deductions, credits, rank transitions and errors
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Operation Spans
// ═══════════════════════════════════════════════════════════════════════════

// Span is one recorded ledger operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent spans in memory for inspection.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span. The caller must call EndSpan.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if t == nil || !t.enabled {
		return &Span{Operation: operation, StartTime: time.Now()}
	}
	return &Span{
		TraceID:   TraceIDFromContext(ctx),
		SpanID:    generateID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span, records it and observes its metrics.
// err may be nil; errKind labels the error metric.
func (t *Tracer) EndSpan(span *Span, err error, errKind string) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	OperationDuration.WithLabelValues(span.Operation).Observe(span.Duration.Seconds())
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		OperationErrors.WithLabelValues(span.Operation, errKind).Inc()
	}

	if t == nil || !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: drop oldest at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const traceIDKey contextKey = "staffledger-trace-id"

// WithTraceID returns a context carrying traceID (e.g. an HTTP request id).
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the carried trace ID, or a fresh one.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	return generateID()
}

var spanCounter atomic.Int64

// generateID creates a short process-unique ID.
func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// DeductionsTotal counts applied deductions by violation.
var DeductionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "deductions_total",
	Help:      "Total point deductions applied, by violation id.",
}, []string{"violation"})

// PointsDeducted counts deducted points.
var PointsDeducted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "points_deducted_total",
	Help:      "Total points removed by deductions.",
})

// CreditsTotal counts applied credits.
var CreditsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Total point credits applied.",
})

// PointsCredited counts credited points.
var PointsCredited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "points_credited_total",
	Help:      "Total points added by credits, promotions and reinstatements.",
})

// RankTransitions counts rank changes by kind (demotion, promotion, removal,
// reinstatement) and ranks involved.
var RankTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "rank_transitions_total",
	Help:      "Total rank transitions by kind and from/to rank.",
}, []string{"kind", "from", "to"})

// MembersAdded counts new roster entries by starting rank.
var MembersAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "members_added_total",
	Help:      "Total members added, by starting rank.",
}, []string{"rank"})

// OperationErrors counts failed operations by error kind.
var OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "operation_errors_total",
	Help:      "Total failed ledger operations by operation and error kind.",
}, []string{"operation", "kind"})

// OperationDuration tracks ledger operation latency.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "staffledger",
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Ledger operation latency in seconds.",
	Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1},
}, []string{"operation"})
