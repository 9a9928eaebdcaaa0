package mixin

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes an expvar.Map with two children:
// duration_ms (total milliseconds per operation) and results (per operation,
// a count per outcome).
type ExpvarMetricsRecorder struct {
	name      string
	durations *expvar.Map
	results   *expvar.Map

	mu sync.Mutex // serializes creation of per-operation result maps
}

// ExpvarMetricsSnapshot mirrors the published JSON.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"duration_ms"`
	Results     map[string]map[string]int64 `json:"results"`
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name
// gets a generated one; expvar panics on duplicate names.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("mixin_engine_metrics_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: new(expvar.Map).Init(),
		results:   new(expvar.Map).Init(),
	}
	root := expvar.NewMap(name)
	root.Set("duration_ms", rec.durations)
	root.Set("results", rec.results)
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current values out of the published maps.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{
		DurationsMS: map[string]float64{},
		Results:     map[string]map[string]int64{},
	}
	r.durations.Do(func(kv expvar.KeyValue) {
		snap.DurationsMS[kv.Key] = kv.Value.(*expvar.Float).Value()
	})
	r.results.Do(func(op expvar.KeyValue) {
		counts := map[string]int64{}
		op.Value.(*expvar.Map).Do(func(kv expvar.KeyValue) {
			counts[kv.Key] = kv.Value.(*expvar.Int).Value()
		})
		snap.Results[op.Key] = counts
	})
	return snap
}

// Observe implements MetricsRecorder. Observations without an operation
// name are dropped.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := AuditStatusError
	if success {
		status = AuditStatusSuccess
	}
	r.durations.AddFloat(operation, float64(duration)/float64(time.Millisecond))
	r.outcomes(operation).Add(string(status), 1)
}

func (r *ExpvarMetricsRecorder) outcomes(operation string) *expvar.Map {
	if m, ok := r.results.Get(operation).(*expvar.Map); ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.results.Get(operation).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.results.Set(operation, m)
	return m
}

// JSONTraceEntry is one ended span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTracer writes each ended span as one JSON line and retains it.
type JSONTracer struct {
	out io.Writer

	mu    sync.Mutex
	ended []JSONTraceEntry
}

// NewJSONTracer returns a tracer writing to out; with a nil out spans are
// only retained.
func NewJSONTracer(out io.Writer) *JSONTracer {
	return &JSONTracer{out: out}
}

// Entries returns the ended spans in end order.
func (t *JSONTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.ended...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, entry: JSONTraceEntry{Operation: operation, StartedAt: time.Now().UTC()}}
}

func (t *JSONTracer) finish(entry JSONTraceEntry) {
	line, _ := json.Marshal(entry)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = append(t.ended, entry)
	if t.out != nil {
		_, _ = t.out.Write(append(line, '\n'))
	}
}

type jsonSpan struct {
	tracer *JSONTracer
	entry  JSONTraceEntry
}

func (s *jsonSpan) End(err error) {
	e := s.entry
	e.EndedAt = time.Now().UTC()
	e.DurationMS = float64(e.EndedAt.Sub(e.StartedAt)) / float64(time.Millisecond)
	e.Status = string(AuditStatusSuccess)
	if err != nil {
		e.Status = string(AuditStatusError)
		e.Error = err.Error()
	}
	s.tracer.finish(e)
}
