package mixin

import (
	"context"
	"time"
)

// Logger is the structured logging surface used by the engine. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock supplies timestamps for audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes engine operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around engine operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error (nil on success).
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome of one audited flush target.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records what one flush did to one target.
type AuditEntry struct {
	RunID       string
	Operation   string
	Target      string
	Sources     []string
	Descriptors int
	BytesIn     int
	BytesOut    int
	Status      AuditStatus
	Error       string
	Duration    time.Duration
	Timestamp   time.Time
}

// AuditRecorder persists audit entries. Failures are logged, never fatal to
// a flush.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

const (
	opRegister = "register"
	opFlush    = "flush"
	opApply    = "apply"
	opActivate = "activate"
)

type engineOptions struct {
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	policy  FlushPolicy
	runID   func() string
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		policy:  FlushContinue,
		runID:   newRunID,
	}
}

// Option customizes an Engine.
type Option func(*engineOptions)

// WithClock overrides the audit timestamp source.
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder records one entry per flushed target.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *engineOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder observes register, activate, flush and apply outcomes.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *engineOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer wraps register, activate and flush in spans.
func WithTracer(tracer Tracer) Option {
	return func(o *engineOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithFlushPolicy selects how Flush reacts to a failing target.
func WithFlushPolicy(policy FlushPolicy) Option {
	return func(o *engineOptions) {
		o.policy = policy
	}
}

// WithRunIDs overrides flush run identifier generation.
func WithRunIDs(next func() string) Option {
	return func(o *engineOptions) {
		if next != nil {
			o.runID = next
		}
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) error { return nil }

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
