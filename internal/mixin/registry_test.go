package mixin

import (
	"context"
	"testing"
)

func TestRegistrySnapshotAndSettle(t *testing.T) {
	r := NewRegistry()
	r.Add("b", appendOp("b", "s", "1"))
	r.Add("a", appendOp("a", "s", "1"))
	r.Add("a", appendOp("a", "s", "2"))

	batches := r.snapshot()
	if len(batches) != 2 || batches[0].target != "a" || batches[1].target != "b" {
		t.Fatalf("snapshot must be sorted, got %+v", batches)
	}
	if len(batches[0].descriptors) != 2 {
		t.Fatalf("expected 2 descriptors for a")
	}

	r.Add("a", appendOp("a", "s", "3"))
	r.settle("a", len(batches[0].descriptors))
	pending := r.Pending("a")
	if len(pending) != 1 {
		t.Fatalf("late descriptor must remain, got %d", len(pending))
	}
	if dirty := r.Dirty(); len(dirty) != 2 {
		t.Fatalf("a and b must stay dirty, got %v", dirty)
	}

	r.settle("b", 1)
	r.settle("a", 5)
	if dirty := r.Dirty(); len(dirty) != 0 {
		t.Fatalf("everything settled, got %v", dirty)
	}
}

func TestRegistryResetAndPendingCopy(t *testing.T) {
	r := NewRegistry()
	r.Add("a", appendOp("a", "s", "1"))
	pending := r.Pending("a")
	pending[0] = appendOp("a", "other", "9")
	if r.Pending("a")[0].Source() != "s" {
		t.Fatalf("Pending must return a copy")
	}
	r.Reset()
	if len(r.Dirty()) != 0 || len(r.Pending("a")) != 0 {
		t.Fatalf("reset must clear state")
	}
}

func TestDefaultOptionsAreUsable(t *testing.T) {
	o := defaultEngineOptions()
	o.logger.Debug("x")
	o.logger.Info("x")
	o.logger.Warn("x")
	o.logger.Error("x")
	ctx := context.Background()
	if err := o.audit.Record(ctx, AuditEntry{}); err != nil {
		t.Fatalf("noop audit: %v", err)
	}
	o.metrics.Observe(ctx, "x", true, 0)
	_, span := o.tracer.Start(ctx, "x")
	span.End(nil)
	if o.clock.Now().IsZero() || o.runID() == "" || o.policy != FlushContinue {
		t.Fatalf("unexpected defaults")
	}

	WithClock(nil)(&o)
	WithLogger(nil)(&o)
	WithAuditRecorder(nil)(&o)
	WithMetricsRecorder(nil)(&o)
	WithTracer(nil)(&o)
	WithRunIDs(nil)(&o)
	if o.clock == nil || o.logger == nil || o.audit == nil || o.metrics == nil || o.tracer == nil || o.runID == nil {
		t.Fatalf("nil options must keep defaults")
	}
}
