package mixin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mixinhost/pkg/transform"
)

func TestFlushComposesPerTargetWithOneReadWrite(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	if err := e.Register(ctx, "Foo", appendOp("Foo", "com.a.MixinA", "A")); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := e.Register(ctx, "Foo", appendOp("Foo", "com.b.MixinB", "B")); err != nil {
		t.Fatalf("register B: %v", err)
	}
	if got := e.Registry().Dirty(); len(got) != 1 || got[0] != "Foo" {
		t.Fatalf("expected Foo dirty, got %v", got)
	}

	report, err := e.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := access.body(t, "Foo"); got != "AB" {
		t.Fatalf("expected body AB, got %q", got)
	}
	if access.reads["Foo"] != 1 || access.writes["Foo"] != 1 {
		t.Fatalf("expected one read and one write, got %d/%d", access.reads["Foo"], access.writes["Foo"])
	}
	if len(report.Applied) != 1 || report.Applied[0] != "Foo" || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(e.Registry().Dirty()) != 0 || len(e.Registry().Pending("Foo")) != 0 {
		t.Fatalf("flushed target must be settled")
	}
}

func TestFlushWithNothingDirtyMakesNoAdapterCalls(t *testing.T) {
	e, access := activeEngine(t, []string{"Foo"})
	report, err := e.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if r, w := access.calls(); r != 0 || w != 0 {
		t.Fatalf("expected no adapter calls, got %d reads %d writes", r, w)
	}
	if report.RunID == "" || len(report.Applied) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestFlushTwiceOnlyAppliesNewRegistrations(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo", "Bar"})
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if access.writes["Foo"] != 1 {
		t.Fatalf("re-flush must not rewrite Foo, got %d writes", access.writes["Foo"])
	}

	if err := e.Register(ctx, "Foo", appendOp("Foo", "b", "B")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("third flush: %v", err)
	}
	if got := access.body(t, "Foo"); got != "AB" {
		t.Fatalf("expected AB after incremental flush, got %q", got)
	}
	if access.reads["Bar"] != 0 {
		t.Fatalf("Bar was never dirty")
	}
}

func TestFlushTargetsInLexicalOrder(t *testing.T) {
	ctx := context.Background()
	var order []string
	var mu sync.Mutex
	lib := recordingLibrary{Library: transform.NewLibrary(), applied: func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}}
	e, _ := activeEngine(t, []string{"b.Zed", "a.Foo", "a.Bar"})
	e.lib = lib
	for _, target := range []string{"b.Zed", "a.Foo", "a.Bar"} {
		if err := e.Register(ctx, target, appendOp(target, "m", "X")); err != nil {
			t.Fatalf("register %s: %v", target, err)
		}
	}
	report, err := e.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := []string{"a.Bar", "a.Foo", "b.Zed"}
	if fmt.Sprint(order) != fmt.Sprint(want) || fmt.Sprint(report.Applied) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got order %v applied %v", want, order, report.Applied)
	}
}

// recordingLibrary reports the target of every MixinOf call.
type recordingLibrary struct {
	transform.Library
	applied func(string)
}

func (r recordingLibrary) MixinOf(target, source string, md ...transform.Metadata) (transform.Transform, error) {
	r.applied(target)
	return r.Library.MixinOf(target, source, md...)
}

func TestFlushMissingClassLeavesTargetDirty(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	delete(access.images, "Foo")
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	report, err := e.Flush(ctx)
	var missing *MissingClassError
	if !errors.As(err, &missing) || missing.Target != "Foo" {
		t.Fatalf("expected MissingClassError for Foo, got %v", err)
	}
	var terr *TargetError
	if !errors.As(err, &terr) || terr.Target != "Foo" {
		t.Fatalf("expected TargetError wrapping, got %v", err)
	}
	if access.writes["Foo"] != 0 {
		t.Fatalf("missing class must not be written")
	}
	if report.Failed["Foo"] == nil {
		t.Fatalf("report must list Foo as failed")
	}
	if got := e.Registry().Dirty(); len(got) != 1 || got[0] != "Foo" {
		t.Fatalf("failed target must stay dirty, got %v", got)
	}
}

func TestFlushContinuePolicyAttemptsEveryTarget(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"A", "B", "C"})
	access.readErr["B"] = errBoom
	for _, target := range []string{"A", "B", "C"} {
		if err := e.Register(ctx, target, appendOp(target, "m", "X")); err != nil {
			t.Fatalf("register %s: %v", target, err)
		}
	}
	report, err := e.Flush(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected joined read error, got %v", err)
	}
	if fmt.Sprint(report.Applied) != "[A C]" || len(report.Skipped) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := e.Registry().Dirty(); fmt.Sprint(got) != "[B]" {
		t.Fatalf("only B should stay dirty, got %v", got)
	}
}

func TestFlushFailFastSkipsRemainingTargets(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"A", "B", "C"}, WithFlushPolicy(FlushFailFast))
	access.writeErr["B"] = errBoom
	for _, target := range []string{"A", "B", "C"} {
		if err := e.Register(ctx, target, appendOp(target, "m", "X")); err != nil {
			t.Fatalf("register %s: %v", target, err)
		}
	}
	report, err := e.Flush(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if fmt.Sprint(report.Applied) != "[A]" || fmt.Sprint(report.Skipped) != "[C]" {
		t.Fatalf("unexpected report %+v", report)
	}
	if access.reads["C"] != 0 {
		t.Fatalf("skipped target must not be read")
	}
	if got := e.Registry().Dirty(); fmt.Sprint(got) != "[B C]" {
		t.Fatalf("expected B and C dirty, got %v", got)
	}

	delete(access.writeErr, "B")
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if access.body(t, "B") != "X" || access.body(t, "C") != "X" || access.body(t, "A") != "X" {
		t.Fatalf("retry must apply each descriptor exactly once")
	}
}

func TestFlushComposeFailureIsReported(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	bad := transform.MustDescriptor("Foo", "a", transform.MethodInjection{Method: "absent"})
	if err := e.Register(ctx, "Foo", bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := e.Flush(ctx)
	var step *transform.StepError
	if !errors.As(err, &step) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if access.writes["Foo"] != 0 {
		t.Fatalf("failed rewrite must not be written")
	}
}

func TestConcurrentRegisterKeepsEveryDescriptor(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	const workers, each = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				errs <- e.Register(ctx, "Foo", appendOp("Foo", fmt.Sprintf("src%d", w), "X"))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if n := len(e.Registry().Pending("Foo")); n != workers*each {
		t.Fatalf("expected %d pending, got %d", workers*each, n)
	}
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(access.body(t, "Foo")); got != workers*each {
		t.Fatalf("expected %d instructions, got %d", workers*each, got)
	}
}

func TestRegisterDuringFlushStaysDirty(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	gate := &gatedAccess{memAccess: access, entered: make(chan struct{}), release: make(chan struct{})}
	e.access = gate

	done := make(chan error, 1)
	go func() {
		_, err := e.Flush(ctx)
		done <- err
	}()
	<-gate.entered
	if err := e.Register(ctx, "Foo", appendOp("Foo", "b", "B")); err != nil {
		t.Fatalf("register during flush: %v", err)
	}
	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := access.body(t, "Foo"); got != "A" {
		t.Fatalf("first flush applies the snapshot only, got %q", got)
	}
	if got := e.Registry().Pending("Foo"); len(got) != 1 || got[0].Source() != "b" {
		t.Fatalf("late descriptor must stay pending, got %d", len(got))
	}
	e.access = access
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := access.body(t, "Foo"); got != "AB" {
		t.Fatalf("expected AB, got %q", got)
	}
}

type gatedAccess struct {
	*memAccess
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAccess) Read(ctx context.Context, name string) ([]byte, bool, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.memAccess.Read(ctx, name)
}

func TestFlushRecordsAuditMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := &auditStub{}
	metrics := &metricsStub{}
	tracer := NewJSONTracer(nil)
	e, access := activeEngine(t, []string{"Foo", "Bar"},
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
		WithRunIDs(func() string { return "run-1" }),
	)
	delete(access.images, "Bar")
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := e.Register(ctx, "Foo", appendOp("Foo", "b", "B")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := e.Register(ctx, "Bar", appendOp("Bar", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	report, err := e.Flush(ctx)
	if err == nil {
		t.Fatalf("expected Bar failure")
	}
	if report.RunID != "run-1" {
		t.Fatalf("unexpected run id %q", report.RunID)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audit.entries))
	}
	bar, foo := audit.entries[0], audit.entries[1]
	if bar.Target != "Bar" || bar.Status != AuditStatusError || bar.Error == "" {
		t.Fatalf("unexpected Bar entry %+v", bar)
	}
	if foo.Target != "Foo" || foo.Status != AuditStatusSuccess || foo.Descriptors != 2 {
		t.Fatalf("unexpected Foo entry %+v", foo)
	}
	if fmt.Sprint(foo.Sources) != "[a b]" || foo.RunID != "run-1" || !foo.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected Foo entry %+v", foo)
	}
	if foo.BytesIn == 0 || foo.BytesOut <= foo.BytesIn {
		t.Fatalf("expected image to grow, in %d out %d", foo.BytesIn, foo.BytesOut)
	}
	if fmt.Sprint(metrics.seen[opApply]) != "[false true]" {
		t.Fatalf("unexpected apply metrics %v", metrics.seen[opApply])
	}
	if fmt.Sprint(metrics.seen[opFlush]) != "[false]" || len(metrics.seen[opRegister]) != 3 {
		t.Fatalf("unexpected metrics %v", metrics.seen)
	}
	var flushSpans int
	for _, span := range tracer.Entries() {
		if span.Operation == opFlush {
			flushSpans++
			if span.Status != string(AuditStatusError) {
				t.Fatalf("flush span should record the error")
			}
		}
	}
	if flushSpans != 1 {
		t.Fatalf("expected one flush span, got %d", flushSpans)
	}
}

func TestAuditFailureIsLoggedNotFatal(t *testing.T) {
	ctx := context.Background()
	logs := &logStub{}
	e, _ := activeEngine(t, []string{"Foo"}, WithAuditRecorder(&auditStub{err: errBoom}), WithLogger(logs))
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.Flush(ctx); err != nil {
		t.Fatalf("audit failure must not fail the flush: %v", err)
	}
	if !logs.has("warn", "mixin audit record failed") {
		t.Fatalf("expected audit warning, got %v", logs.msgs)
	}
}

func TestOnLaunchFlushesEarlierRegistrations(t *testing.T) {
	ctx := context.Background()
	e, access := activeEngine(t, []string{"Foo"})
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	report, err := e.OnLaunch(ctx, StaticAdapter(access))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if fmt.Sprint(report.Applied) != "[Foo]" || access.body(t, "Foo") != "A" {
		t.Fatalf("launch must flush pending registrations, report %+v", report)
	}
}

func TestParseFlushPolicy(t *testing.T) {
	cases := map[string]FlushPolicy{"": FlushContinue, "continue": FlushContinue, "fail-fast": FlushFailFast, "failfast": FlushFailFast}
	for in, want := range cases {
		got, err := ParseFlushPolicy(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseFlushPolicy("later"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
	if FlushFailFast.String() != "fail-fast" || FlushContinue.String() != "continue" {
		t.Fatalf("unexpected policy strings")
	}
}
