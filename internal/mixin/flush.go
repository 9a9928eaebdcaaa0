package mixin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mixinhost/pkg/mixinapi"
)

// FlushPolicy selects how Flush handles a failing target.
type FlushPolicy int

const (
	// FlushContinue attempts every dirty target and returns all failures joined.
	FlushContinue FlushPolicy = iota
	// FlushFailFast stops at the first failing target; later targets stay dirty.
	FlushFailFast
)

func (p FlushPolicy) String() string {
	if p == FlushFailFast {
		return "fail-fast"
	}
	return "continue"
}

// ParseFlushPolicy maps "continue" and "fail-fast" to a FlushPolicy.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch s {
	case "", "continue":
		return FlushContinue, nil
	case "fail-fast", "failfast":
		return FlushFailFast, nil
	default:
		return FlushContinue, fmt.Errorf("mixin: unknown flush policy %q", s)
	}
}

// FlushReport summarizes one flush.
type FlushReport struct {
	RunID   string
	Applied []string
	Failed  map[string]error
	Skipped []string
}

func newRunID() string { return uuid.NewString() }

// Flush composes and applies the pending descriptors of every dirty target:
// read the image, rewrite it, write it back. Targets are processed in lexical
// order. A flush with nothing dirty performs no adapter calls. Successfully
// written targets are settled; failed and skipped targets stay dirty.
func (e *Engine) Flush(ctx context.Context) (report FlushReport, err error) {
	start := time.Now()
	ctx, span := e.opts.tracer.Start(ctx, opFlush)
	defer func() {
		span.End(err)
		e.opts.metrics.Observe(ctx, opFlush, err == nil, time.Since(start))
	}()

	_, access, err := e.active(opFlush)
	if err != nil {
		return FlushReport{}, err
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	report = FlushReport{RunID: e.opts.runID(), Failed: map[string]error{}}
	batches := e.registry.snapshot()
	if len(batches) == 0 {
		return report, nil
	}
	e.opts.logger.Info("mixin flush started", "run_id", report.RunID, "targets", len(batches), "policy", e.opts.policy.String())

	var errs []error
	for i, b := range batches {
		if aerr := e.applyTarget(ctx, access, report.RunID, b); aerr != nil {
			terr := &TargetError{Target: b.target, Err: aerr}
			report.Failed[b.target] = aerr
			errs = append(errs, terr)
			e.opts.logger.Error("mixin flush target failed", "run_id", report.RunID, "target", b.target, "error", aerr)
			if e.opts.policy == FlushFailFast {
				for _, rest := range batches[i+1:] {
					report.Skipped = append(report.Skipped, rest.target)
				}
				break
			}
			continue
		}
		e.registry.settle(b.target, len(b.descriptors))
		report.Applied = append(report.Applied, b.target)
	}
	e.opts.logger.Info("mixin flush finished", "run_id", report.RunID, "applied", len(report.Applied), "failed", len(report.Failed))
	return report, errors.Join(errs...)
}

func (e *Engine) applyTarget(ctx context.Context, access mixinapi.Access, runID string, b batch) (err error) {
	start := time.Now()
	entry := AuditEntry{RunID: runID, Operation: opApply, Target: b.target, Sources: sourcesOf(b.descriptors), Descriptors: len(b.descriptors)}
	defer func() {
		elapsed := time.Since(start)
		e.opts.metrics.Observe(ctx, opApply, err == nil, elapsed)
		entry.Duration = elapsed
		entry.Timestamp = e.opts.clock.Now()
		entry.Status = AuditStatusSuccess
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		if rerr := e.opts.audit.Record(ctx, entry); rerr != nil {
			e.opts.logger.Warn("mixin audit record failed", "target", b.target, "error", rerr)
		}
	}()

	composed, err := Compose(e.lib, b.descriptors)
	if err != nil {
		return err
	}

	image, ok, err := access.Read(ctx, b.target)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !ok {
		return &MissingClassError{Target: b.target}
	}
	entry.BytesIn = len(image)

	rewritten, err := e.lib.Apply(image, composed)
	if err != nil {
		return err
	}
	entry.BytesOut = len(rewritten)

	if err := access.Write(ctx, b.target, rewritten); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	e.opts.logger.Debug("mixin applied", "run_id", runID, "target", b.target, "descriptors", len(b.descriptors), "sources", entry.Sources)
	return nil
}
