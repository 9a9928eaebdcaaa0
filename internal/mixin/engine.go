// Package mixin accumulates mixin registrations from independent plugins and
// applies them to the application's class images in one pass per class.
//
// An Engine is driven by three host notifications: OnLoad with the
// application archive, OnLaunch (or Activate) with the access adapter, and
// OnUnload. Registration and flush are only permitted while the engine is
// Active.
package mixin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mixinhost/internal/archive"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateUnloaded State = iota
	StateLoadedNonCompliant
	StateLoadedCompliantPending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoadedNonCompliant:
		return "loaded-noncompliant"
	case StateLoadedCompliantPending:
		return "loaded-compliant-pending"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AdapterProvider supplies the access adapter named by the compliance
// descriptor.
type AdapterProvider interface {
	Adapter(ctx context.Context, name string) (mixinapi.Access, error)
}

// AdapterProviderFunc adapts a function to AdapterProvider.
type AdapterProviderFunc func(ctx context.Context, name string) (mixinapi.Access, error)

// Adapter implements AdapterProvider.
func (f AdapterProviderFunc) Adapter(ctx context.Context, name string) (mixinapi.Access, error) {
	return f(ctx, name)
}

// StaticAdapter provides the same adapter regardless of the requested name.
func StaticAdapter(access mixinapi.Access) AdapterProvider {
	return AdapterProviderFunc(func(context.Context, string) (mixinapi.Access, error) { return access, nil })
}

// Engine is one mixin host instance for one application.
type Engine struct {
	lib      transform.Library
	registry *Registry
	opts     engineOptions

	// mu guards the lifecycle fields and plugins. It is never held across
	// adapter I/O.
	mu          sync.RWMutex
	state       State
	archive     archive.Reader
	adapterName string
	access      mixinapi.Access
	plugins     map[string]PluginMetadata

	flushMu sync.Mutex
}

// New constructs an unloaded engine.
func New(lib transform.Library, opts ...Option) *Engine {
	if lib == nil {
		lib = transform.NewLibrary()
	}
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		lib:      lib,
		registry: NewRegistry(),
		opts:     o,
		plugins:  make(map[string]PluginMetadata),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// AdapterName returns the adapter named by the compliance descriptor, if any.
func (e *Engine) AdapterName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapterName
}

// Registry exposes the pending registrations for inspection.
func (e *Engine) Registry() *Registry { return e.registry }

// OnLoad handles the application load notification. Applications without a
// compliance descriptor leave the engine LoadedNonCompliant for good.
func (e *Engine) OnLoad(ctx context.Context, app archive.Reader) error {
	if app == nil {
		return fmt.Errorf("mixin: load: nil archive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateUnloaded {
		return fmt.Errorf("%w (state %s)", ErrAlreadyLoaded, e.state)
	}
	compliance, found, err := archive.LoadCompliance(ctx, app)
	if err != nil {
		return fmt.Errorf("mixin: load: %w", err)
	}
	e.archive = app
	if !found {
		e.state = StateLoadedNonCompliant
		e.opts.logger.Info("mixin host not loading, application is not mixin compliant")
		return nil
	}
	e.adapterName = compliance.AdapterName
	e.state = StateLoadedCompliantPending
	e.opts.logger.Info("mixin host loaded", "adapter", compliance.AdapterName)
	return nil
}

// Activate handles the launch notification without flushing: it obtains the
// adapter and makes the engine Active. Non-compliant applications are left
// untouched. Any provider failure leaves the engine in its previous state.
func (e *Engine) Activate(ctx context.Context, provider AdapterProvider) (err error) {
	start := time.Now()
	ctx, span := e.opts.tracer.Start(ctx, opActivate)
	defer func() {
		span.End(err)
		e.opts.metrics.Observe(ctx, opActivate, err == nil, time.Since(start))
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateLoadedNonCompliant:
		return nil
	case StateUnloaded:
		return &InactiveError{Operation: opActivate, State: e.state, Reason: ReasonNotLoaded}
	case StateActive:
		return nil
	}
	if provider == nil {
		return &AdapterUnavailableError{Name: e.adapterName, Err: fmt.Errorf("no adapter provider")}
	}
	access, perr := provider.Adapter(ctx, e.adapterName)
	if perr != nil {
		return &AdapterUnavailableError{Name: e.adapterName, Err: perr}
	}
	if access == nil {
		return &AdapterUnavailableError{Name: e.adapterName, Err: fmt.Errorf("provider returned no adapter")}
	}
	e.access = access
	e.state = StateActive
	e.opts.logger.Info("mixin host active", "adapter", e.adapterName)
	return nil
}

// OnLaunch activates the engine and flushes everything registered so far.
func (e *Engine) OnLaunch(ctx context.Context, provider AdapterProvider) (FlushReport, error) {
	if err := e.Activate(ctx, provider); err != nil {
		return FlushReport{}, err
	}
	if e.State() != StateActive {
		return FlushReport{}, nil
	}
	return e.Flush(ctx)
}

// OnUnload returns the engine to Unloaded and discards all registrations.
func (e *Engine) OnUnload(_ context.Context) {
	e.mu.Lock()
	wasActive := e.state == StateActive
	e.state = StateUnloaded
	e.archive = nil
	e.adapterName = ""
	e.access = nil
	e.plugins = make(map[string]PluginMetadata)
	e.mu.Unlock()
	e.registry.Reset()
	if wasActive {
		e.opts.logger.Info("mixin host unloading")
	}
}

// active returns the archive and adapter when the engine is Active.
func (e *Engine) active(operation string) (archive.Reader, mixinapi.Access, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case StateActive:
		return e.archive, e.access, nil
	case StateLoadedNonCompliant:
		return nil, nil, &InactiveError{Operation: operation, State: e.state, Reason: ReasonNotCompliant}
	default:
		return nil, nil, &InactiveError{Operation: operation, State: e.state, Reason: ReasonNotLoaded}
	}
}

// Register queues descriptor for target. The target must exist in the
// application archive; duplicates are kept and applied twice.
func (e *Engine) Register(ctx context.Context, target string, descriptor transform.Descriptor) (err error) {
	start := time.Now()
	ctx, span := e.opts.tracer.Start(ctx, opRegister)
	defer func() {
		span.End(err)
		e.opts.metrics.Observe(ctx, opRegister, err == nil, time.Since(start))
	}()

	app, _, err := e.active(opRegister)
	if err != nil {
		return err
	}
	if !descriptor.Valid() {
		return transform.ErrInvalidDescriptor
	}
	if descriptor.Target() != target {
		return fmt.Errorf("%w: registered against %s, descriptor targets %s", ErrTargetMismatch, target, descriptor.Target())
	}
	ok, err := app.Contains(ctx, target)
	if err != nil {
		return fmt.Errorf("mixin: check %s: %w", target, err)
	}
	if !ok {
		return &UnknownTargetError{Target: target}
	}
	e.registry.Add(target, descriptor)
	e.opts.logger.Debug("mixin registered", "target", target, "source", descriptor.Source())
	return nil
}
