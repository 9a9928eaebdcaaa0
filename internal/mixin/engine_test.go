package mixin

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"mixinhost/internal/archive"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

func TestRegisterBeforeLoadIsInactiveNotLoaded(t *testing.T) {
	e := New(nil)
	err := e.Register(context.Background(), "Foo", appendOp("Foo", "a", "A"))
	var inactive *InactiveError
	if !errors.As(err, &inactive) {
		t.Fatalf("expected InactiveError, got %v", err)
	}
	if inactive.Reason != ReasonNotLoaded {
		t.Fatalf("expected reason %q, got %q", ReasonNotLoaded, inactive.Reason)
	}
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected errors.Is ErrInactive")
	}
	if len(e.Registry().Dirty()) != 0 {
		t.Fatalf("registry must stay empty")
	}
}

func TestNonCompliantApplicationStaysInactive(t *testing.T) {
	ctx := context.Background()
	logs := &logStub{}
	e := New(nil, WithLogger(logs))
	app := archive.NewFS(fstest.MapFS{"Foo.class": {Data: []byte("x")}})
	if err := e.OnLoad(ctx, app); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.State() != StateLoadedNonCompliant {
		t.Fatalf("expected noncompliant, got %s", e.State())
	}
	if !logs.has("info", "mixin host not loading, application is not mixin compliant") {
		t.Fatalf("expected noncompliance notice, got %v", logs.msgs)
	}

	provider := AdapterProviderFunc(func(context.Context, string) (mixinapi.Access, error) {
		t.Fatalf("provider must not be consulted for a noncompliant application")
		return nil, nil
	})
	report, err := e.OnLaunch(ctx, provider)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if len(report.Applied) != 0 || e.State() != StateLoadedNonCompliant {
		t.Fatalf("launch must be a no-op, state %s", e.State())
	}

	err = e.Register(ctx, "Foo", appendOp("Foo", "a", "A"))
	var inactive *InactiveError
	if !errors.As(err, &inactive) || inactive.Reason != ReasonNotCompliant {
		t.Fatalf("expected not-compliant InactiveError, got %v", err)
	}
	if _, err := e.Flush(ctx); !errors.Is(err, ErrInactive) {
		t.Fatalf("flush: expected inactive, got %v", err)
	}
}

func TestLoadedButNotLaunchedRejectsRegister(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	if err := e.OnLoad(ctx, archive.NewFS(compliantApp("Foo"))); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.State() != StateLoadedCompliantPending {
		t.Fatalf("expected pending, got %s", e.State())
	}
	if e.AdapterName() != testAdapter {
		t.Fatalf("adapter name: %q", e.AdapterName())
	}
	err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A"))
	var inactive *InactiveError
	if !errors.As(err, &inactive) || inactive.Reason != ReasonNotLoaded {
		t.Fatalf("expected not-loaded InactiveError, got %v", err)
	}
}

func TestOnLoadTwiceFails(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	app := archive.NewFS(compliantApp("Foo"))
	if err := e.OnLoad(ctx, app); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.OnLoad(ctx, app); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}
	if err := e.OnLoad(ctx, nil); err == nil {
		t.Fatalf("expected error for nil archive")
	}
}

func TestOnLoadRejectsMalformedCompliance(t *testing.T) {
	e := New(nil)
	app := archive.NewFS(fstest.MapFS{archive.ComplianceResource: {Data: []byte("other=1\n")}})
	if err := e.OnLoad(context.Background(), app); err == nil {
		t.Fatalf("expected malformed compliance error")
	}
	if e.State() != StateUnloaded {
		t.Fatalf("failed load must leave engine unloaded, got %s", e.State())
	}
}

func TestActivateAdapterFailuresCollapse(t *testing.T) {
	ctx := context.Background()
	cases := map[string]AdapterProvider{
		"nil provider": nil,
		"provider error": AdapterProviderFunc(func(context.Context, string) (mixinapi.Access, error) {
			return nil, errBoom
		}),
		"nil adapter": AdapterProviderFunc(func(context.Context, string) (mixinapi.Access, error) {
			return nil, nil
		}),
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			e := New(nil)
			if err := e.OnLoad(ctx, archive.NewFS(compliantApp("Foo"))); err != nil {
				t.Fatalf("load: %v", err)
			}
			_, err := e.OnLaunch(ctx, provider)
			var unavailable *AdapterUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("expected AdapterUnavailableError, got %v", err)
			}
			if unavailable.Name != testAdapter {
				t.Fatalf("unexpected adapter name %q", unavailable.Name)
			}
			if e.State() != StateLoadedCompliantPending {
				t.Fatalf("state must not change, got %s", e.State())
			}
		})
	}
}

func TestActivateRequestsDescriptorAdapterName(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	if err := e.OnLoad(ctx, archive.NewFS(compliantApp("Foo"))); err != nil {
		t.Fatalf("load: %v", err)
	}
	var requested string
	provider := AdapterProviderFunc(func(_ context.Context, name string) (mixinapi.Access, error) {
		requested = name
		return newMemAccess(), nil
	})
	if err := e.Activate(ctx, provider); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if requested != testAdapter {
		t.Fatalf("provider asked for %q", requested)
	}
	if err := e.Activate(ctx, nil); err != nil {
		t.Fatalf("activate on active engine should be a no-op: %v", err)
	}
	if err := New(nil).Activate(ctx, provider); !errors.Is(err, ErrInactive) {
		t.Fatalf("activate before load: expected inactive, got %v", err)
	}
}

func TestRegisterUnknownTargetDoesNotMutate(t *testing.T) {
	e, access := activeEngine(t, []string{"Foo"})
	err := e.Register(context.Background(), "Missing", appendOp("Missing", "a", "A"))
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) || unknown.Target != "Missing" {
		t.Fatalf("expected UnknownTargetError for Missing, got %v", err)
	}
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected errors.Is ErrUnknownTarget")
	}
	if len(e.Registry().Dirty()) != 0 || len(e.Registry().Pending("Missing")) != 0 {
		t.Fatalf("unknown target must not be recorded")
	}
	if r, w := access.calls(); r != 0 || w != 0 {
		t.Fatalf("register must not touch the adapter: %d reads %d writes", r, w)
	}
}

func TestRegisterValidatesDescriptor(t *testing.T) {
	e, _ := activeEngine(t, []string{"Foo", "Bar"})
	ctx := context.Background()
	if err := e.Register(ctx, "Foo", appendOp("Bar", "a", "A")); !errors.Is(err, ErrTargetMismatch) {
		t.Fatalf("expected ErrTargetMismatch, got %v", err)
	}
	if err := e.Register(ctx, "Foo", transform.Descriptor{}); !errors.Is(err, transform.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
	if len(e.Registry().Dirty()) != 0 {
		t.Fatalf("rejected descriptors must not be recorded")
	}
}

func TestUnloadResetsEverything(t *testing.T) {
	ctx := context.Background()
	e, _ := activeEngine(t, []string{"Foo"})
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); err != nil {
		t.Fatalf("register: %v", err)
	}
	e.OnUnload(ctx)
	if e.State() != StateUnloaded {
		t.Fatalf("expected unloaded, got %s", e.State())
	}
	if e.AdapterName() != "" {
		t.Fatalf("adapter name must be cleared")
	}
	if len(e.Registry().Dirty()) != 0 {
		t.Fatalf("registry must be cleared")
	}
	if len(e.RegisteredPlugins()) != 0 {
		t.Fatalf("plugins must be cleared")
	}
	if err := e.Register(ctx, "Foo", appendOp("Foo", "a", "A")); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive after unload, got %v", err)
	}
	if err := e.OnLoad(ctx, archive.NewFS(compliantApp("Foo"))); err != nil {
		t.Fatalf("reload after unload: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUnloaded:               "unloaded",
		StateLoadedNonCompliant:     "loaded-noncompliant",
		StateLoadedCompliantPending: "loaded-compliant-pending",
		StateActive:                 "active",
		State(9):                    "state(9)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", int(state), want, got)
		}
	}
}
