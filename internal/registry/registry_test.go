package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/portward/pkg/plugin"
	"go.uber.org/zap"
)

// fakePlugin records lifecycle calls for assertions.
type fakePlugin struct {
	info    plugin.PluginInfo
	initErr error
	inits   int
	starts  int
	stops   int
}

func (f *fakePlugin) Info() plugin.PluginInfo { return f.info }

func (f *fakePlugin) Init(_ context.Context, _ plugin.Dependencies) error {
	f.inits++
	return f.initErr
}

func (f *fakePlugin) Start(_ context.Context) error {
	f.starts++
	return nil
}

func (f *fakePlugin) Stop(_ context.Context) error {
	f.stops++
	return nil
}

func newFake(name string, deps ...string) *fakePlugin {
	return &fakePlugin{info: plugin.PluginInfo{
		Name:         name,
		Version:      "0.1.0",
		Dependencies: deps,
		APIVersion:   plugin.APIVersionCurrent,
	}}
}

func noDeps(string) plugin.Dependencies { return plugin.Dependencies{} }

func TestRegistry_StartOrderRespectsDependencies(t *testing.T) {
	r := New(zap.NewNop())

	settings := newFake("settings")
	forward := newFake("forward", "settings")

	// Register in the wrong order on purpose.
	if err := r.Register(forward); err != nil {
		t.Fatalf("Register(forward): %v", err)
	}
	if err := r.Register(settings); err != nil {
		t.Fatalf("Register(settings): %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var fwdIdx, setIdx = -1, -1
	for i, name := range r.order {
		switch name {
		case "forward":
			fwdIdx = i
		case "settings":
			setIdx = i
		}
	}
	if setIdx == -1 || fwdIdx == -1 || setIdx > fwdIdx {
		t.Errorf("start order %v: settings must precede forward", r.order)
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := New(zap.NewNop())

	if err := r.Register(newFake("forward")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(newFake("forward")); err == nil {
		t.Error("expected error registering duplicate plugin name")
	}
}

func TestRegistry_MissingDependencyDisablesOptional(t *testing.T) {
	r := New(zap.NewNop())

	forward := newFake("forward", "settings")
	if err := r.Register(forward); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, ok := r.Get("forward"); ok {
		t.Error("plugin with missing dependency should be disabled")
	}
}

func TestRegistry_RequiredInitFailureAborts(t *testing.T) {
	r := New(zap.NewNop())

	p := newFake("settings")
	p.info.Required = true
	p.initErr = errors.New("no database")
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := r.InitAll(context.Background(), noDeps); err == nil {
		t.Error("expected InitAll to fail for required plugin")
	}
}

func TestRegistry_StopAllReversesOrder(t *testing.T) {
	r := New(zap.NewNop())

	settings := newFake("settings")
	forward := newFake("forward", "settings")
	for _, p := range []*fakePlugin{settings, forward} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	ctx := context.Background()
	if err := r.InitAll(ctx, noDeps); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	r.StopAll(ctx)

	if settings.stops != 1 || forward.stops != 1 {
		t.Errorf("stops = (settings=%d, forward=%d), want 1 each", settings.stops, forward.stops)
	}
}

func TestRegistry_ResolveByRole(t *testing.T) {
	r := New(zap.NewNop())

	p := newFake("settings")
	p.info.Roles = []string{"settings_store"}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got := r.ResolveByRole("settings_store"); len(got) != 1 {
		t.Errorf("ResolveByRole = %d plugins, want 1", len(got))
	}
	if got := r.ResolveByRole("nope"); len(got) != 0 {
		t.Errorf("ResolveByRole(nope) = %d plugins, want 0", len(got))
	}
}
