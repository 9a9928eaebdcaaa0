package mixin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

// PluginMetadata describes an installed plugin and what it registered.
type PluginMetadata struct {
	Name          string
	Version       string
	Targets       []string
	Registrations int
}

// pluginRegistry is the mixinapi.Registry view handed to one plugin. It
// forwards to the engine and remembers the targets the plugin touched.
type pluginRegistry struct {
	engine  *Engine
	mu      sync.Mutex
	targets map[string]int
	count   int
}

func (r *pluginRegistry) Register(ctx context.Context, target string, descriptor transform.Descriptor) error {
	if err := r.engine.Register(ctx, target, descriptor); err != nil {
		return err
	}
	r.mu.Lock()
	r.targets[target]++
	r.count++
	r.mu.Unlock()
	return nil
}

// InstallPlugin lets plugin register its mixins. The engine must be Active.
// Registrations made before a plugin error are kept: each one was accepted
// independently.
func (e *Engine) InstallPlugin(ctx context.Context, plugin mixinapi.Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if _, _, err := e.active("install plugin"); err != nil {
		return PluginMetadata{}, err
	}
	e.mu.Lock()
	if _, ok := e.plugins[plugin.Name()]; ok {
		e.mu.Unlock()
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	// Reserve the name so concurrent installs of the same plugin fail fast.
	e.plugins[plugin.Name()] = PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	e.mu.Unlock()

	view := &pluginRegistry{engine: e, targets: make(map[string]int)}
	if err := plugin.Register(ctx, view); err != nil {
		e.mu.Lock()
		delete(e.plugins, plugin.Name())
		e.mu.Unlock()
		return PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
	}

	targets := make([]string, 0, len(view.targets))
	for target := range view.targets {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	meta := PluginMetadata{
		Name:          plugin.Name(),
		Version:       plugin.Version(),
		Targets:       targets,
		Registrations: view.count,
	}
	e.mu.Lock()
	e.plugins[plugin.Name()] = meta
	e.mu.Unlock()
	e.opts.logger.Info("mixin plugin installed", "plugin", meta.Name, "version", meta.Version, "targets", len(targets))
	return meta, nil
}

// RegisteredPlugins returns installed plugins ordered by name.
func (e *Engine) RegisteredPlugins() []PluginMetadata {
	e.mu.RLock()
	out := make([]PluginMetadata, 0, len(e.plugins))
	for _, meta := range e.plugins {
		meta.Targets = append([]string(nil), meta.Targets...)
		out = append(out, meta)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
