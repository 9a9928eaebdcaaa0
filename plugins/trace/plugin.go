// Package trace is a reference plugin that marks method entry on selected
// classes by injecting a marker instruction at the head of each method.
package trace

import (
	"context"
	"fmt"
	"strings"

	"mixinhost/pkg/classfile"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

// Source is the mixin source recorded for every registration.
const Source = "mixinhost.plugins.trace.EntryMarker"

// OpTrace is the injected instruction opcode.
const OpTrace = "trace"

// Plugin injects an entry marker into Methods of every class in Targets.
type Plugin struct {
	Targets []string
	Methods []string
	Marker  string
}

var _ mixinapi.Plugin = Plugin{}

// FromOptions builds a plugin from flat string options: targets and
// methods are comma separated, marker defaults to "enter".
func FromOptions(opts map[string]string) (Plugin, error) {
	p := Plugin{
		Targets: splitList(opts["targets"]),
		Methods: splitList(opts["methods"]),
		Marker:  strings.TrimSpace(opts["marker"]),
	}
	if len(p.Targets) == 0 {
		return Plugin{}, fmt.Errorf("trace: targets option required")
	}
	if len(p.Methods) == 0 {
		return Plugin{}, fmt.Errorf("trace: methods option required")
	}
	return p, nil
}

func (Plugin) Name() string    { return "trace" }
func (Plugin) Version() string { return "0.1.0" }

// Register queues one head injection per target and method.
func (p Plugin) Register(ctx context.Context, registry mixinapi.Registry) error {
	marker := p.Marker
	if marker == "" {
		marker = "enter"
	}
	for _, target := range p.Targets {
		for _, method := range p.Methods {
			d, err := transform.NewDescriptor(target, Source, transform.MethodInjection{
				Method:       method,
				At:           transform.Head,
				Instructions: []classfile.Instruction{{Op: OpTrace, Args: []string{marker, target + "." + method}}},
			})
			if err != nil {
				return err
			}
			if err := registry.Register(ctx, target, d); err != nil {
				return fmt.Errorf("trace %s.%s: %w", target, method, err)
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
