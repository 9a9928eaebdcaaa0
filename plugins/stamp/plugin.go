// Package stamp is a reference plugin that brands classes: it adds a
// constant field holding a build stamp, a getter for it and a marker
// interface.
package stamp

import (
	"context"
	"fmt"
	"strings"

	"mixinhost/pkg/classfile"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

const (
	Source    = "mixinhost.plugins.stamp.Stamped"
	Interface = "mixinhost.Stamped"
	Getter    = "mixinStamp"
)

// Plugin stamps every class in Targets with Value stored in Field.
type Plugin struct {
	Targets []string
	Field   string
	Value   string
}

var _ mixinapi.Plugin = Plugin{}

// FromOptions builds a plugin from flat string options.
func FromOptions(opts map[string]string) (Plugin, error) {
	p := Plugin{Field: opts["field"], Value: opts["value"]}
	for _, t := range strings.Split(opts["targets"], ",") {
		if t = strings.TrimSpace(t); t != "" {
			p.Targets = append(p.Targets, t)
		}
	}
	if len(p.Targets) == 0 {
		return Plugin{}, fmt.Errorf("stamp: targets option required")
	}
	return p, nil
}

func (Plugin) Name() string    { return "stamp" }
func (Plugin) Version() string { return "0.1.0" }

// Register queues field, getter and interface additions for each target.
func (p Plugin) Register(ctx context.Context, registry mixinapi.Registry) error {
	field := p.Field
	if field == "" {
		field = "MIXIN_STAMP"
	}
	value := p.Value
	if value == "" {
		value = "mixinhost"
	}
	metadata := []transform.Metadata{
		transform.FieldAddition{Field: classfile.Field{
			Name:   field,
			Desc:   "Ljava/lang/String;",
			Access: classfile.AccPublic | classfile.AccStatic | classfile.AccFinal | classfile.AccSynthetic,
		}},
		transform.MethodAddition{Method: classfile.Method{
			Name:   Getter,
			Desc:   "()Ljava/lang/String;",
			Access: classfile.AccPublic | classfile.AccSynthetic,
			Body: []classfile.Instruction{
				{Op: "ldc", Args: []string{value}},
				{Op: "areturn"},
			},
		}},
		transform.InterfaceAddition{Interface: Interface},
	}
	for _, target := range p.Targets {
		for _, md := range metadata {
			d, err := transform.NewDescriptor(target, Source, md)
			if err != nil {
				return err
			}
			if err := registry.Register(ctx, target, d); err != nil {
				return fmt.Errorf("stamp %s: %w", target, err)
			}
		}
	}
	return nil
}
