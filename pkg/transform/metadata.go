package transform

import (
	"fmt"

	"mixinhost/pkg/classfile"
)

// Point selects where injected instructions land in a method body.
type Point string

const (
	Head Point = "head"
	Tail Point = "tail"
)

// MetadataFunc adapts a function to Metadata.
type MetadataFunc func(target, source string) (Transform, error)

// Transform implements Metadata.
func (f MetadataFunc) Transform(target, source string) (Transform, error) { return f(target, source) }

// MethodInjection inserts instructions into the body of a named method.
// Desc narrows the match to one overload when set.
type MethodInjection struct {
	Method       string
	Desc         string
	At           Point
	Instructions []classfile.Instruction
}

// Transform implements Metadata.
func (mi MethodInjection) Transform(_ string, source string) (Transform, error) {
	if mi.Method == "" {
		return Transform{}, fmt.Errorf("method injection from %s: method name required", source)
	}
	at := mi.At
	if at == "" {
		at = Head
	}
	if at != Head && at != Tail {
		return Transform{}, fmt.Errorf("method injection from %s: unknown point %q", source, at)
	}
	insns := append([]classfile.Instruction(nil), mi.Instructions...)
	check := OnClass(source, func(c *classfile.Class) error {
		for _, m := range c.Methods {
			if mi.matches(&m) {
				return nil
			}
		}
		return fmt.Errorf("no method %s%s", mi.Method, mi.Desc)
	})
	inject := OnMethod(source, func(_ *classfile.Class, m *classfile.Method) error {
		if !mi.matches(m) {
			return nil
		}
		body := make([]classfile.Instruction, 0, len(m.Body)+len(insns))
		if at == Head {
			body = append(body, insns...)
			body = append(body, m.Body...)
		} else {
			body = append(body, m.Body...)
			body = append(body, insns...)
		}
		m.Body = body
		return nil
	})
	return check.Chain(inject), nil
}

func (mi MethodInjection) matches(m *classfile.Method) bool {
	return m.Name == mi.Method && (mi.Desc == "" || m.Desc == mi.Desc)
}

// MethodAddition adds a new method to the target.
type MethodAddition struct {
	Method classfile.Method
}

// Transform implements Metadata.
func (ma MethodAddition) Transform(_ string, source string) (Transform, error) {
	if ma.Method.Name == "" {
		return Transform{}, fmt.Errorf("method addition from %s: method name required", source)
	}
	method := ma.Method
	method.Body = append([]classfile.Instruction(nil), ma.Method.Body...)
	return OnClass(source, func(c *classfile.Class) error {
		for _, m := range c.Methods {
			if m.Name == method.Name && m.Desc == method.Desc {
				return fmt.Errorf("method %s%s already declared", method.Name, method.Desc)
			}
		}
		add := method
		add.Body = append([]classfile.Instruction(nil), method.Body...)
		c.Methods = append(c.Methods, add)
		return nil
	}), nil
}

// FieldAddition adds a new field to the target.
type FieldAddition struct {
	Field classfile.Field
}

// Transform implements Metadata.
func (fa FieldAddition) Transform(_ string, source string) (Transform, error) {
	if fa.Field.Name == "" {
		return Transform{}, fmt.Errorf("field addition from %s: field name required", source)
	}
	field := fa.Field
	return OnClass(source, func(c *classfile.Class) error {
		if c.Field(field.Name) != nil {
			return fmt.Errorf("field %s already declared", field.Name)
		}
		c.Fields = append(c.Fields, field)
		return nil
	}), nil
}

// InterfaceAddition makes the target implement an interface. Adding an
// interface the class already lists is a no-op.
type InterfaceAddition struct {
	Interface string
}

// Transform implements Metadata.
func (ia InterfaceAddition) Transform(_ string, source string) (Transform, error) {
	if ia.Interface == "" {
		return Transform{}, fmt.Errorf("interface addition from %s: interface required", source)
	}
	return OnClass(source, func(c *classfile.Class) error {
		if !c.Implements(ia.Interface) {
			c.Interfaces = append(c.Interfaces, ia.Interface)
		}
		return nil
	}), nil
}
