// Package classfile defines the class image model rewritten by mixins and its
// binary encoding. A class image is a deterministic CBOR document prefixed by
// a four byte magic so that stray blobs are rejected before decoding.
package classfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Magic prefixes every encoded class image.
var Magic = []byte{'M', 'X', 'C', '1'}

// ErrBadMagic is returned when the input is not a class image.
var ErrBadMagic = errors.New("classfile: missing class image magic")

// Access is a bit set of member modifiers.
type Access uint16

const (
	AccPublic Access = 1 << iota
	AccPrivate
	AccProtected
	AccStatic
	AccFinal
	AccSynthetic
)

// Instruction is one opaque body operation.
type Instruction struct {
	Op   string   `cbor:"op" json:"op"`
	Args []string `cbor:"args,omitempty" json:"args,omitempty"`
}

// Field describes a declared field.
type Field struct {
	Name        string   `cbor:"name" json:"name"`
	Desc        string   `cbor:"desc" json:"desc"`
	Access      Access   `cbor:"access,omitempty" json:"access,omitempty"`
	Annotations []string `cbor:"annotations,omitempty" json:"annotations,omitempty"`
}

// Method describes a declared method and its body.
type Method struct {
	Name        string        `cbor:"name" json:"name"`
	Desc        string        `cbor:"desc" json:"desc"`
	Access      Access        `cbor:"access,omitempty" json:"access,omitempty"`
	Annotations []string      `cbor:"annotations,omitempty" json:"annotations,omitempty"`
	Body        []Instruction `cbor:"body,omitempty" json:"body,omitempty"`
}

// Class is the decoded form of a class image.
type Class struct {
	Name        string   `cbor:"name" json:"name"`
	Super       string   `cbor:"super,omitempty" json:"super,omitempty"`
	Interfaces  []string `cbor:"interfaces,omitempty" json:"interfaces,omitempty"`
	Annotations []string `cbor:"annotations,omitempty" json:"annotations,omitempty"`
	Fields      []Field  `cbor:"fields,omitempty" json:"fields,omitempty"`
	Methods     []Method `cbor:"methods,omitempty" json:"methods,omitempty"`
}

// Method returns the first method with the given name, or nil.
func (c *Class) Method(name string) *Method {
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			return &c.Methods[i]
		}
	}
	return nil
}

// Field returns the field with the given name, or nil.
func (c *Class) Field(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// Implements reports whether iface is listed among the class interfaces.
func (c *Class) Implements(iface string) bool {
	for _, i := range c.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("classfile: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("classfile: cbor dec mode: %v", err))
	}
}

// Encode serializes c into a class image.
func Encode(c *Class) ([]byte, error) {
	if c == nil {
		return nil, errors.New("classfile: nil class")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("classfile: encode %s: %w", c.Name, err)
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic...)
	return append(out, body...), nil
}

// Decode parses a class image.
func Decode(data []byte) (*Class, error) {
	if !bytes.HasPrefix(data, Magic) {
		return nil, ErrBadMagic
	}
	var c Class
	if err := decMode.Unmarshal(data[len(Magic):], &c); err != nil {
		return nil, fmt.Errorf("classfile: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks structural invariants: a class name and unique member names.
// Methods are keyed by name and descriptor so overloads are allowed.
func (c *Class) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("classfile: class name required")
	}
	fields := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("classfile: %s: field name required", c.Name)
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("classfile: %s: duplicate field %s", c.Name, f.Name)
		}
		fields[f.Name] = struct{}{}
	}
	methods := make(map[string]struct{}, len(c.Methods))
	for _, m := range c.Methods {
		if m.Name == "" {
			return fmt.Errorf("classfile: %s: method name required", c.Name)
		}
		key := m.Name + m.Desc
		if _, dup := methods[key]; dup {
			return fmt.Errorf("classfile: %s: duplicate method %s%s", c.Name, m.Name, m.Desc)
		}
		methods[key] = struct{}{}
	}
	return nil
}

// ResourcePath maps a dotted class name to its archive resource path.
func ResourcePath(className string) string {
	return strings.ReplaceAll(className, ".", "/") + ".class"
}

// ClassName maps an archive resource path back to a dotted class name. The
// second result is false for non-class resources.
func ClassName(resource string) (string, bool) {
	resource = strings.TrimPrefix(resource, "/")
	if !strings.HasSuffix(resource, ".class") {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimSuffix(resource, ".class"), "/", "."), true
}
