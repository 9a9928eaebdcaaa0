package transform

import (
	"fmt"

	"mixinhost/pkg/classfile"
)

// Library builds transforms from injection metadata and applies them to
// class images.
type Library interface {
	// MixinOf folds every metadata item authored by source into one
	// transform for target, preserving item order.
	MixinOf(target, source string, metadata ...Metadata) (Transform, error)
	// Apply rewrites a class image and returns the new image.
	Apply(image []byte, t Transform) ([]byte, error)
}

// ClassLibrary is the Library for classfile images.
type ClassLibrary struct{}

var _ Library = ClassLibrary{}

// NewLibrary returns the classfile-backed Library.
func NewLibrary() ClassLibrary { return ClassLibrary{} }

// MixinOf implements Library.
func (ClassLibrary) MixinOf(target, source string, metadata ...Metadata) (Transform, error) {
	if len(metadata) == 0 {
		return Transform{}, fmt.Errorf("transform: mixin of %s from %s: no metadata", target, source)
	}
	var out Transform
	for i, md := range metadata {
		if md == nil {
			return Transform{}, fmt.Errorf("transform: mixin of %s from %s: metadata %d is nil", target, source, i)
		}
		t, err := md.Transform(target, source)
		if err != nil {
			return Transform{}, fmt.Errorf("transform: mixin of %s from %s: %w", target, source, err)
		}
		out = out.Chain(t)
	}
	return out, nil
}

// Apply implements Library.
func (ClassLibrary) Apply(image []byte, t Transform) ([]byte, error) {
	c, err := classfile.Decode(image)
	if err != nil {
		return nil, err
	}
	if err := t.Run(c); err != nil {
		return nil, err
	}
	return classfile.Encode(c)
}
