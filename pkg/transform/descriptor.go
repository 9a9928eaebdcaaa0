package transform

import (
	"errors"
	"strings"
)

// Metadata is the injection payload carried by a Descriptor. It turns itself
// into the transform it contributes to target on behalf of source.
type Metadata interface {
	Transform(target, source string) (Transform, error)
}

// Descriptor asks for Metadata authored by Source to be injected into Target.
// Descriptors are values; nothing mutates them after NewDescriptor.
type Descriptor struct {
	target   string
	source   string
	metadata Metadata
}

var (
	// ErrInvalidDescriptor is returned when a descriptor is missing a field.
	ErrInvalidDescriptor = errors.New("transform: invalid injection descriptor")
)

// NewDescriptor validates and builds a descriptor.
func NewDescriptor(target, source string, metadata Metadata) (Descriptor, error) {
	switch {
	case strings.TrimSpace(target) == "":
		return Descriptor{}, errors.Join(ErrInvalidDescriptor, errors.New("target class required"))
	case strings.TrimSpace(source) == "":
		return Descriptor{}, errors.Join(ErrInvalidDescriptor, errors.New("source class required"))
	case metadata == nil:
		return Descriptor{}, errors.Join(ErrInvalidDescriptor, errors.New("metadata required"))
	}
	return Descriptor{target: target, source: source, metadata: metadata}, nil
}

// MustDescriptor is NewDescriptor that panics on invalid input. Intended for
// statically known plugin declarations.
func MustDescriptor(target, source string, metadata Metadata) Descriptor {
	d, err := NewDescriptor(target, source, metadata)
	if err != nil {
		panic(err)
	}
	return d
}

// Target returns the class being rewritten.
func (d Descriptor) Target() string { return d.target }

// Source returns the class that authored the injection.
func (d Descriptor) Source() string { return d.source }

// Metadata returns the injection payload.
func (d Descriptor) Metadata() Metadata { return d.metadata }

// Valid reports whether d was built by NewDescriptor.
func (d Descriptor) Valid() bool { return d.metadata != nil && d.target != "" && d.source != "" }
