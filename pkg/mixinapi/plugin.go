// Package mixinapi is the contract shared by the host, plugins and the
// application's access adapter. Plugins import this package and
// mixinhost/pkg/transform only.
package mixinapi

import (
	"context"

	"mixinhost/pkg/transform"
)

// Registry accepts mixin registrations from a plugin.
type Registry interface {
	Register(ctx context.Context, target string, descriptor transform.Descriptor) error
}

// Plugin contributes mixins when installed.
type Plugin interface {
	Name() string
	Version() string
	Register(ctx context.Context, registry Registry) error
}

// Access reads and writes class images owned by the application. Read
// reports ok=false when the application has no image for name.
type Access interface {
	Read(ctx context.Context, name string) (image []byte, ok bool, err error)
	Write(ctx context.Context, name string, image []byte) error
}

const Version = "v1"
