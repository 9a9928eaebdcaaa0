// Package access provides host-side implementations of mixinapi.Access and
// the factory table that stands in for the adapter named by an
// application's compliance descriptor.
package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"mixinhost/internal/archive"
	"mixinhost/internal/blob"
	"mixinhost/internal/mixin"
	"mixinhost/pkg/classfile"
	"mixinhost/pkg/mixinapi"
)

// DefaultPrefix is the key prefix class images are stored under.
const DefaultPrefix = "classes/"

var (
	_ mixinapi.Access       = (*Blob)(nil)
	_ mixinapi.Access       = (*Overlay)(nil)
	_ mixin.AdapterProvider = Factories(nil)
)

// Blob stores class images in a blob store at prefix + resource path.
type Blob struct {
	store  blob.Store
	prefix string
}

// NewBlob returns an adapter over store. An empty prefix selects DefaultPrefix.
func NewBlob(store blob.Store, prefix string) *Blob {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Blob{store: store, prefix: prefix}
}

// Key returns the blob key holding className.
func (b *Blob) Key(className string) string { return b.prefix + classfile.ResourcePath(className) }

// Read implements mixinapi.Access.
func (b *Blob) Read(ctx context.Context, name string) ([]byte, bool, error) {
	_, rc, err := b.store.Get(ctx, b.Key(name))
	if blob.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}

// Write implements mixinapi.Access.
func (b *Blob) Write(ctx context.Context, name string, image []byte) error {
	_, err := b.store.Put(ctx, b.Key(name), bytes.NewReader(image), blob.PutOptions{
		ContentType: blob.ContentTypeClass,
		Metadata:    map[string]string{"class": name},
		Overwrite:   true,
	})
	return err
}

// Overlay reads rewritten images from a blob store and falls back to the
// application archive for classes never written. Writes go to the store, so
// the archive is never modified.
type Overlay struct {
	store *Blob
	app   archive.Reader
}

// NewOverlay layers store over app.
func NewOverlay(store *Blob, app archive.Reader) *Overlay {
	return &Overlay{store: store, app: app}
}

// Read implements mixinapi.Access.
func (o *Overlay) Read(ctx context.Context, name string) ([]byte, bool, error) {
	data, ok, err := o.store.Read(ctx, name)
	if err != nil || ok {
		return data, ok, err
	}
	data, err = archive.ReadResource(ctx, o.app, classfile.ResourcePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Write implements mixinapi.Access.
func (o *Overlay) Write(ctx context.Context, name string, image []byte) error {
	return o.store.Write(ctx, name, image)
}

// Any is the Factories key consulted when no factory matches the name.
const Any = "*"

// ErrNoFactory is returned for adapter names without a factory.
var ErrNoFactory = errors.New("access: no adapter factory")

// Factory constructs an adapter.
type Factory func(ctx context.Context) (mixinapi.Access, error)

// Factories maps compliance adapter names to constructors.
type Factories map[string]Factory

// Adapter implements mixin.AdapterProvider.
func (f Factories) Adapter(ctx context.Context, name string) (mixinapi.Access, error) {
	factory, ok := f[name]
	if !ok {
		factory, ok = f[Any]
	}
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w for %q", ErrNoFactory, name)
	}
	return factory(ctx)
}
