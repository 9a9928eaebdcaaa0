// Package archive reads packaged application resources: class existence
// checks for mixin targets and the compliance descriptor.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"mixinhost/internal/blob"
	"mixinhost/pkg/classfile"
)

// Reader exposes an application archive.
type Reader interface {
	// Contains reports whether the archive packages a class image for className.
	Contains(ctx context.Context, className string) (bool, error)
	// Open opens a packaged resource by slash-separated path. Missing
	// resources yield an error matching fs.ErrNotExist.
	Open(ctx context.Context, resource string) (io.ReadCloser, error)
}

// FS is a Reader over an fs.FS (an exploded directory or a zip/jar).
type FS struct {
	fsys   fs.FS
	closer io.Closer
}

// NewFS wraps fsys.
func NewFS(fsys fs.FS) *FS { return &FS{fsys: fsys} }

// OpenPath opens a directory or a zip/jar file.
func OpenPath(path string) (*FS, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if st.IsDir() {
		return NewFS(os.DirFS(path)), nil
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &FS{fsys: zr, closer: zr}, nil
}

// Close releases the underlying file when the archive was opened from a zip.
func (a *FS) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *FS) Contains(_ context.Context, className string) (bool, error) {
	if className == "" {
		return false, nil
	}
	_, err := fs.Stat(a.fsys, classfile.ResourcePath(className))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (a *FS) Open(_ context.Context, resource string) (io.ReadCloser, error) {
	return a.fsys.Open(strings.TrimPrefix(resource, "/"))
}

// Classes lists every packaged class name in lexical order.
func (a *FS) Classes() ([]string, error) {
	var out []string
	err := fs.WalkDir(a.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name, ok := classfile.ClassName(path); ok {
			out = append(out, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Store is a Reader over resources uploaded to a blob store under a prefix.
type Store struct {
	store  blob.Store
	prefix string
}

// NewStore returns a Reader resolving resources at prefix+resource.
func NewStore(store blob.Store, prefix string) *Store {
	return &Store{store: store, prefix: prefix}
}

func (s *Store) Contains(ctx context.Context, className string) (bool, error) {
	if className == "" {
		return false, nil
	}
	_, err := s.store.Head(ctx, s.prefix+classfile.ResourcePath(className))
	switch {
	case err == nil:
		return true, nil
	case blob.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) Open(ctx context.Context, resource string) (io.ReadCloser, error) {
	_, rc, err := s.store.Get(ctx, s.prefix+strings.TrimPrefix(resource, "/"))
	return rc, err
}

// ReadResource reads a whole resource.
func ReadResource(ctx context.Context, r Reader, resource string) ([]byte, error) {
	rc, err := r.Open(ctx, resource)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
