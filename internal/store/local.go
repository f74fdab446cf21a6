package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/radiac/serac/internal/errs"
)

// Local stores blobs on the local filesystem under root, at
// "<root>/<first two hex chars>/<full hex hash>".
type Local struct {
	root string
}

// NewLocal creates a Local backend rooted at root, creating the directory if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errs.New(errs.Store, "store.NewLocal", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.New(errs.Store, "store.NewLocal", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(BlobPath(name)))
}

// Put streams r to a temp file in the blob's "<hh>" directory and
// atomically renames it into place. If the blob already exists it is left
// untouched (Put is idempotent) and r is drained without writing anything.
func (l *Local) Put(ctx context.Context, name string, r io.Reader) error {
	dest := l.path(name)
	if _, err := os.Stat(dest); err == nil {
		io.Copy(io.Discard, r) //nolint:errcheck
		return nil
	} else if !os.IsNotExist(err) {
		return errs.NewPath(errs.Store, "store.Local.Put", name, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return errs.NewPath(errs.Store, "store.Local.Put", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".serac-*")
	if err != nil {
		return errs.NewPath(errs.Store, "store.Local.Put", name, err)
	}
	tmpPath := tmp.Name()

	_, werr := io.Copy(tmp, r)
	cerr := tmp.Close()
	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return errs.NewPath(errs.Store, "store.Local.Put", name, werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return errs.NewPath(errs.Store, "store.Local.Put", name, cerr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return errs.NewPath(errs.Store, "store.Local.Put", name, err)
	}
	return nil
}

// Get opens the blob for streaming.
func (l *Local) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if os.IsNotExist(err) {
		return nil, errs.NewPath(errs.NotFound, "store.Local.Get", name, &ErrNotFound{Name: name})
	}
	if err != nil {
		return nil, errs.NewPath(errs.Store, "store.Local.Get", name, err)
	}
	return f, nil
}

// Exists reports whether name is present under root.
func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.NewPath(errs.Store, "store.Local.Exists", name, err)
	}
	return true, nil
}

// RequestRetrieval is a no-op on Local: every object is immediately readable.
func (l *Local) RequestRetrieval(ctx context.Context, name string) (RetrievalHandle, error) {
	ok, err := l.Exists(ctx, name)
	if err != nil {
		return RetrievalHandle{}, err
	}
	if !ok {
		return RetrievalHandle{}, errs.NewPath(errs.NotFound, "store.Local.RequestRetrieval", name, &ErrNotFound{Name: name})
	}
	return RetrievalHandle{Name: name, Ready: true}, nil
}
