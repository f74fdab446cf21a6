// Package restore materializes a reconstructed set of FileVersions onto
// disk, fetching and decrypting each referenced blob.
package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radiac/serac/internal/crypto"
	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/model"
	"github.com/radiac/serac/internal/store"
)

// Pending records a file whose blob is in cold storage and not yet
// retrievable; the operator must re-run restore once the store reports it
// ready.
type Pending struct {
	Path string
	Hash string
}

// Failed records a per-file restore error. Decryption and fetch failures
// are fatal only for that file, not for the rest of the run.
type Failed struct {
	Path string
	Err  error
}

// Result summarizes one restore invocation.
type Result struct {
	Restored int
	Skipped  int
	Pending  []Pending
	Failed   []Failed
}

// OK reports whether the restore requires no further operator action — no
// pending retrievals and no per-file failures. The CLI maps !OK to exit 3.
func (r Result) OK() bool {
	return len(r.Pending) == 0 && len(r.Failed) == 0
}

// Restorer materializes FileVersions under a destination root.
type Restorer struct {
	Store    store.Backend
	Envelope *crypto.Envelope
	Logger   *logrus.Logger
}

// New constructs a Restorer.
func New(backend store.Backend, env *crypto.Envelope, logger *logrus.Logger) *Restorer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Restorer{Store: backend, Envelope: env, Logger: logger}
}

// Restore materializes every version under destination, joining each
// version's original absolute path onto destination.
func (r *Restorer) Restore(ctx context.Context, destination string, versions []model.FileVersion) (Result, error) {
	var res Result
	for _, fv := range versions {
		destPath := filepath.Join(destination, fv.Path)

		if upToDate(destPath, fv.Hash) {
			res.Skipped++
			continue
		}

		handle, err := r.Store.RequestRetrieval(ctx, fv.Hash)
		if err != nil {
			res.Failed = append(res.Failed, Failed{Path: fv.Path, Err: err})
			r.Logger.Errorf("restore: %s: %v", fv.Path, err)
			continue
		}
		if !handle.Ready {
			res.Pending = append(res.Pending, Pending{Path: fv.Path, Hash: fv.Hash})
			r.Logger.Warnf("restore: %s is in cold storage, retrieval requested", fv.Path)
			continue
		}

		if err := r.materialize(ctx, destPath, fv); err != nil {
			res.Failed = append(res.Failed, Failed{Path: fv.Path, Err: err})
			r.Logger.Errorf("restore: %s: %v", fv.Path, err)
			continue
		}
		res.Restored++
	}
	return res, nil
}

func (r *Restorer) materialize(ctx context.Context, destPath string, fv model.FileVersion) error {
	rc, err := r.Store.Get(ctx, fv.Hash)
	if err != nil {
		return errs.NewPath(errs.Store, "restore.materialize", fv.Path, err)
	}
	defer rc.Close()

	ciphertext, err := io.ReadAll(rc)
	if err != nil {
		return errs.NewPath(errs.Store, "restore.materialize", fv.Path, err)
	}

	plaintext, err := r.Envelope.Decrypt(ciphertext)
	if err != nil {
		return errs.NewPath(errs.Crypto, "restore.materialize", fv.Path, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errs.NewPath(errs.Store, "restore.materialize", fv.Path, err)
	}
	if err := os.WriteFile(destPath, plaintext, os.FileMode(fv.Mode)); err != nil {
		return errs.NewPath(errs.Store, "restore.materialize", fv.Path, err)
	}

	r.applyMetadata(destPath, fv)
	return nil
}

// applyMetadata restores mode, mtime, owner and group.
// Owner/group failures fall back to the invoking user with a warning rather
// than failing the file.
func (r *Restorer) applyMetadata(destPath string, fv model.FileVersion) {
	if err := os.Chmod(destPath, os.FileMode(fv.Mode)); err != nil {
		r.Logger.Warnf("restore: %s: failed to set mode: %v", fv.Path, err)
	}

	mtime := time.Unix(fv.Mtime, 0)
	if err := os.Chtimes(destPath, mtime, mtime); err != nil {
		r.Logger.Warnf("restore: %s: failed to set mtime: %v", fv.Path, err)
	}

	uid, gid, ok := resolveOwner(fv.Owner, fv.Group)
	if !ok {
		uid, gid = invokingIdentity()
		r.Logger.Warnf("restore: %s: owner %s:%s not found, falling back to invoking user", fv.Path, fv.Owner, fv.Group)
	}
	if err := os.Chown(destPath, uid, gid); err != nil {
		r.Logger.Warnf("restore: %s: failed to set owner: %v", fv.Path, err)
	}
}

// upToDate reports whether destPath already holds content matching hash,
// letting the restorer skip the fetch entirely.
func upToDate(destPath, hash string) bool {
	data, err := os.ReadFile(destPath)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == hash
}
