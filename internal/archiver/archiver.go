// Package archiver is the differ + archiver component: it
// compares one scan against the index's latest-known state, uploads
// encrypted content-addressed blobs for new or changed data, and commits the
// resulting FileVersion rows and ArchiveRun summary in a single transaction.
package archiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/radiac/serac/internal/crypto"
	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/index"
	"github.com/radiac/serac/internal/model"
	"github.com/radiac/serac/internal/scanner"
	"github.com/radiac/serac/internal/store"
)

// DefaultWorkers is the bounded worker pool size used when none is set.
const DefaultWorkers = 4

// Archiver drives one `archive` invocation: Scanner → Differ → (Crypto
// envelope → Store) + Index, all owned by this single coordinator.
type Archiver struct {
	Scanner  *scanner.Scanner
	Index    *index.Store
	Store    store.Backend
	Envelope *crypto.Envelope
	Logger   *logrus.Logger
	Workers  int
}

// New constructs an Archiver with the given collaborators. A nil logger or
// non-positive Workers falls back to defaults.
func New(s *scanner.Scanner, idx *index.Store, backend store.Backend, env *crypto.Envelope, logger *logrus.Logger) *Archiver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Archiver{
		Scanner:  s,
		Index:    idx,
		Store:    backend,
		Envelope: env,
		Logger:   logger,
		Workers:  DefaultWorkers,
	}
}

// entryMatchesVersion reports whether a freshly scanned entry has the same
// observed attributes as the latest-known version of that path, not
// counting content hash (which is only known after a rehash). This is the
// Unchanged/Changed split.
func entryMatchesVersion(e scanner.Entry, v model.FileVersion) bool {
	return e.Size == v.Size &&
		e.Mtime == v.Mtime &&
		e.Mode == v.Mode &&
		e.Owner == v.Owner &&
		e.Group == v.Group
}

// hashAndUpload computes the content hash of the entry (the symlink target
// for symlinks, the file bytes otherwise — symlinks are recorded but never
// followed, including for content addressing) and uploads it if the object
// store does not already hold that hash. It returns the hash and the
// number of ciphertext bytes newly uploaded (0 on dedup).
func hashAndUpload(ctx context.Context, e scanner.Entry, backend store.Backend, env *crypto.Envelope) (string, int64, error) {
	var content []byte
	var err error
	if e.IsSymlink {
		target, lerr := os.Readlink(e.Path)
		if lerr != nil {
			return "", 0, lerr
		}
		content = []byte(target)
	} else {
		content, err = os.ReadFile(e.Path)
		if err != nil {
			return "", 0, err
		}
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	exists, err := backend.Exists(ctx, hash)
	if err != nil {
		return "", 0, err
	}
	if exists {
		return hash, 0, nil
	}

	envelope, err := env.Encrypt(content)
	if err != nil {
		return "", 0, err
	}
	if err := retryPut(ctx, backend, hash, envelope); err != nil {
		return "", 0, err
	}
	return hash, int64(len(envelope)), nil
}

// result accumulates what the worker pool produces; only the coordinator
// goroutine reads it, after the pool has drained.
type result struct {
	mu            sync.Mutex
	rows          []model.FileVersion
	bytesUploaded int64
	firstErr      error
}

func (r *result) recordErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = err
	}
}

func (r *result) addRow(fv model.FileVersion, uploaded int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, fv)
	r.bytesUploaded += uploaded
}

// Run performs one archive pass: scan, classify against the index's latest
// state, upload new content, and commit the run. It returns the committed
// ArchiveRun, or an error with the index left exactly as it was.
func (a *Archiver) Run(ctx context.Context) (model.ArchiveRun, error) {
	latest, err := a.Index.LatestVersions()
	if err != nil {
		return model.ArchiveRun{}, err
	}

	workers := a.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool := pond.New(workers, 0, pond.MinWorkers(workers))

	res := &result{}
	seen := make(map[string]bool, len(latest))

	scanErr := a.Scanner.Scan(func(e scanner.Entry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seen[e.Path] = true

		prior, existed := latest[e.Path]
		if existed && !prior.IsDeleted() && entryMatchesVersion(e, prior) {
			return nil // Unchanged
		}

		entry := e
		pool.Submit(func() {
			hash, uploaded, err := hashAndUpload(ctx, entry, a.Store, a.Envelope)
			if err != nil {
				a.Logger.Errorf("archiver: failed to archive %s: %v", entry.Path, err)
				res.recordErr(errs.NewPath(errs.Store, "archiver.hashAndUpload", entry.Path, err))
				return
			}
			res.addRow(model.FileVersion{
				Path:  entry.Path,
				Size:  entry.Size,
				Mtime: entry.Mtime,
				Mode:  entry.Mode,
				Owner: entry.Owner,
				Group: entry.Group,
				Hash:  hash,
			}, uploaded)
		})
		return nil
	})

	pool.StopAndWait()

	if scanErr != nil {
		return model.ArchiveRun{}, errs.New(errs.Scan, "archiver.Run", scanErr)
	}
	if res.firstErr != nil {
		return model.ArchiveRun{}, res.firstErr
	}

	filesAdded := len(res.rows)

	filesRemoved := 0
	for path, prior := range latest {
		if seen[path] || prior.IsDeleted() {
			continue
		}
		res.rows = append(res.rows, model.FileVersion{Path: path, Hash: model.DeletedHash})
		filesRemoved++
	}

	runTx, err := a.Index.BeginRun(time.Now().Unix())
	if err != nil {
		return model.ArchiveRun{}, err
	}
	defer runTx.Rollback() //nolint:errcheck

	for _, fv := range res.rows {
		if err := runTx.AddFileVersion(fv); err != nil {
			return model.ArchiveRun{}, err
		}
	}

	run, err := runTx.Commit(filesAdded, filesRemoved, res.bytesUploaded)
	if err != nil {
		return model.ArchiveRun{}, err
	}
	return run, nil
}
