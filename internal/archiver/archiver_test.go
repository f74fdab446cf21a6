package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiac/serac/internal/crypto"
	"github.com/radiac/serac/internal/index"
	"github.com/radiac/serac/internal/scanner"
	"github.com/radiac/serac/internal/store"
)

var testParams = crypto.KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1}

type harness struct {
	root  string
	dest  string
	idx   *index.Store
	store *store.Local
	env   *crypto.Envelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(root, 0o755))

	idx, err := index.Init(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	backend, err := store.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	env, err := crypto.New("passphrase", salt, testParams)
	require.NoError(t, err)

	return &harness{root: root, idx: idx, store: backend, env: env}
}

func (h *harness) archiver(t *testing.T) *Archiver {
	t.Helper()
	s := scanner.New([]string{h.root}, nil, nil)
	return New(s, h.idx, h.store, h.env, nil)
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.root, name), []byte(content), 0o644))
}

// TestTwoFilesIdenticalContentDedup checks that two files with identical
// content dedup to a single stored blob.
func TestTwoFilesIdenticalContentDedup(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "hello")
	h.write(t, "b.txt", "hello")

	run, err := h.archiver(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.FilesAdded)
	assert.Equal(t, 0, run.FilesRemoved)

	latest, err := h.idx.LatestVersions()
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, latest[filepath.Join(h.root, "a.txt")].Hash, latest[filepath.Join(h.root, "b.txt")].Hash)
}

// TestModifyThenDeleteRecordsVersions checks that modifying a file
// records a new version with a new hash, and deleting a file records a
// DELETED marker without touching the store.
func TestModifyThenDeleteRecordsVersions(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "hello")
	h.write(t, "b.txt", "hello")
	a := h.archiver(t)

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	h.write(t, "a.txt", "world")
	// Same size as "hello": move mtime past the recorded whole second so
	// the change predicate sees the rewrite.
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, "a.txt"), later, later))
	run2, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run2.FilesAdded)
	assert.Equal(t, 0, run2.FilesRemoved)

	require.NoError(t, os.Remove(filepath.Join(h.root, "b.txt")))
	run3, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run3.FilesAdded)
	assert.Equal(t, 1, run3.FilesRemoved)

	latest, err := h.idx.LatestVersions()
	require.NoError(t, err)
	assert.True(t, latest[filepath.Join(h.root, "b.txt")].IsDeleted())
	assert.NotEqual(t, latest[filepath.Join(h.root, "a.txt")].Hash, latest[filepath.Join(h.root, "b.txt")].Hash)
}

// TestIdempotentArchive checks that a second run with no filesystem
// changes writes zero FileVersion rows.
func TestIdempotentArchive(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "hello")
	a := h.archiver(t)

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	run2, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run2.FilesAdded)
	assert.Equal(t, 0, run2.FilesRemoved)
}

// TestMetadataOnlyChangeSkipsUpload checks that a mode change with
// unchanged content inserts a new row but performs no upload (the blob
// already exists from the prior run).
func TestMetadataOnlyChangeSkipsUpload(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "hello")
	a := h.archiver(t)

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Chmod(filepath.Join(h.root, "a.txt"), 0o600))
	run2, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run2.FilesAdded)
	assert.Equal(t, int64(0), run2.BytesUploaded)
}

func TestSymlinkContentIsLinkTarget(t *testing.T) {
	h := newHarness(t)
	h.write(t, "real.txt", "hello")
	require.NoError(t, os.Symlink(filepath.Join(h.root, "real.txt"), filepath.Join(h.root, "link.txt")))

	run, err := h.archiver(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.FilesAdded)

	latest, err := h.idx.LatestVersions()
	require.NoError(t, err)
	assert.NotEqual(t, latest[filepath.Join(h.root, "real.txt")].Hash, latest[filepath.Join(h.root, "link.txt")].Hash)
}
