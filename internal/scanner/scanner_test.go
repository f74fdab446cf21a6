package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanLexicographicOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "c.txt"), "c")

	s := New([]string{root}, nil, nil)
	var paths []string
	require.NoError(t, s.Scan(func(e Entry) error {
		paths = append(paths, e.Path)
		return nil
	}))

	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "sub", "c.txt"),
	}, paths)
}

func TestScanExcludesPrefix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "k")
	writeFile(t, filepath.Join(root, "tmp", "a.txt"), "a")
	writeFile(t, filepath.Join(root, "tmpfoo.txt"), "not excluded")

	s := New([]string{root}, []string{filepath.Join(root, "tmp")}, nil)
	var paths []string
	require.NoError(t, s.Scan(func(e Entry) error {
		paths = append(paths, e.Path)
		return nil
	}))

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "keep.txt"),
		filepath.Join(root, "tmpfoo.txt"),
	}, paths)
}

func TestScanRecordsSymlinkWithoutFollowing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), "hello")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	s := New([]string{root}, nil, nil)
	found := map[string]Entry{}
	require.NoError(t, s.Scan(func(e Entry) error {
		found[e.Path] = e
		return nil
	}))

	link, ok := found[filepath.Join(root, "link.txt")]
	require.True(t, ok)
	assert.True(t, link.IsSymlink)
}

func TestScanSkipsNonRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "k")
	require.NoError(t, syscallMkfifo(filepath.Join(root, "fifo")))

	s := New([]string{root}, nil, nil)
	var paths []string
	require.NoError(t, s.Scan(func(e Entry) error {
		paths = append(paths, e.Path)
		return nil
	}))
	assert.Equal(t, []string{filepath.Join(root, "keep.txt")}, paths)
}
