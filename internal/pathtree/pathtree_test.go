package pathtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndFiles(t *testing.T) {
	tree := New()
	tree.Insert("/src/a.txt", "hash-a")
	tree.Insert("/src/sub/b.txt", "hash-b")
	tree.Insert("/other/c.txt", "hash-c")

	assert.Equal(t, []string{"/other/c.txt", "/src/a.txt", "/src/sub/b.txt"}, tree.Files())
}

func TestLookupDirectory(t *testing.T) {
	tree := New()
	tree.Insert("/src/a.txt", "hash-a")
	tree.Insert("/src/sub/b.txt", "hash-b")

	dir := tree.Lookup("src/sub")
	if assert.NotNil(t, dir) {
		assert.Equal(t, []string{"/src/sub/b.txt"}, dir.Files())
	}

	assert.Nil(t, tree.Lookup("nope"))
}

func TestLeafCarriesHash(t *testing.T) {
	tree := New()
	tree.Insert("/src/a.txt", "hash-a")

	dir := tree.Lookup("src")
	leaf := dir.Children[0]
	assert.True(t, leaf.IsFile)
	assert.Equal(t, "hash-a", leaf.Hash)
}
