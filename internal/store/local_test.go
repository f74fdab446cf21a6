package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	name := hashOf("hello")
	require.NoError(t, l.Put(ctx, name, strings.NewReader("hello")))

	ok, err := l.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := l.Get(ctx, name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

// TestLocalPutIsIdempotent checks that writing the same name twice does
// not error and leaves the original bytes in place.
func TestLocalPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	name := hashOf("dup")
	require.NoError(t, l.Put(ctx, name, strings.NewReader("dup")))
	require.NoError(t, l.Put(ctx, name, strings.NewReader("dup")))

	rc, err := l.Get(ctx, name)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "dup", string(data))
}

func TestLocalGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Get(ctx, hashOf("missing"))
	assert.Error(t, err)
}

func TestLocalRequestRetrievalAlwaysReady(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	name := hashOf("data")
	require.NoError(t, l.Put(ctx, name, strings.NewReader("data")))

	handle, err := l.RequestRetrieval(ctx, name)
	require.NoError(t, err)
	assert.True(t, handle.Ready)
}

func TestBlobPathLayout(t *testing.T) {
	name := hashOf("x")
	assert.Equal(t, name[:2]+"/"+name, BlobPath(name))
}
