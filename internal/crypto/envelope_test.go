package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keeps Argon2id cheap enough for the test suite; production
// repositories use DefaultKDFParams.
var testParams = KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1}

func newTestEnvelope(t *testing.T, passphrase string) *Envelope {
	t.Helper()
	salt, err := NewSalt()
	require.NoError(t, err)
	env, err := New(passphrase, salt, testParams)
	require.NoError(t, err)
	return env
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnvelope(t, "correct-horse-battery-staple")
	plaintext := []byte("hello, cold storage")

	envelope, err := env.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := env.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

// TestFreshNoncePerEncryption pins the asymmetry that lets deduplication and
// encryption coexist: identical plaintext produces different envelopes
// (fresh nonce) but the plaintext's content hash is unaffected, so the two
// envelopes still dedup under the same content-addressed name.
func TestFreshNoncePerEncryption(t *testing.T) {
	env := newTestEnvelope(t, "passphrase")
	plaintext := []byte("duplicate content")

	e1, err := env.Encrypt(plaintext)
	require.NoError(t, err)
	e2, err := env.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, e1, e2, "each encryption must draw a fresh nonce")

	d1, err := env.Decrypt(e1)
	require.NoError(t, err)
	d2, err := env.Decrypt(e2)
	require.NoError(t, err)

	h1 := sha256.Sum256(d1)
	h2 := sha256.Sum256(d2)
	assert.Equal(t, hex.EncodeToString(h1[:]), hex.EncodeToString(h2[:]), "hash is computed over plaintext only")
}

func TestTamperDetected(t *testing.T) {
	env := newTestEnvelope(t, "passphrase")
	envelope, err := env.Encrypt([]byte("the quick brown fox"))
	require.NoError(t, err)

	tampered := append([]byte{}, envelope...)
	tampered[len(tampered)-1] ^= 0x01 // flip a bit in the tag

	_, err = env.Decrypt(tampered)
	require.Error(t, err)
	var integrityErr *IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

func TestWrongPassphraseFails(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	encEnv, err := New("right-passphrase", salt, testParams)
	require.NoError(t, err)
	envelope, err := encEnv.Encrypt([]byte("secret"))
	require.NoError(t, err)

	decEnv, err := New("wrong-passphrase", salt, testParams)
	require.NoError(t, err)
	_, err = decEnv.Decrypt(envelope)
	require.Error(t, err)
}

func TestBadMagicRejected(t *testing.T) {
	env := newTestEnvelope(t, "passphrase")
	envelope, err := env.Encrypt([]byte("data"))
	require.NoError(t, err)
	envelope[0] ^= 0xFF
	_, err = env.Decrypt(envelope)
	require.Error(t, err)
}

func TestEnvelopeTooShortRejected(t *testing.T) {
	env := newTestEnvelope(t, "passphrase")
	_, err := env.Decrypt([]byte("short"))
	require.Error(t, err)
}
