// Package crypto implements the serac archive envelope: symmetric
// authenticated encryption of opaque byte streams keyed from a passphrase.
//
// Envelope layout: MAGIC(4) || VERSION(1) || SALT(16) || NONCE(12) ||
// CIPHERTEXT || TAG(16). The AEAD is ChaCha20-Poly1305; the key is derived
// from the passphrase with Argon2id. The content hash used for
// deduplication is computed over the plaintext, never the envelope, so
// identical files always dedup even though every encryption draws a fresh
// nonce.
package crypto

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var magic = [4]byte{'S', 'R', 'A', 'C'}

// Version pins the envelope format. It must not change within a repository
// once the first object has been written.
const Version = 1

const (
	SaltSize = 16
	// KeySize is the ChaCha20-Poly1305 key length.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the ChaCha20-Poly1305 nonce length (96 bits).
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
)

// KDFParams are the Argon2id parameters. They are fixed per repository and
// persisted in the index meta table alongside the salt so a
// differently-provisioned machine can still derive the same key.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams are used for newly initialized repositories.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// IntegrityError indicates the AEAD tag did not verify: the envelope has
// been tampered with or corrupted. No plaintext is ever returned alongside
// this error.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return "crypto: integrity check failed: " + e.Err.Error() }
func (e *IntegrityError) Unwrap() error { return e.Err }

// Envelope derives AEAD keys from a passphrase and a fixed salt, and
// encrypts/decrypts whole byte streams under the layout above.
type Envelope struct {
	passphrase []byte
	salt       []byte
	params     KDFParams
}

// New constructs an Envelope for a repository whose salt and KDF
// parameters were already chosen (read from the index meta table, or
// freshly generated by NewSalt for `init`).
func New(passphrase string, salt []byte, params KDFParams) (*Envelope, error) {
	if len(salt) != SaltSize {
		return nil, errors.Errorf("crypto: salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return &Envelope{passphrase: []byte(passphrase), salt: salt, params: params}, nil
}

// NewSalt generates a fresh random salt for a newly initialized repository.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "crypto: generate salt")
	}
	return salt, nil
}

func (e *Envelope) deriveKey() []byte {
	return argon2.IDKey(e.passphrase, e.salt, e.params.Time, e.params.Memory, e.params.Threads, KeySize)
}

// Encrypt reads all of plaintext and returns the encoded envelope. Content
// addressing happens on the caller's side over the same plaintext bytes
// before calling Encrypt, so the hash is stable across repeated encryptions.
func (e *Envelope) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.deriveKey())
	if err != nil {
		return nil, errors.Wrap(err, "crypto: init aead")
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "crypto: generate nonce")
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 4+1+SaltSize+NonceSize+len(ciphertext))
	out = append(out, magic[:]...)
	out = append(out, Version)
	out = append(out, e.salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt validates the envelope header and authenticates+decrypts the
// payload. It returns *IntegrityError if authentication fails; no
// plaintext is returned in that case.
func (e *Envelope) Decrypt(envelope []byte) ([]byte, error) {
	const headerLen = 4 + 1 + SaltSize + NonceSize
	if len(envelope) < headerLen+TagSize {
		return nil, errors.New("crypto: envelope too short")
	}
	if !bytes.Equal(envelope[:4], magic[:]) {
		return nil, errors.New("crypto: bad magic")
	}
	version := envelope[4]
	if version != Version {
		return nil, errors.Errorf("crypto: unsupported envelope version %d", version)
	}
	salt := envelope[5 : 5+SaltSize]
	nonce := envelope[5+SaltSize : headerLen]
	ciphertext := envelope[headerLen:]

	key := argon2.IDKey(e.passphrase, salt, e.params.Time, e.params.Memory, e.params.Threads, KeySize)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: init aead")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &IntegrityError{Err: err}
	}
	return plaintext, nil
}
