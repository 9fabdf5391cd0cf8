// Package crypto provides the cryptographic primitives used throughout the
// vault: AES-256-GCM authenticated encryption, HKDF-SHA256 key derivation,
// HMAC-SHA256 for redaction and integrity checks, and a zeroizing key type.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of every key handled by this package.
const KeySize = 32

// nonceSize is the AES-256-GCM nonce length (96 bits).
const nonceSize = 12

// tagSize is the AES-256-GCM authentication tag length (128 bits).
const tagSize = 16

// MinCiphertextLen is the minimum valid length of an Encrypt output:
// nonce || tag, with zero-length plaintext.
const MinCiphertextLen = nonceSize + tagSize

// Key is a 256-bit symmetric key. It never exposes its bytes except through
// an explicit borrow, formats as a redaction marker under %v/%s, and zeroes
// its backing array once the caller is done with it.
type Key struct {
	b [KeySize]byte
}

// NewKey wraps raw bytes as a Key. The caller must pass exactly KeySize bytes.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k.b[:], raw)
	return k, nil
}

// GenerateKey produces a fresh key from the OS CSPRNG.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k.b[:]); err != nil {
		return k, fmt.Errorf("crypto: generate key: %w", err)
	}
	return k, nil
}

// Bytes is an explicit borrow of the raw key material. Callers must not log
// or persist the returned slice.
func (k *Key) Bytes() []byte { return k.b[:] }

// Clone copies a key for use across a suspend point. The copy zeroizes
// independently of the original.
func (k Key) Clone() Key {
	var c Key
	copy(c.b[:], k.b[:])
	return c
}

// Zero overwrites the key's backing array. Safe to call more than once.
func (k *Key) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
}

// String never prints key material.
func (k Key) String() string { return "crypto.Key{REDACTED}" }

// GoString never prints key material.
func (k Key) GoString() string { return k.String() }

// Encrypt seals plaintext under key using AES-256-GCM with a fresh random
// nonce. The returned slice is nonce(12) || ciphertext || tag(16).
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a record produced by Encrypt. Input shorter than
// MinCiphertextLen fails with a distinct "ciphertext too short" error; a
// wrong key and any tampering both surface as the same authentication error.
func Decrypt(key Key, combined []byte) ([]byte, error) {
	if len(combined) < MinCiphertextLen {
		return nil, fmt.Errorf("crypto: ciphertext too short: expected at least %d bytes, got %d", MinCiphertextLen, len(combined))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return gcm, nil
}

// Derive expands root into a 32-byte key via HKDF-SHA256. salt may be nil.
// info must be unique per purpose; different info values produce
// cryptographically independent keys for the same root and salt.
func Derive(root Key, salt []byte, info string) (Key, error) {
	hk := hkdf.New(sha256.New, root.Bytes(), salt, []byte(info))
	var derived Key
	if _, err := io.ReadFull(hk, derived.b[:]); err != nil {
		return derived, fmt.Errorf("crypto: derive key (info=%q): %w", info, err)
	}
	return derived, nil
}

// HMACSign computes HMAC-SHA256(key, data).
func HMACSign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACVerify reports whether signature is the valid HMAC-SHA256 of data
// under key, using a constant-time comparison.
func HMACVerify(key, data, signature []byte) bool {
	return hmac.Equal(signature, HMACSign(key, data))
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandomBytes returns n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: generate random bytes: %w", err)
	}
	return b, nil
}

// ZeroBytes overwrites b in place. Used for short-lived plaintext buffers
// that are not wrapped in a Key (e.g. reconstructed Shamir secrets).
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
