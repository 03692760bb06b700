// Package crypto provides the authenticated-encryption envelope used for
// page bodies and WAL frames (spec §4.1, §4.4). Keys are derived from a
// single caller-supplied master key via HKDF with a domain-separation
// label, so the page cipher, the WAL cipher, and any FTS term-key wrap
// never share key material even though they all trace back to one secret.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of the caller-supplied master key.
const KeySize = 32

// NonceSize is the ChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSize

// DeriveKey expands masterKey into a domain-separated subkey using
// HKDF-SHA256, salted by the database's on-disk salt and labeled by info
// (e.g. "muro-page-v1", "muro-wal-v1", "muro-index-wrap-v1").
func DeriveKey(masterKey, salt []byte, info string) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("crypto: master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	r := hkdf.New(sha256.New, masterKey, salt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// AEAD wraps a single ChaCha20-Poly1305 key and exposes the page/WAL
// sealing conventions used throughout the engine: a deterministic nonce
// built from caller-supplied counters, plus associated data that binds the
// ciphertext to its logical position so swapped or replayed frames fail to
// authenticate.
type AEAD struct {
	key []byte
}

// New constructs an AEAD sealer/opener from a derived 32-byte key.
func New(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &AEAD{key: key}, nil
}

func buildNonce(a, b uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize) // 12 bytes
	binary.BigEndian.PutUint64(nonce[0:8], a)
	binary.BigEndian.PutUint32(nonce[8:12], uint32(b))
	return nonce
}

// SealPage encrypts a page body under the nonce derived from (pageID, epoch).
// The associated data binds pageID and epoch into the authentication tag so
// that ciphertext cannot be relocated to a different page or replayed under
// a stale epoch without decrypt failing.
func (c *AEAD) SealPage(pageID, epoch uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	nonce := buildNonce(pageID, epoch)
	ad := pageAD(pageID, epoch)
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// OpenPage decrypts and authenticates a page body sealed by SealPage.
// Any bit flip in ciphertext, tag, pageID, or epoch causes this to fail.
func (c *AEAD) OpenPage(pageID, epoch uint64, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	nonce := buildNonce(pageID, epoch)
	ad := pageAD(pageID, epoch)
	return aead.Open(nil, nonce, ciphertext, ad)
}

func pageAD(pageID, epoch uint64) []byte {
	ad := make([]byte, 17)
	copy(ad[0:1], []byte("P"))
	binary.BigEndian.PutUint64(ad[1:9], pageID)
	binary.BigEndian.PutUint64(ad[9:17], epoch)
	return ad
}

// SealFrame encrypts a WAL frame's plaintext under a nonce derived from the
// frame's LSN (its byte offset in the WAL). Associated data includes the
// LSN so frames cannot be reordered or replayed at another offset.
func (c *AEAD) SealFrame(lsn uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	nonce := buildNonce(lsn, 0)
	return aead.Seal(nil, nonce, plaintext, frameAD(lsn)), nil
}

// OpenFrame decrypts and authenticates a WAL frame sealed by SealFrame.
func (c *AEAD) OpenFrame(lsn uint64, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	nonce := buildNonce(lsn, 0)
	return aead.Open(nil, nonce, ciphertext, frameAD(lsn))
}

func frameAD(lsn uint64) []byte {
	ad := make([]byte, 9)
	copy(ad[0:1], []byte("W"))
	binary.BigEndian.PutUint64(ad[1:9], lsn)
	return ad
}

// SealRandom seals plaintext under a caller-supplied random nonce and
// associated data, for one-off envelopes that don't fit the page/frame
// counter-nonce scheme (e.g. wrapping a per-index FTS term key under the
// master key, spec §6). The nonce must be NonceSize bytes and must never
// be reused under the same key.
func (c *AEAD) SealRandom(nonce, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// OpenRandom decrypts and authenticates a SealRandom envelope.
func (c *AEAD) OpenRandom(nonce, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

// Overhead is the number of bytes SealPage/SealFrame add beyond the
// plaintext length (the Poly1305 authentication tag).
func Overhead() int { return chacha20poly1305.Overhead }
