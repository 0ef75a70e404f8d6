package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrAuthFailed is returned by DecryptChunk when GCM tag verification
// fails. It is never retried blindly by callers — a failed chunk is a
// fatal error for that transfer.
var ErrAuthFailed = errors.New("crypto: chunk authentication failed")

// ErrInvalidKeySize is returned by NewCipher when key is not 32 bytes.
var ErrInvalidKeySize = errors.New("crypto: session key must be 32 bytes")

// NewCipher constructs an AES-256-GCM AEAD bound to a 32-byte session (or
// derived sub-) key. The returned cipher.AEAD is safe for concurrent use
// across goroutines — callers serialize only on the nonce counter, never
// on the cipher itself.
func NewCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return aead, nil
}

// EncryptChunk seals plaintext in place: it grows the backing slice by
// AEADTagLen and returns the sealed buffer. The nonce is derived from base
// and counter and is never transmitted — the peer recomputes it the same
// way. plaintext's capacity should already account for the tag growth
// (callers size buffers from the pool at chunk_size+AEADTagLen) so this
// does not reallocate on the hot path.
func EncryptChunk(aead cipher.AEAD, base NonceBase, counter uint32, plaintext []byte) []byte {
	nonce := base.WithCounter(counter)
	return aead.Seal(plaintext[:0], nonce[:], plaintext, nil)
}

// DecryptChunk verifies and strips the GCM tag from ciphertext, recomputing
// the nonce from base and counter. A tag mismatch returns ErrAuthFailed
// wrapped with the chunk context; it is always fatal for that chunk.
func DecryptChunk(aead cipher.AEAD, base NonceBase, counter uint32, ciphertext []byte) ([]byte, error) {
	nonce := base.WithCounter(counter)
	plaintext, err := aead.Open(ciphertext[:0], nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: counter=%d", ErrAuthFailed, counter)
	}
	return plaintext, nil
}
