package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestEncryptDecryptChunkRoundTrip(t *testing.T) {
	aead, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	var base NonceBase
	copy(base[:], []byte("12345678"))

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	buf := make([]byte, len(plaintext), len(plaintext)+AEADTagLen)
	copy(buf, plaintext)

	sealed := EncryptChunk(aead, base, 7, buf)
	if bytes.Equal(sealed[:len(plaintext)], plaintext) {
		t.Fatalf("ciphertext should not equal plaintext")
	}
	if len(sealed) != len(plaintext)+AEADTagLen {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+AEADTagLen)
	}

	opened, err := DecryptChunk(aead, base, 7, sealed)
	if err != nil {
		t.Fatalf("DecryptChunk: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("decrypted = %q, want %q", opened, plaintext)
	}
}

func TestDecryptChunkWrongCounterFails(t *testing.T) {
	aead, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	var base NonceBase
	copy(base[:], []byte("abcdefgh"))

	plaintext := []byte("payload")
	buf := make([]byte, len(plaintext), len(plaintext)+AEADTagLen)
	copy(buf, plaintext)
	sealed := EncryptChunk(aead, base, 1, buf)

	if _, err := DecryptChunk(aead, base, 2, sealed); err == nil {
		t.Fatalf("expected authentication failure with mismatched counter")
	}
}

func TestDecryptChunkTamperedCiphertextFails(t *testing.T) {
	aead, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	var base NonceBase
	copy(base[:], []byte("tamperXY"))

	plaintext := []byte("integrity matters")
	buf := make([]byte, len(plaintext), len(plaintext)+AEADTagLen)
	copy(buf, plaintext)
	sealed := EncryptChunk(aead, base, 0, buf)
	sealed[0] ^= 0xFF

	if _, err := DecryptChunk(aead, base, 0, sealed); err == nil {
		t.Fatalf("expected authentication failure on tampered ciphertext")
	}
}

func TestNewCipherRejectsWrongKeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err != ErrInvalidKeySize {
		t.Fatalf("NewCipher with 16-byte key: err = %v, want ErrInvalidKeySize", err)
	}
}

func TestNonceBaseWithCounterVaries(t *testing.T) {
	var base NonceBase
	copy(base[:], []byte("fixedbas"))

	n0 := base.WithCounter(0)
	n1 := base.WithCounter(1)
	if n0 == n1 {
		t.Fatalf("nonces for different counters must differ")
	}
	if !bytes.Equal(n0[:BaseSize], n1[:BaseSize]) {
		t.Fatalf("nonce base bytes must stay fixed across counters")
	}
}
