package crypto

import "encoding/binary"

// NonceSize is the AES-GCM standard nonce length: an 8-byte random base
// concatenated with a 4-byte big-endian counter.
const NonceSize = 12

// BaseSize is the length of the random per-file nonce base.
const BaseSize = 8

// AEADTagLen is the GCM authentication tag appended to every sealed chunk.
const AEADTagLen = 16

// NonceBase is the random 8-byte value generated once per file at manifest
// build time. WithCounter derives the full 12-byte nonce for a given chunk
// index without transmitting anything beyond the base.
type NonceBase [BaseSize]byte

// WithCounter returns the 12-byte nonce for chunk index counter: the base
// followed by counter encoded big-endian. Distinct counters within the
// same base never repeat a nonce as long as counter stays within its
// 32-bit range, which chunk indices never approach in practice.
func (b NonceBase) WithCounter(counter uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:BaseSize], b[:])
	binary.BigEndian.PutUint32(nonce[BaseSize:], counter)
	return nonce
}
