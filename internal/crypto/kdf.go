package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SendInfo and ReceiveInfo are the HKDF info strings that separate the two
// directions' subkeys derived from one session key. A peer running in send
// mode never holds the receive subkey and vice versa, so a bug that
// crosses wires can't accidentally decrypt with the wrong derivation.
const (
	SendInfo    = "wiredrop-send-v1"
	ReceiveInfo = "wiredrop-receive-v1"
)

// SubkeySet holds the two HKDF-derived subkeys for one session key.
type SubkeySet struct {
	SendKey    [32]byte
	ReceiveKey [32]byte
}

// DeriveSubkeys expands a 32-byte session key into independent send and
// receive subkeys via HKDF-SHA256. Deterministic for a fixed sessionKey:
// both peers derive the identical subkeys from the session key exchanged
// out of band, without ever transmitting the subkeys themselves.
func DeriveSubkeys(sessionKey [32]byte) (SubkeySet, error) {
	var set SubkeySet

	sendReader := hkdf.New(sha256.New, sessionKey[:], nil, []byte(SendInfo))
	if _, err := io.ReadFull(sendReader, set.SendKey[:]); err != nil {
		return SubkeySet{}, err
	}

	recvReader := hkdf.New(sha256.New, sessionKey[:], nil, []byte(ReceiveInfo))
	if _, err := io.ReadFull(recvReader, set.ReceiveKey[:]); err != nil {
		return SubkeySet{}, err
	}

	return set, nil
}
