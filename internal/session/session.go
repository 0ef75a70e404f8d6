// Package session implements the single-session claim/active/complete
// state machine shared by send and receive processes.
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
)

// State is the session's lifecycle position.
type State int

const (
	Unclaimed State = iota
	Claimed
	Completed
)

func (s State) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case Claimed:
		return "claimed"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// tokenBytes is sized for comfortably more than 128 bits of entropy;
// base64 URL encoding keeps the token path-segment safe without escaping.
const tokenBytes = 20

// Session is the single per-process transfer session: a bearer token, a
// claim state machine, and the AEAD cipher bound to the session key. There
// is exactly one Session per process — multi-session multiplexing is out
// of scope.
type Session struct {
	token      string
	sessionKey [32]byte
	cipher     cipher.AEAD

	mu       sync.Mutex
	state    State
	clientID string
}

// New generates a random bearer token and builds a Session bound to
// sessionKey, starting Unclaimed.
func New(sessionKey [32]byte) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	aead, err := wdcrypto.NewCipher(sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("build session cipher: %w", err)
	}
	return &Session{
		token:      token,
		sessionKey: sessionKey,
		cipher:     aead,
		state:      Unclaimed,
	}, nil
}

// Direction selects which HKDF-derived subkey NewForDirection binds its
// cipher to.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// NewForDirection builds a Session the same way New does, except the AEAD
// is bound to the HKDF subkey for dir rather than sessionKey directly; the
// other direction's subkey is derived here and then discarded. The Session
// still stores sessionKey itself, since that is what SessionKeyB64 hands to
// the peer, so either subkey remains derivable from it; each side
// independently derives its own subkey from it.
func NewForDirection(sessionKey [32]byte, dir Direction) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	subkeys, err := wdcrypto.DeriveSubkeys(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("derive session subkeys: %w", err)
	}
	var key [32]byte
	switch dir {
	case DirectionSend:
		key = subkeys.SendKey
	case DirectionReceive:
		key = subkeys.ReceiveKey
	default:
		return nil, fmt.Errorf("session: unknown direction %q", dir)
	}
	aead, err := wdcrypto.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("build session cipher: %w", err)
	}
	return &Session{
		token:      token,
		sessionKey: sessionKey,
		cipher:     aead,
		state:      Unclaimed,
	}, nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Token returns the session's bearer token.
func (s *Session) Token() string { return s.token }

// Cipher returns the AEAD bound to the session key.
func (s *Session) Cipher() cipher.AEAD { return s.cipher }

// SessionKeyB64 returns the raw session key, URL-safe base64 encoded, for
// out-of-band delivery in the receive-manifest response.
func (s *Session) SessionKeyB64() string {
	return base64.RawURLEncoding.EncodeToString(s.sessionKey[:])
}

// Claim attempts to bind clientID to the session. It fails if token
// mismatches or clientID is empty/whitespace. A session already claimed
// by the same clientID claims idempotently (returns true without state
// change); claimed by a different clientID, it fails.
func (s *Session) Claim(token, clientID string) bool {
	if token != s.token || strings.TrimSpace(clientID) == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Unclaimed:
		s.state = Claimed
		s.clientID = clientID
		return true
	case Claimed, Completed:
		return s.clientID == clientID
	default:
		return false
	}
}

// IsActive reports whether token matches and the session is Claimed or
// Completed by clientID.
func (s *Session) IsActive(token, clientID string) bool {
	if token != s.token {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Claimed, Completed:
		return s.clientID == clientID
	default:
		return false
	}
}

// Complete requires an active session and transitions it to Completed.
// Idempotent: completing an already-Completed session by the same client
// succeeds without changing state.
func (s *Session) Complete(token, clientID string) bool {
	if !s.IsActive(token, clientID) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Completed
	return true
}

// State returns the session's current state, for diagnostics/metrics.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientID returns the claimed client id, or "" if unclaimed.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}
