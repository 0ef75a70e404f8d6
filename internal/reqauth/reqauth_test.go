package reqauth

import (
	"net/http/httptest"
	"testing"

	"github.com/kenneth/wiredrop/internal/session"
)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	var key [32]byte
	s, err := session.New(key)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return s
}

func TestClientIDFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/send/tok/manifest?clientId=abc", nil)
	if got := ClientID(req); got != "abc" {
		t.Fatalf("ClientID = %q, want abc", got)
	}
}

func TestClaimOrValidateSessionFirstClaimWins(t *testing.T) {
	s := newSession(t)
	if err := ClaimOrValidateSession(s, s.Token(), "client-a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ClaimOrValidateSession(s, s.Token(), "client-a"); err != nil {
		t.Fatalf("repeat claim by same client: %v", err)
	}
	if err := ClaimOrValidateSession(s, s.Token(), "client-b"); err == nil {
		t.Fatalf("expected rejection for a different client")
	}
}

func TestRequireActiveSessionRejectsEmptyClientID(t *testing.T) {
	s := newSession(t)
	if err := RequireActiveSession(s, s.Token(), ""); err == nil {
		t.Fatalf("expected error for empty clientId")
	}
}

func TestRequireActiveSessionRequiresClaim(t *testing.T) {
	s := newSession(t)
	if err := RequireActiveSession(s, s.Token(), "client-a"); err == nil {
		t.Fatalf("expected error for unclaimed session")
	}
	s.Claim(s.Token(), "client-a")
	if err := RequireActiveSession(s, s.Token(), "client-a"); err != nil {
		t.Fatalf("RequireActiveSession after claim: %v", err)
	}
}
