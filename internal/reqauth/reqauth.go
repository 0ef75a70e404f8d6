// Package reqauth implements the per-request claim-check shared by every
// send and receive HTTP handler: token in the path, clientId in the
// query, both required on every non-health endpoint per spec.md §6.
package reqauth

import (
	"net/http"
	"strings"

	"github.com/kenneth/wiredrop/internal/apperr"
	"github.com/kenneth/wiredrop/internal/session"
)

// ClientID extracts the clientId query parameter required on every
// non-health endpoint.
func ClientID(r *http.Request) string {
	return r.URL.Query().Get("clientId")
}

// RequireActiveSession validates that token/clientId identify an already
// claimed (or completed) session. Used by every handler except the
// manifest endpoint, which may also claim.
func RequireActiveSession(sess *session.Session, token, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return apperr.Unauthorized("clientId must not be empty")
	}
	if !sess.IsActive(token, clientID) {
		return apperr.Unauthorized("invalid or inactive session")
	}
	return nil
}

// ClaimOrValidateSession claims the session for clientID if unclaimed, or
// validates that clientID already owns it. This is the manifest
// endpoint's contract: first fetch wins the session, repeat fetches by
// the same client succeed, any other client is rejected.
func ClaimOrValidateSession(sess *session.Session, token, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return apperr.Unauthorized("clientId must not be empty")
	}
	if !sess.Claim(token, clientID) {
		return apperr.Unauthorized("invalid token or session already claimed by another client")
	}
	return nil
}
