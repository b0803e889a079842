package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Session is an authenticated management caller. A session may carry its own
// mailbox refresh token; when it doesn't, trigger handlers fall back to the
// configured service credential.
type Session struct {
	RefreshToken string
}

// Sessions resolves a request to a session. Session issuing itself is
// outside this service; the production implementation is a static API token.
type Sessions interface {
	// FromRequest returns the request's session, or nil when the request
	// carries no valid session.
	FromRequest(r *http.Request) *Session
}

// StaticSessions authenticates a single bearer API token and binds it to one
// mailbox refresh token.
type StaticSessions struct {
	Token        string
	RefreshToken string
}

func (s *StaticSessions) FromRequest(r *http.Request) *Session {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) || !secretEqual(auth[len(prefix):], s.Token) {
		return nil
	}
	return &Session{RefreshToken: s.RefreshToken}
}

// secretEqual compares two secrets in constant time. An empty expected
// secret never matches.
func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireSession guards the management endpoints.
func requireSession(sessions Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions.FromRequest(r) == nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing session token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
