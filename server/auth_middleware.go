package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/keyconsole/credential"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/session"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySession stores the caller's session.Token
const ContextKeySession ContextKey = "session"

// TierGuard reports whether a tier may use a route.
type TierGuard func(credential.Tier) bool

func AnyTier(credential.Tier) bool { return true }

func TopTier(t credential.Tier) bool { return t == credential.TierTop }

func ScopedAdminTier(t credential.Tier) bool { return t == credential.TierScopedAdmin }

// WritableTier excludes read-only keys.
func WritableTier(t credential.Tier) bool { return t.CanWrite() }

// RequireSession is middleware for API routes that need a console session.
// The request counts as activity, so the session may be reissued. Callers
// without a valid session get 401; callers whose tier fails allowed get 403.
func (s *Server) RequireSession(allowed TierGuard) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			t, err := s.sessions.Touch(w, r)
			if err != nil {
				writeJSONError(w, "Unauthorized", "no active session", http.StatusUnauthorized)
				return
			}
			if !allowed(t.Tier) {
				log.Debug().Str("session", t.SessionID).Str("tier", t.Tier.String()).Str("route", r.Pattern).Err(apperrors.ErrInsufficientTier).Msg("Route refused")
				writeJSONError(w, "Forbidden", apperrors.ErrInsufficientTier.Error(), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, t)
			next(w, r.WithContext(ctx))
		}
	}
}

// sessionFrom returns the token stored by RequireSession.
func sessionFrom(ctx context.Context) (session.Token, bool) {
	t, ok := ctx.Value(ContextKeySession).(session.Token)
	return t, ok
}
