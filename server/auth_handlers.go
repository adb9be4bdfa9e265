package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jrsteele09/keyconsole/credential"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/utils"
	"github.com/jrsteele09/keyconsole/session"
	"github.com/rs/zerolog/log"
)

type validateRequest struct {
	APIKey string `json:"apiKey"`
}

// keyInfoResponse describes the caller's key to the console front-end.
type keyInfoResponse struct {
	KeyType       string `json:"keyType"`
	EnvironmentID *int64 `json:"environmentId,omitempty"`
	ExpiresAt     *int64 `json:"expiresAt,omitempty"` // unix milliseconds
}

func newKeyInfoResponse(t session.Token) keyInfoResponse {
	return keyInfoResponse{
		KeyType:       t.Tier.String(),
		EnvironmentID: utils.Clone(t.ScopeID),
		ExpiresAt:     utils.Ptr(t.ExpiresAt.UnixMilli()),
	}
}

// ValidateHandler classifies a submitted credential and, when it resolves to
// a tier, opens a session for it.
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.APIKey) == "" {
			writeJSONError(w, "Bad Request", "apiKey is required", http.StatusBadRequest)
			return
		}
		apiKey := strings.TrimSpace(req.APIKey)

		info, err := s.classifier.Classify(r.Context(), apiKey)
		if err != nil {
			s.writeClassificationError(w, r, apiKey, err)
			return
		}

		t, err := s.sessions.Establish(w, info, apiKey)
		if err != nil {
			log.Err(err).Str("credential", credential.Mask(apiKey)).Msg("Failed to establish session")
			writeJSONError(w, "Internal Server Error", "unable to start session", http.StatusInternalServerError)
			return
		}

		resp := newKeyInfoResponse(t)
		resp.ExpiresAt = nil
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) writeClassificationError(w http.ResponseWriter, r *http.Request, apiKey string, err error) {
	masked := credential.Mask(apiKey)
	switch {
	case r.Context().Err() != nil || errors.Is(err, context.Canceled):
		log.Debug().Str("credential", masked).Msg("Credential validation abandoned by client")
		writeJSONError(w, "Service Unavailable", "request cancelled", http.StatusServiceUnavailable)
	case errors.Is(err, apperrors.ErrInvalidCredential):
		log.Info().Str("credential", masked).Msg("Invalid credential submitted")
		writeJSONError(w, "Unauthorized", "Invalid API key", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInsufficientSignal):
		log.Warn().Str("credential", masked).Err(err).Msg("Credential tier could not be determined")
		writeJSONError(w, "Unauthorized", "Unable to determine key permissions", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		log.Err(err).Str("credential", masked).Msg("Backend unavailable during validation")
		writeJSONError(w, "Service Unavailable", "backend unavailable, try again shortly", http.StatusServiceUnavailable)
	default:
		log.Err(err).Str("credential", masked).Msg("Credential validation failed")
		writeJSONError(w, "Internal Server Error", apperrors.ErrInternal.Error(), http.StatusInternalServerError)
	}
}

// SessionHandler is the console's activity signal. It reports the current
// session and reissues it when due.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.sessions.Touch(w, r)
		if err != nil {
			writeJSONError(w, "Unauthorized", "no active session", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, newKeyInfoResponse(t))
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sessions.End(w)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
