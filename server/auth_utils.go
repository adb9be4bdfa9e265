package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jrsteele09/keyconsole/backend"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxBodyBytes    = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("Failed to write response")
	}
}

func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		writeJSON(w, status, map[string]bool{"success": true})
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeJSONError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// writeBackendError relays a failed backend call. Backend answers keep their
// status and message; an unreachable backend is 503.
func writeBackendError(w http.ResponseWriter, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		writeJSONError(w, "Service Unavailable", "backend unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &se):
		code := se.Code
		if code == "" {
			code = http.StatusText(se.StatusCode)
		}
		writeJSONError(w, code, se.Message, se.StatusCode)
	default:
		log.Err(err).Msg("Backend call failed")
		writeJSONError(w, "Internal Server Error", apperrors.ErrInternal.Error(), http.StatusInternalServerError)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "decoding body: %s", err.Error())
	}
	return nil
}
