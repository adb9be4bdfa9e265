package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string // backend "error" field
	Message    string // backend "message" field
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("backend %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsAuthorization reports whether the backend refused the credential (401/403).
func (e *StatusError) IsAuthorization() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	e := &StatusError{Method: method, Path: path, StatusCode: status}
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		e.Code = apiErr.Error
		e.Message = apiErr.Message
	}
	return e
}

// StatusCode returns the backend status carried by err, or 0 when err did not
// come from a backend response.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsAuthorizationRejection reports whether err is a 401 or 403 from the backend.
func IsAuthorizationRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsAuthorization()
}
