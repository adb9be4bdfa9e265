package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/keyconsole/backend"
)

// forward relays one call to the backend with the session's credential.
// A 401 from the backend means the key was revoked, so the session ends too.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, method, path string, body any, status int) {
	t, ok := sessionFrom(r.Context())
	if !ok {
		writeJSONError(w, "Unauthorized", "no active session", http.StatusUnauthorized)
		return
	}

	raw, err := s.backend.Forward(r.Context(), t.Credential, method, path, body)
	if err != nil {
		if backend.StatusCode(err) == http.StatusUnauthorized {
			s.sessions.End(w)
		}
		writeBackendError(w, err)
		return
	}
	writeRawJSON(w, status, raw)
}

func (s *Server) relay(method, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, method, path, nil, http.StatusOK)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return s.relay(http.MethodGet, backend.PathMe)
}

func (s *Server) ListEnvironmentsHandler() http.HandlerFunc {
	return s.relay(http.MethodGet, backend.PathEnvironments)
}

type createEnvironmentRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) CreateEnvironmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEnvironmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "Bad Request", "invalid JSON body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeJSONError(w, "Bad Request", "name is required", http.StatusBadRequest)
			return
		}
		s.forward(w, r, http.MethodPost, backend.PathEnvironments, req, http.StatusCreated)
	}
}

func (s *Server) DeleteEnvironmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeJSONError(w, "Bad Request", "environment id must be numeric", http.StatusBadRequest)
			return
		}
		s.forward(w, r, http.MethodDelete, backend.EnvironmentPath(id), nil, http.StatusOK)
	}
}

func (s *Server) CurrentEnvironmentHandler() http.HandlerFunc {
	return s.relay(http.MethodGet, backend.PathEnvironment)
}

func (s *Server) EnvironmentKeysHandler() http.HandlerFunc {
	return s.relay(http.MethodGet, backend.PathEnvironmentKeys)
}

func (s *Server) ListVariablesHandler() http.HandlerFunc {
	return s.relay(http.MethodGet, backend.PathVariables)
}

func (s *Server) GetVariableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, http.MethodGet, backend.VariablePath(r.PathValue("key")), nil, http.StatusOK)
	}
}

type setVariableRequest struct {
	Value json.RawMessage `json:"value"`
}

var (
	errValueRequired = errors.New("value is required")
	errValueType     = errors.New("value must be a string, number or boolean")
)

// variableValue turns a JSON scalar into the string stored by the backend.
// Numbers and true keep their literal text. Missing, null, false, zero and
// empty values are refused, as are objects and arrays.
func variableValue(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if len(bytes.TrimSpace(raw)) == 0 || dec.Decode(&v) != nil {
		return "", errValueRequired
	}
	switch v := v.(type) {
	case string:
		if v == "" {
			return "", errValueRequired
		}
		return v, nil
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return "", errValueRequired
		}
		return v.String(), nil
	case bool:
		if !v {
			return "", errValueRequired
		}
		return "true", nil
	case nil:
		return "", errValueRequired
	}
	return "", errValueType
}

func (s *Server) SetVariableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setVariableRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "Bad Request", "invalid JSON body", http.StatusBadRequest)
			return
		}
		value, err := variableValue(req.Value)
		if err != nil {
			writeJSONError(w, "Bad Request", err.Error(), http.StatusBadRequest)
			return
		}
		body := map[string]string{"value": value}
		s.forward(w, r, http.MethodPut, backend.VariablePath(r.PathValue("key")), body, http.StatusOK)
	}
}

func (s *Server) DeleteVariableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, http.MethodDelete, backend.VariablePath(r.PathValue("key")), nil, http.StatusOK)
	}
}
