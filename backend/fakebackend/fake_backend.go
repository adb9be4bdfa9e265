// Package fakebackend is an in-memory stand-in for the environment-variable
// service, served over httptest. It records how often each route is hit.
package fakebackend

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Route patterns, also used as keys for Calls, SetStatus and FailTransport.
const (
	RouteMe                = "GET /me"
	RouteListEnvironments  = "GET /environments"
	RouteCreateEnvironment = "POST /environments"
	RouteDeleteEnvironment = "DELETE /environments/{id}"
	RouteGetEnvironment    = "GET /environment"
	RouteUpdateEnvironment = "PATCH /environment"
	RouteEnvironmentKeys   = "GET /environment/keys"
	RouteListVariables     = "GET /variables"
	RouteGetVariable       = "GET /variables/{key}"
	RouteSetVariable       = "PUT /variables/{key}"
	RouteDeleteVariable    = "DELETE /variables/{key}"
)

const (
	KeyTypeAppAdmin    = "APP_ADMIN"
	KeyTypeEnvAdmin    = "ENV_ADMIN"
	KeyTypeEnvReadOnly = "ENV_READ_ONLY"
)

type key struct {
	keyType       string
	environmentID int64
}

type environment struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type variable struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Backend struct {
	mu           sync.Mutex
	mux          *http.ServeMux
	server       *httptest.Server
	keys         map[string]key
	environments map[int64]*environment
	variables    map[int64]map[string]*variable
	nextEnvID    int64
	calls        map[string]int
	statuses     map[string]int
	failures     map[string]int
	patchBodies  []string
}

// New starts a fake backend. Call Close when done.
func New() *Backend {
	b := &Backend{
		mux:          http.NewServeMux(),
		keys:         map[string]key{},
		environments: map[int64]*environment{},
		variables:    map[int64]map[string]*variable{},
		nextEnvID:    1,
		calls:        map[string]int{},
		statuses:     map[string]int{},
		failures:     map[string]int{},
	}
	b.mux.HandleFunc(RouteMe, b.me)
	b.mux.HandleFunc(RouteListEnvironments, b.listEnvironments)
	b.mux.HandleFunc(RouteCreateEnvironment, b.createEnvironment)
	b.mux.HandleFunc(RouteDeleteEnvironment, b.deleteEnvironment)
	b.mux.HandleFunc(RouteGetEnvironment, b.getEnvironment)
	b.mux.HandleFunc(RouteUpdateEnvironment, b.updateEnvironment)
	b.mux.HandleFunc(RouteEnvironmentKeys, b.environmentKeys)
	b.mux.HandleFunc(RouteListVariables, b.listVariables)
	b.mux.HandleFunc(RouteGetVariable, b.getVariable)
	b.mux.HandleFunc(RouteSetVariable, b.setVariable)
	b.mux.HandleFunc(RouteDeleteVariable, b.deleteVariable)
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *Backend) URL() string { return b.server.URL }

func (b *Backend) Close() { b.server.Close() }

// HTTPClient returns a client that never reuses connections, so a dropped
// connection surfaces to the caller instead of being replayed by net/http.
func (b *Backend) HTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

// AddEnvironment creates an environment and returns its id.
func (b *Backend) AddEnvironment(name string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addEnvironmentLocked(name, "")
}

// AddKey registers a credential. environmentID is ignored for APP_ADMIN keys.
func (b *Backend) AddKey(credential, keyType string, environmentID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[credential] = key{keyType: keyType, environmentID: environmentID}
}

// SetVariable seeds a variable in an environment.
func (b *Backend) SetVariable(environmentID int64, name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putVariableLocked(environmentID, name, value)
}

// SetStatus forces route to answer with status and an error body.
func (b *Backend) SetStatus(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[route] = status
}

// FailTransport drops the connection for the next n calls to route.
func (b *Backend) FailTransport(route string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = n
}

// Calls returns how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// TotalCalls returns the number of requests across all routes.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// PatchBodies returns the raw bodies received by PATCH /environment.
func (b *Backend) PatchBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.patchBodies...)
}

// EnvironmentUpdatedAt exposes the stored update stamp of an environment.
func (b *Backend) EnvironmentUpdatedAt(id int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if env, ok := b.environments[id]; ok {
		return env.UpdatedAt
	}
	return ""
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	_, pattern := b.mux.Handler(r)

	b.mu.Lock()
	b.calls[pattern]++
	failures := b.failures[pattern]
	if failures > 0 {
		b.failures[pattern] = failures - 1
	}
	status, forced := b.statuses[pattern]
	b.mu.Unlock()

	if failures > 0 {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if forced {
		writeError(w, status, http.StatusText(status), "forced by test")
		return
	}
	b.mux.ServeHTTP(w, r)
}

func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request) (key, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	k, ok := b.keys[token]
	b.mu.Unlock()
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid API key")
		return key{}, false
	}
	return k, true
}

func (b *Backend) requireScoped(w http.ResponseWriter, r *http.Request, write bool) (key, bool) {
	k, ok := b.authenticate(w, r)
	if !ok {
		return key{}, false
	}
	if k.keyType == KeyTypeAppAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "environment key required")
		return key{}, false
	}
	if write && k.keyType != KeyTypeEnvAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "ENV_ADMIN permission required")
		return key{}, false
	}
	return k, true
}

func (b *Backend) requireAppAdmin(w http.ResponseWriter, r *http.Request) bool {
	k, ok := b.authenticate(w, r)
	if !ok {
		return false
	}
	if k.keyType != KeyTypeAppAdmin {
		writeError(w, http.StatusForbidden, "Forbidden", "APP_ADMIN permission required")
		return false
	}
	return true
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	k, ok := b.authenticate(w, r)
	if !ok {
		return
	}
	resp := map[string]any{"key_type": k.keyType, "organization_id": 1}
	if k.keyType != KeyTypeAppAdmin {
		resp["environment_id"] = k.environmentID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) listEnvironments(w http.ResponseWriter, r *http.Request) {
	if !b.requireAppAdmin(w, r) {
		return
	}
	b.mu.Lock()
	envs := make([]environment, 0, len(b.environments))
	for _, env := range b.environments {
		envs = append(envs, *env)
	}
	b.mu.Unlock()
	sort.Slice(envs, func(i, j int) bool { return envs[i].ID < envs[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

func (b *Backend) createEnvironment(w http.ResponseWriter, r *http.Request) {
	if !b.requireAppAdmin(w, r) {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Bad Request", "name is required")
		return
	}
	b.mu.Lock()
	id := b.addEnvironmentLocked(req.Name, req.Description)
	env := *b.environments[id]
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              env.ID,
		"organization_id": env.OrganizationID,
		"name":            env.Name,
		"description":     env.Description,
		"created_at":      env.CreatedAt,
		"keys": map[string]string{
			"env_admin":     "env-admin-" + strconv.FormatInt(id, 10),
			"env_read_only": "env-read-" + strconv.FormatInt(id, 10),
		},
	})
}

func (b *Backend) deleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if !b.requireAppAdmin(w, r) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	b.mu.Lock()
	_, ok := b.environments[id]
	delete(b.environments, id)
	delete(b.variables, id)
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", "environment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) getEnvironment(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, false)
	if !ok {
		return
	}
	b.mu.Lock()
	env, found := b.environments[k.environmentID]
	var out environment
	if found {
		out = *env
	}
	b.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "environment not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) updateEnvironment(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, true)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	raw := new(strings.Builder)
	if err := json.NewDecoder(io.TeeReader(r.Body, raw)).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Bad Request", "name is required")
		return
	}
	b.mu.Lock()
	b.patchBodies = append(b.patchBodies, strings.TrimSpace(raw.String()))
	env, found := b.environments[k.environmentID]
	if found && env.Name != req.Name {
		env.Name = req.Name
		env.UpdatedAt = now()
	}
	b.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "environment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) environmentKeys(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, true)
	if !ok {
		return
	}
	id := strconv.FormatInt(k.environmentID, 10)
	writeJSON(w, http.StatusOK, map[string]string{
		"env_admin":     "env-admin-" + id,
		"env_read_only": "env-read-" + id,
	})
}

func (b *Backend) listVariables(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, false)
	if !ok {
		return
	}
	b.mu.Lock()
	vars := make([]variable, 0, len(b.variables[k.environmentID]))
	for _, v := range b.variables[k.environmentID] {
		vars = append(vars, *v)
	}
	b.mu.Unlock()
	sort.Slice(vars, func(i, j int) bool { return vars[i].Key < vars[j].Key })
	writeJSON(w, http.StatusOK, vars)
}

func (b *Backend) getVariable(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, false)
	if !ok {
		return
	}
	b.mu.Lock()
	v, found := b.variables[k.environmentID][r.PathValue("key")]
	var out variable
	if found {
		out = *v
	}
	b.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "variable not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) setVariable(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, true)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeError(w, http.StatusBadRequest, "Bad Request", "value is required")
		return
	}
	b.mu.Lock()
	b.putVariableLocked(k.environmentID, r.PathValue("key"), req.Value)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) deleteVariable(w http.ResponseWriter, r *http.Request) {
	k, ok := b.requireScoped(w, r, true)
	if !ok {
		return
	}
	b.mu.Lock()
	_, found := b.variables[k.environmentID][r.PathValue("key")]
	delete(b.variables[k.environmentID], r.PathValue("key"))
	b.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "Not Found", "variable not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) addEnvironmentLocked(name, description string) int64 {
	id := b.nextEnvID
	b.nextEnvID++
	stamp := now()
	b.environments[id] = &environment{
		ID:             id,
		OrganizationID: 1,
		Name:           name,
		Description:    description,
		CreatedAt:      stamp,
		UpdatedAt:      stamp,
	}
	return id
}

// AddEnvironmentWithID creates an environment under a chosen id.
func (b *Backend) AddEnvironmentWithID(id int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.nextEnvID
	b.nextEnvID = id
	b.addEnvironmentLocked(name, "")
	if next > b.nextEnvID {
		b.nextEnvID = next
	}
}

func (b *Backend) putVariableLocked(environmentID int64, name, value string) {
	if b.variables[environmentID] == nil {
		b.variables[environmentID] = map[string]*variable{}
	}
	stamp := now()
	if v, ok := b.variables[environmentID][name]; ok {
		v.Value = value
		v.UpdatedAt = stamp
		return
	}
	b.variables[environmentID][name] = &variable{Key: name, Value: value, CreatedAt: stamp, UpdatedAt: stamp}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
