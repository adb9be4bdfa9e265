package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Backend paths.
const (
	PathMe              = "/me"
	PathEnvironments    = "/environments"
	PathEnvironment     = "/environment"
	PathEnvironmentKeys = "/environment/keys"
	PathVariables       = "/variables"
)

// Identity is the backend's self-description of a key.
type Identity struct {
	KeyType        string `json:"key_type"`
	OrganizationID int64  `json:"organization_id"`
	EnvironmentID  *int64 `json:"environment_id,omitempty"`
}

type Environment struct {
	ID             int64   `json:"id"`
	OrganizationID int64   `json:"organization_id"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

type UpdateEnvironmentRequest struct {
	Name string `json:"name"`
}

type listEnvironmentsResponse struct {
	Environments []Environment `json:"environments"`
}

func (c *Client) Me(ctx context.Context, credential string) (*Identity, error) {
	var id Identity
	if err := c.Do(ctx, credential, http.MethodGet, PathMe, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// ListEnvironments succeeds only for organisation-wide keys.
func (c *Client) ListEnvironments(ctx context.Context, credential string) ([]Environment, error) {
	var resp listEnvironmentsResponse
	if err := c.Do(ctx, credential, http.MethodGet, PathEnvironments, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Environments, nil
}

// GetEnvironment returns the environment a scoped key is bound to.
func (c *Client) GetEnvironment(ctx context.Context, credential string) (*Environment, error) {
	var env Environment
	if err := c.Do(ctx, credential, http.MethodGet, PathEnvironment, nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Client) UpdateEnvironment(ctx context.Context, credential string, req UpdateEnvironmentRequest) error {
	return c.Do(ctx, credential, http.MethodPatch, PathEnvironment, req, nil)
}

// Forward relays a call verbatim and returns the raw JSON answer (nil for 204).
func (c *Client) Forward(ctx context.Context, credential, method, path string, body any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, credential, method, path, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// EnvironmentPath is the path of one environment by id.
func EnvironmentPath(id int64) string {
	return PathEnvironments + "/" + strconv.FormatInt(id, 10)
}

// VariablePath is the path of one variable; the key is escaped.
func VariablePath(key string) string {
	return PathVariables + "/" + url.PathEscape(key)
}
