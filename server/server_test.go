package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrsteele09/keyconsole/backend/fakebackend"
	"github.com/jrsteele09/keyconsole/internal/config"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/metrics"
	"github.com/jrsteele09/keyconsole/server"
	"github.com/stretchr/testify/require"
)

const (
	topKey      = "nenv_top_0123456789abcdef"
	adminKey    = "nenv_admin_0123456789abcdef"
	readOnlyKey = "nenv_readonly_0123456789abcdef"
)

type harness struct {
	srv *server.Server
	fb  *fakebackend.Backend
}

func newHarness(t *testing.T, overrides map[string]any) *harness {
	t.Helper()
	fb := fakebackend.New()
	t.Cleanup(fb.Close)
	fb.AddEnvironmentWithID(7, "staging")
	fb.AddKey(topKey, fakebackend.KeyTypeAppAdmin, 0)
	fb.AddKey(adminKey, fakebackend.KeyTypeEnvAdmin, 7)
	fb.AddKey(readOnlyKey, fakebackend.KeyTypeEnvReadOnly, 7)
	fb.SetVariable(7, "DB_URL", "postgres://db")

	values := map[string]any{
		"backend.url":           fb.URL(),
		"session.secret":        "server-test-secret",
		"login.rate_per_minute": 100,
		"cors.allowed_origins":  []string{"https://console.example.com"},
	}
	for k, v := range overrides {
		values[k] = v
	}
	cfg, err := config.NewFromMap(values)
	require.NoError(t, err)

	srv, err := server.New(cfg, server.WithBackendHTTPClient(fb.HTTPClient()), server.WithMetrics(metrics.New()))
	require.NoError(t, err)
	return &harness{srv: srv, fb: fb}
}

func (h *harness) do(method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

// login validates key and returns the session cookies.
func (h *harness) login(t *testing.T, key string) []*http.Cookie {
	t.Helper()
	rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"`+key+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestValidate(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("missing api key", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"nenv_unknown_0123456789"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Empty(t, rec.Result().Cookies())
		require.NotContains(t, rec.Body.String(), "nenv_unknown_0123456789")
		require.Equal(t, "Invalid API key", decodeBody(t, rec)["message"])
	})

	t.Run("top key", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"`+topKey+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "APP_ADMIN", body["keyType"])
		require.NotContains(t, body, "environmentId")

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, "session", cookies[0].Name)
		require.True(t, cookies[0].HttpOnly)
		require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		require.NotContains(t, cookies[0].Value, topKey)
	})

	t.Run("scoped admin key", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"`+adminKey+`"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "ENV_ADMIN", body["keyType"])
		require.Equal(t, float64(7), body["environmentId"])
	})
}

func TestValidate_BackendUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.fb.FailTransport(fakebackend.RouteMe, 2)

	rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"`+topKey+`"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Empty(t, rec.Result().Cookies())
}

func TestValidate_RateLimited(t *testing.T) {
	h := newHarness(t, map[string]any{"login.rate_per_minute": 2})

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"nenv_unknown_0123456789"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := h.do(http.MethodPost, server.RouteAuthValidate, `{"apiKey":"`+topKey+`"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestValidate_RateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := newHarness(t, map[string]any{"login.rate_per_minute": 2})

	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, server.RouteAuthValidate, strings.NewReader(`{"apiKey":"nenv_unknown_0123456789"}`))
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	require.Equal(t, 2, codes[http.StatusUnauthorized])
	require.Equal(t, 18, codes[http.StatusTooManyRequests])
}

func TestValidate_RateLimitBehindTrustedProxy(t *testing.T) {
	h := newHarness(t, map[string]any{
		"login.rate_per_minute": 1,
		"login.trusted_proxies": []string{"10.1.0.0/16"},
	})

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, server.RouteAuthValidate, strings.NewReader(`{"apiKey":"nenv_unknown_0123456789"}`))
		req.RemoteAddr = "10.1.2.3:40000"
		req.Header.Set("X-Forwarded-For", client+", 10.1.9.9")
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, send("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	require.Equal(t, http.StatusUnauthorized, send("198.51.100.2"))
}

func TestSessionAndLogout(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("no session", func(t *testing.T) {
		rec := h.do(http.MethodGet, server.RouteAuthSession, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Unauthorized", decodeBody(t, rec)["error"])
	})

	t.Run("tampered session", func(t *testing.T) {
		cookies := h.login(t, adminKey)
		cookies[0].Value = cookies[0].Value[:len(cookies[0].Value)-3] + "xyz"
		rec := h.do(http.MethodGet, server.RouteAuthSession, "", cookies)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session reports the key", func(t *testing.T) {
		cookies := h.login(t, readOnlyKey)
		rec := h.do(http.MethodGet, server.RouteAuthSession, "", cookies)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "ENV_READ_ONLY", body["keyType"])
		require.Equal(t, float64(7), body["environmentId"])
		require.NotZero(t, body["expiresAt"])
	})

	t.Run("logout clears the cookie", func(t *testing.T) {
		rec := h.do(http.MethodPost, server.RouteAuthLogout, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, -1, cookies[0].MaxAge)
	})
}

func TestTierGuards(t *testing.T) {
	h := newHarness(t, nil)
	top := h.login(t, topKey)
	admin := h.login(t, adminKey)
	readOnly := h.login(t, readOnlyKey)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		cookies []*http.Cookie
		status  int
	}{
		{"no session", http.MethodGet, "/api/variables", "", nil, http.StatusUnauthorized},
		{"me for any tier", http.MethodGet, "/api/me", "", readOnly, http.StatusOK},
		{"top lists environments", http.MethodGet, "/api/environments", "", top, http.StatusOK},
		{"scoped cannot list environments", http.MethodGet, "/api/environments", "", admin, http.StatusForbidden},
		{"top creates environment", http.MethodPost, "/api/environments", `{"name":"prod"}`, top, http.StatusCreated},
		{"create requires a name", http.MethodPost, "/api/environments", `{"name":" "}`, top, http.StatusBadRequest},
		{"delete requires numeric id", http.MethodDelete, "/api/environments/abc", "", top, http.StatusBadRequest},
		{"scoped cannot delete environments", http.MethodDelete, "/api/environments/7", "", admin, http.StatusForbidden},
		{"scoped reads its environment", http.MethodGet, "/api/environment", "", readOnly, http.StatusOK},
		{"scoped admin reads keys", http.MethodGet, "/api/environment/keys", "", admin, http.StatusOK},
		{"read-only cannot read keys", http.MethodGet, "/api/environment/keys", "", readOnly, http.StatusForbidden},
		{"top cannot read keys", http.MethodGet, "/api/environment/keys", "", top, http.StatusForbidden},
		{"read-only lists variables", http.MethodGet, "/api/variables", "", readOnly, http.StatusOK},
		{"read-only reads variable", http.MethodGet, "/api/variables/DB_URL", "", readOnly, http.StatusOK},
		{"read-only cannot write", http.MethodPut, "/api/variables/DB_URL", `{"value":"x"}`, readOnly, http.StatusForbidden},
		{"read-only cannot delete", http.MethodDelete, "/api/variables/DB_URL", "", readOnly, http.StatusForbidden},
		{"admin write requires value", http.MethodPut, "/api/variables/DB_URL", `{"value":""}`, admin, http.StatusBadRequest},
		{"admin write rejects zero", http.MethodPut, "/api/variables/DB_URL", `{"value":0}`, admin, http.StatusBadRequest},
		{"admin write rejects false", http.MethodPut, "/api/variables/DB_URL", `{"value":false}`, admin, http.StatusBadRequest},
		{"admin write rejects object value", http.MethodPut, "/api/variables/DB_URL", `{"value":{"a":1}}`, admin, http.StatusBadRequest},
		{"admin write coerces number", http.MethodPut, "/api/variables/PORT", `{"value":5432}`, admin, http.StatusOK},
		{"admin write coerces true", http.MethodPut, "/api/variables/DEBUG", `{"value":true}`, admin, http.StatusOK},
		{"admin writes variable", http.MethodPut, "/api/variables/API_URL", `{"value":"https://api"}`, admin, http.StatusOK},
		{"backend status is relayed", http.MethodGet, "/api/variables/MISSING", "", admin, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, tt.path, tt.body, tt.cookies)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	t.Run("write reaches the backend", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/variables/API_URL", "", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://api", decodeBody(t, rec)["value"])
	})

	t.Run("scalar values are stored as text", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/variables/PORT", "", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "5432", decodeBody(t, rec)["value"])

		rec = h.do(http.MethodGet, "/api/variables/DEBUG", "", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "true", decodeBody(t, rec)["value"])
	})

	t.Run("forbidden names the reason", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/api/environment/keys", "", readOnly)
		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		require.Equal(t, "Forbidden", body["error"])
		require.Equal(t, apperrors.ErrInsufficientTier.Error(), body["message"])
	})
}

func TestRevokedKeyEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	cookies := h.login(t, adminKey)
	h.fb.SetStatus(fakebackend.RouteListVariables, http.StatusUnauthorized)

	rec := h.do(http.MethodGet, "/api/variables", "", cookies)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestOperationalRoutes(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("health", func(t *testing.T) {
		rec := h.do(http.MethodGet, server.RouteHealth, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		h.login(t, topKey)
		rec := h.do(http.MethodGet, server.RouteMetrics, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "keyconsole_classifications_total")
		require.Contains(t, rec.Body.String(), "keyconsole_session_events_total")
	})

	t.Run("request id and frame headers", func(t *testing.T) {
		rec := h.do(http.MethodGet, server.RouteAuthSession, "", nil)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	})
}

func TestCors(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteAuthValidate, nil)
		req.Header.Set("Origin", "https://console.example.com")
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, server.RouteHealth, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
