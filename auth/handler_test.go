package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suas/interop/rbac"
)

func newTestAuthRouter(t *testing.T) (http.Handler, *SessionManager) {
	t.Helper()
	m := newTestSessions(t, "secret")
	h := NewHandler(m, rbac.NewEnforcer(Roles))
	return m.Middleware(h.Routes()), m
}

func TestSessionInfo(t *testing.T) {
	router, m := newTestAuthRouter(t)

	team, err := m.Token(Claims{AccountID: 4, Username: "team", Roles: []rbac.Role{rbac.RoleUser}})
	require.NoError(t, err)
	roleless, err := m.Token(Claims{AccountID: 5, Username: "nobody"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "no roles", token: roleless, status: http.StatusUnauthorized},
		{name: "user", token: team, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/session", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+team)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, sessionResponse{AccountID: 4, Username: "team", Roles: []rbac.Role{rbac.RoleUser}}, got)
}

func TestLogoutClearsCookie(t *testing.T) {
	router, _ := newTestAuthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
