package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	resp := ts.Get(t, "/health", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow_RegisterLoginLogout(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	name := UniqueID("alice")
	token, accountID := ts.Register(t, name)
	require.NotEmpty(t, token)
	require.NotZero(t, accountID)

	// Token works against a protected endpoint.
	resp := ts.Get(t, "/api/profile", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var profile map[string]interface{}
	ReadJSON(t, resp, &profile)
	assert.Equal(t, name, profile["display_name"])

	// Login with the same credentials issues a fresh token.
	resp = ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": name,
		"password": name + "pass1234",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login map[string]interface{}
	ReadJSON(t, resp, &login)
	token2 := login["token"].(string)

	// Logout invalidates the session.
	resp = ts.PostJSON(t, "/api/auth/logout", nil, token2)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, "/api/profile", token2)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthFlow_RefreshRotatesToken(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	token, _ := ts.Register(t, UniqueID("bob"))

	resp := ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	ReadJSON(t, resp, &out)
	fresh := out["token"].(string)
	require.NotEqual(t, token, fresh)

	// Old token is dead, new one works.
	resp = ts.Get(t, "/api/profile", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	resp = ts.Get(t, "/api/profile", fresh)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
