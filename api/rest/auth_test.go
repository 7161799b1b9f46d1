package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerly-app/peerly/server/model"
)

func TestRegister_CreatesAccountAndProfile(t *testing.T) {
	a := newApp(t)

	w := postJSON(a.r, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "pass123456",
		"email":    "alice@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
	accountID := int64(resp["account_id"].(float64))

	var profile model.Profile
	require.NoError(t, a.db.First(&profile, "account_id = ?", accountID).Error)
	assert.Equal(t, "alice", profile.DisplayName)
	assert.True(t, profile.Visible)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	a := newApp(t)
	a.register(t, "alice")

	w := postJSON(a.r, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "pass123456",
		"email":    "other@example.com",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Success(t *testing.T) {
	a := newApp(t)
	a.register(t, "alice")

	w := postJSON(a.r, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "pass123456",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_WrongPassword(t *testing.T) {
	a := newApp(t)
	a.register(t, "alice")

	w := postJSON(a.r, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrongpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownUser(t *testing.T) {
	a := newApp(t)
	w := postJSON(a.r, "/api/auth/login", map[string]string{
		"username": "ghost",
		"password": "pass123456",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_BannedAccount(t *testing.T) {
	a := newApp(t)
	u := a.register(t, "alice")
	require.NoError(t, a.db.Model(&model.Account{}).Where("id = ?", u.ID).Update("status", 0).Error)

	w := postJSON(a.r, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "pass123456",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogout_InvalidatesSession(t *testing.T) {
	a := newApp(t)
	u := a.register(t, "alice")

	w := postJSON(a.r, "/api/auth/logout", nil, "Authorization", "Bearer "+u.Token)
	require.Equal(t, http.StatusOK, w.Code)

	// The token no longer passes auth.
	w = getJSON(a.r, "/api/profile", "Authorization", "Bearer "+u.Token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	a := newApp(t)
	u := a.register(t, "alice")

	w := postJSON(a.r, "/api/auth/refresh", nil, "Authorization", "Bearer "+u.Token)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	newToken := resp["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, u.Token, newToken)

	// Old token is dead, new one works.
	w = getJSON(a.r, "/api/profile", "Authorization", "Bearer "+u.Token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = getJSON(a.r, "/api/profile", "Authorization", "Bearer "+newToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_MissingToken(t *testing.T) {
	a := newApp(t)
	w := getJSON(a.r, "/api/profile")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
