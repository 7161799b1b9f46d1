package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full lifecycle through the public API: request, accept, message,
// block, unblock.
func TestSocialFlow_ConnectMessageBlock(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	aToken, aID := ts.Register(t, UniqueID("alice"))
	bToken, bID := ts.Register(t, UniqueID("bob"))

	// Strangers at first.
	resp := ts.Get(t, fmt.Sprintf("/api/relations/state/%d", bID), aToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state map[string]interface{}
	ReadJSON(t, resp, &state)
	assert.Equal(t, "strangers", state["state"])

	ts.Connect(t, aToken, aID, bToken, bID)

	resp = ts.Get(t, fmt.Sprintf("/api/relations/state/%d", bID), aToken)
	ReadJSON(t, resp, &state)
	assert.Equal(t, "connected", state["state"])

	// Connected users can message.
	resp = ts.PostJSON(t, fmt.Sprintf("/api/messages/%d", bID),
		map[string]string{"text": "hello bob"}, aToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, fmt.Sprintf("/api/messages/%d", aID), bToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist map[string]interface{}
	ReadJSON(t, resp, &hist)
	require.Len(t, hist["messages"], 1)

	// Block hides everything.
	resp = ts.PostJSON(t, fmt.Sprintf("/api/relations/block/%d", bID), nil, aToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, fmt.Sprintf("/api/messages/%d", aID),
		map[string]string{"text": "are you there"}, bToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, fmt.Sprintf("/api/messages/%d", aID), bToken)
	ReadJSON(t, resp, &hist)
	assert.Empty(t, hist["messages"])

	// Unblock restores the connection and the thread.
	resp = ts.Delete(t, fmt.Sprintf("/api/relations/block/%d", bID), nil, aToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, fmt.Sprintf("/api/relations/state/%d", bID), aToken)
	ReadJSON(t, resp, &state)
	assert.Equal(t, "connected", state["state"])

	resp = ts.Get(t, fmt.Sprintf("/api/messages/%d", aID), bToken)
	ReadJSON(t, resp, &hist)
	assert.Len(t, hist["messages"], 1)
}

func TestSocialFlow_RejectAndReRequest(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	aToken, aID := ts.Register(t, UniqueID("carol"))
	bToken, bID := ts.Register(t, UniqueID("dave"))

	resp := ts.PostJSON(t, fmt.Sprintf("/api/relations/request/%d", bID), nil, aToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, fmt.Sprintf("/api/relations/reject/%d", aID), nil, bToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Back to strangers; a fresh request is allowed.
	resp = ts.PostJSON(t, fmt.Sprintf("/api/relations/request/%d", bID), nil, aToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSocialFlow_AccountDelete(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	aToken, aID := ts.Register(t, UniqueID("erin"))
	bToken, bID := ts.Register(t, UniqueID("frank"))
	ts.Connect(t, aToken, aID, bToken, bID)

	resp := ts.Delete(t, "/api/account", nil, aToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Erin's session and data are gone.
	resp = ts.Get(t, "/api/profile", aToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = ts.Get(t, "/api/relations", bToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rels map[string]interface{}
	ReadJSON(t, resp, &rels)
	assert.Empty(t, rels["connections"])
}
