package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/peerly-app/peerly/server/audit"
	"github.com/peerly-app/peerly/server/cache"
	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/social/presence"
	"github.com/peerly-app/peerly/server/social/relationship"
)

// RelationsHandler handles the connection-action REST endpoints.
type RelationsHandler struct {
	rel   *relationship.Service
	pm    *presence.Manager
	audit *audit.Service
	cache cache.Cache
}

// NewRelationsHandler creates a new RelationsHandler.
func NewRelationsHandler(rel *relationship.Service, pm *presence.Manager, aud *audit.Service, c cache.Cache) *RelationsHandler {
	return &RelationsHandler{rel: rel, pm: pm, audit: aud, cache: c}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// relationError maps relationship service errors onto HTTP responses.
func relationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, relationship.ErrSelf):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot target yourself"})
	case errors.Is(err, relationship.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, relationship.ErrPreconditionFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, relationship.ErrPartialWrite):
		// The first write landed; the pair is asymmetric until the
		// reconcile pass runs. The caller should not blindly retry.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "partially applied, will be reconciled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// List handles GET /api/relations: connections (with online flags),
// incoming and outgoing pending requests and the current user's blocks.
func (h *RelationsHandler) List(c *gin.Context) {
	meID := mw.GetAccountID(c)

	conns, err := h.rel.Store().ConnectionIDs(meID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	pending, err := h.rel.Store().PendingIDs(meID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	sent, err := h.rel.Store().SentPendingIDs(meID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	blocked, err := h.rel.Store().BlockedIDs(meID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	type connInfo struct {
		UserID int64 `json:"user_id"`
		Online bool  `json:"online"`
	}
	connections := make([]connInfo, len(conns))
	for i, id := range conns {
		connections[i] = connInfo{UserID: id, Online: h.pm.IsOnline(id)}
	}

	c.JSON(http.StatusOK, gin.H{
		"connections":      connections,
		"incoming_pending": pending,
		"outgoing_pending": sent,
		"blocked":          blocked,
	})
}

// State handles GET /api/relations/state/:id.
func (h *RelationsHandler) State(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	state, err := h.rel.StateBetween(c.Request.Context(), meID, otherID)
	if err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state.String()})
}

// action runs one connection action and notifies the target if online.
func (h *RelationsHandler) action(c *gin.Context, name string, fn func(meID, otherID int64) error) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	if err := fn(meID, otherID); err != nil {
		relationError(c, err)
		return
	}

	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		ActorID:  &meID,
		TargetID: &otherID,
		Action:   name,
		IP:       c.ClientIP(),
	})

	// Let an online target refresh their relations view.
	h.pm.SendTo(otherID, &presence.Packet{Type: "relations_changed"})
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// SendRequest handles POST /api/relations/request/:id.
func (h *RelationsHandler) SendRequest(c *gin.Context) {
	h.action(c, "relation.request", func(meID, otherID int64) error {
		return h.rel.SendRequest(c.Request.Context(), meID, otherID)
	})
}

// CancelRequest handles DELETE /api/relations/request/:id.
func (h *RelationsHandler) CancelRequest(c *gin.Context) {
	h.action(c, "relation.cancel", func(meID, otherID int64) error {
		return h.rel.CancelRequest(c.Request.Context(), meID, otherID)
	})
}

// AcceptRequest handles POST /api/relations/accept/:id.
func (h *RelationsHandler) AcceptRequest(c *gin.Context) {
	h.action(c, "relation.accept", func(meID, otherID int64) error {
		return h.rel.AcceptRequest(c.Request.Context(), meID, otherID)
	})
}

// RejectRequest handles POST /api/relations/reject/:id.
func (h *RelationsHandler) RejectRequest(c *gin.Context) {
	h.action(c, "relation.reject", func(meID, otherID int64) error {
		return h.rel.RejectRequest(c.Request.Context(), meID, otherID)
	})
}

// Disconnect handles DELETE /api/relations/:id.
func (h *RelationsHandler) Disconnect(c *gin.Context) {
	h.action(c, "relation.disconnect", func(meID, otherID int64) error {
		return h.rel.Disconnect(c.Request.Context(), meID, otherID)
	})
}

// Block handles POST /api/relations/block/:id.
func (h *RelationsHandler) Block(c *gin.Context) {
	h.action(c, "relation.block", func(meID, otherID int64) error {
		return h.rel.Block(c.Request.Context(), meID, otherID)
	})
}

// Unblock handles DELETE /api/relations/block/:id.
func (h *RelationsHandler) Unblock(c *gin.Context) {
	h.action(c, "relation.unblock", func(meID, otherID int64) error {
		return h.rel.Unblock(c.Request.Context(), meID, otherID)
	})
}

// Report handles POST /api/reports/:id.
func (h *RelationsHandler) Report(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rel.Report(c.Request.Context(), meID, otherID, req.Reason); err != nil {
		relationError(c, err)
		return
	}
	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		ActorID:  &meID,
		TargetID: &otherID,
		Action:   "relation.report",
		IP:       c.ClientIP(),
	})
	c.JSON(http.StatusCreated, gin.H{"message": "reported"})
}

// Unreport handles DELETE /api/reports/:id.
func (h *RelationsHandler) Unreport(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.rel.Unreport(c.Request.Context(), meID, otherID); err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// DeleteAccount handles DELETE /api/account.
func (h *RelationsHandler) DeleteAccount(c *gin.Context) {
	meID := mw.GetAccountID(c)
	if err := h.rel.DeleteAccount(c.Request.Context(), meID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Kick the live session, if any, and revoke the token.
	if s := h.pm.Get(meID); s != nil {
		s.Close()
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimPrefix(header, "Bearer ")
		_ = h.cache.Del(c.Request.Context(), "session:"+token)
	}
	h.audit.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		ActorID: &meID,
		Action:  "account.delete",
		IP:      c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
