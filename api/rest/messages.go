package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/social/chat"
)

// MessagesHandler handles the conversation REST endpoints.
type MessagesHandler struct {
	ch *chat.Channel
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(ch *chat.Channel) *MessagesHandler {
	return &MessagesHandler{ch: ch}
}

// chatError maps chat errors onto HTTP responses. The two block errors
// stay distinct so clients can show the right message.
func chatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrBlockedByYou):
		c.JSON(http.StatusForbidden, gin.H{"error": "you have blocked this user"})
	case errors.Is(err, chat.ErrBlockedByPeer):
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot message this user"})
	case errors.Is(err, chat.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "send a connection request first"})
	case errors.Is(err, chat.ErrNotSender), errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, chat.ErrDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": "message was deleted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func msgID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("msgID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return id, true
}

// History handles GET /api/messages/:id.
func (h *MessagesHandler) History(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	views, err := h.ch.History(c.Request.Context(), meID, otherID)
	if err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// Send handles POST /api/messages/:id.
func (h *MessagesHandler) Send(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := h.ch.Send(c.Request.Context(), meID, otherID, req.Text)
	if err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": view})
}

// MarkSeen handles POST /api/messages/:id/seen.
func (h *MessagesHandler) MarkSeen(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.ch.MarkSeen(c.Request.Context(), meID, otherID); err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// ClearHistory handles DELETE /api/messages/:id.
func (h *MessagesHandler) ClearHistory(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.ch.ClearHistory(c.Request.Context(), meID, otherID); err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

// Unread handles GET /api/messages/unread.
func (h *MessagesHandler) Unread(c *gin.Context) {
	meID := mw.GetAccountID(c)
	counts, err := h.ch.UnreadCounts(c.Request.Context(), meID)
	if err != nil {
		chatError(c, err)
		return
	}
	out := make(map[string]int, len(counts))
	for id, n := range counts {
		out[strconv.FormatInt(id, 10)] = n
	}
	c.JSON(http.StatusOK, gin.H{"unread": out})
}

// Edit handles PUT /api/messages/msg/:msgID.
func (h *MessagesHandler) Edit(c *gin.Context) {
	meID := mw.GetAccountID(c)
	id, ok := msgID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ch.Edit(c.Request.Context(), meID, id, req.Text); err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "edited"})
}

// Delete handles DELETE /api/messages/msg/:msgID (soft delete).
func (h *MessagesHandler) Delete(c *gin.Context) {
	meID := mw.GetAccountID(c)
	id, ok := msgID(c)
	if !ok {
		return
	}
	if err := h.ch.SoftDelete(c.Request.Context(), meID, id); err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// React handles POST /api/messages/msg/:msgID/react.
func (h *MessagesHandler) React(c *gin.Context) {
	meID := mw.GetAccountID(c)
	id, ok := msgID(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required,max=16"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ch.React(c.Request.Context(), meID, id, req.Emoji); err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reacted"})
}
