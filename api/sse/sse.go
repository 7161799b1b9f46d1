package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/config"
	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/social/chat"
)

// Handler streams live conversation snapshots over SSE.
type Handler struct {
	ch     *chat.Channel
	c      cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(ch *chat.Channel, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{ch: ch, c: c, sec: sec, logger: logger}
}

// ServeConversation handles GET /sse/conversation/:id?token=<jwt>.
// Each event is the full visible message list for the conversation; the
// first one fires immediately, then one per mutation. The chat
// subscription is torn down when the client goes away.
func (h *Handler) ServeConversation(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub, err := h.ch.Subscribe(c.Request.Context(), claims.AccountID, otherID)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case views, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			data, err := json.Marshal(views)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: snapshot\ndata: %s\n\n", data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
