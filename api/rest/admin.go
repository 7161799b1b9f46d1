package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/scheduler"
	"github.com/peerly-app/peerly/server/social/presence"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	pm     *presence.Manager
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, pm *presence.Manager, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, pm: pm, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var accounts, messages, reports int64
	_ = h.db.Model(&model.Account{}).Count(&accounts).Error
	_ = h.db.Model(&model.Message{}).Count(&messages).Error
	_ = h.db.Model(&model.Report{}).Count(&reports).Error

	c.JSON(http.StatusOK, gin.H{
		"online_users":    h.pm.Count(),
		"accounts":        accounts,
		"messages":        messages,
		"open_reports":    reports,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListUsers returns accounts with their online flag, newest first.
// GET /api/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var accounts []model.Account
	if err := h.db.Order("id DESC").Limit(200).Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	type userInfo struct {
		model.Account
		Online bool `json:"online"`
	}
	result := make([]userInfo, len(accounts))
	for i, a := range accounts {
		result[i] = userInfo{Account: a, Online: h.pm.IsOnline(a.ID)}
	}
	c.JSON(http.StatusOK, gin.H{"users": result, "count": len(result)})
}

// ListReports returns filed reports for review, newest first.
// GET /api/admin/reports
func (h *AdminHandler) ListReports(c *gin.Context) {
	var reports []model.Report
	if err := h.db.Order("id DESC").Limit(200).Find(&reports).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// KickUser forcibly disconnects a user's live session.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	s := h.pm.Get(userID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked user", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BanUser bans or unbans an account.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	// Kick the user if currently online.
	if req.Ban {
		if s := h.pm.Get(userID); s != nil {
			s.Close()
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// Broadcast pushes a notice packet to every connected session.
// POST /api/admin/broadcast
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=512"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, _ := json.Marshal(gin.H{"message": req.Message})
	h.pm.BroadcastToAll(&presence.Packet{Type: "notice", Payload: payload})
	h.logger.Info("admin broadcast", zap.Int("recipients", h.pm.Count()))
	c.JSON(http.StatusOK, gin.H{"ok": true, "recipients": h.pm.Count()})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
