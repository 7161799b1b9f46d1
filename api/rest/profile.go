package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/config"
	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/social/presence"
	"github.com/peerly-app/peerly/server/social/relationship"
)

const discoverActiveZ = "discover:active"

// ProfileHandler handles profile and discovery REST endpoints.
type ProfileHandler struct {
	db    *gorm.DB
	cache cache.Cache
	rel   *relationship.Service
	pm    *presence.Manager
	cfg   config.SocialConfig
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(db *gorm.DB, c cache.Cache, rel *relationship.Service, pm *presence.Manager, cfg config.SocialConfig) *ProfileHandler {
	return &ProfileHandler{db: db, cache: c, rel: rel, pm: pm, cfg: cfg}
}

// GetOwn handles GET /api/profile.
func (h *ProfileHandler) GetOwn(c *gin.Context) {
	meID := mw.GetAccountID(c)
	var profile model.Profile
	err := h.db.First(&profile, "account_id = ?", meID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type updateProfileRequest struct {
	DisplayName *string  `json:"display_name" binding:"omitempty,max=64"`
	Headline    *string  `json:"headline" binding:"omitempty,max=128"`
	Bio         *string  `json:"bio" binding:"omitempty,max=2000"`
	Location    *string  `json:"location" binding:"omitempty,max=64"`
	Skills      []string `json:"skills" binding:"omitempty,max=30,dive,max=48"`
	AvatarURL   *string  `json:"avatar_url" binding:"omitempty,max=256"`
	Visible     *bool    `json:"visible"`
}

// UpdateOwn handles PUT /api/profile. Only the provided fields change.
func (h *ProfileHandler) UpdateOwn(c *gin.Context) {
	meID := mw.GetAccountID(c)
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Headline != nil {
		updates["headline"] = *req.Headline
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.Skills != nil {
		raw, err := json.Marshal(req.Skills)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skills"})
			return
		}
		updates["skills"] = datatypes.JSON(raw)
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if req.Visible != nil {
		updates["visible"] = *req.Visible
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	res := h.db.Model(&model.Profile{}).Where("account_id = ?", meID).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// Get handles GET /api/profiles/:id. Respects profile visibility and
// hides blocked pairs entirely (a blocked profile reads as not found, so
// the block is not observable).
func (h *ProfileHandler) Get(c *gin.Context) {
	meID := mw.GetAccountID(c)
	otherID, ok := pathID(c)
	if !ok {
		return
	}

	var profile model.Profile
	err := h.db.First(&profile, "account_id = ?", otherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if otherID == meID {
		c.JSON(http.StatusOK, gin.H{"profile": profile, "state": "self", "online": true})
		return
	}

	state, err := h.rel.StateBetween(c.Request.Context(), meID, otherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if state.Blocked() {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if !profile.Visible && state != relationship.StateConnected {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": profile,
		"state":   state.String(),
		"online":  h.pm.IsOnline(otherID),
	})
}

// Discover handles GET /api/discover?page=N: a paginated browse of
// visible profiles ranked by last activity, annotated with relationship
// state and online flag. Blocked pairs are excluded in both directions.
func (h *ProfileHandler) Discover(c *gin.Context) {
	meID := mw.GetAccountID(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size := h.cfg.DiscoverPageSize
	if size <= 0 {
		size = 20
	}

	var profiles []model.Profile
	err := h.db.
		Joins("JOIN accounts ON accounts.id = profiles.account_id AND accounts.status = 1").
		Where("profiles.visible = ? AND profiles.account_id <> ?", true, meID).
		Find(&profiles).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	type entry struct {
		Profile model.Profile `json:"profile"`
		State   string        `json:"state"`
		Online  bool          `json:"online"`
		score   float64
	}
	entries := make([]entry, 0, len(profiles))
	for _, p := range profiles {
		state, err := h.rel.StateBetween(c.Request.Context(), meID, p.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if state.Blocked() {
			continue
		}
		score, err := h.cache.ZScore(c.Request.Context(), discoverActiveZ, strconv.FormatInt(p.AccountID, 10))
		if err != nil {
			score = 0
		}
		entries = append(entries, entry{
			Profile: p,
			State:   state.String(),
			Online:  h.pm.IsOnline(p.AccountID),
			score:   score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].Profile.AccountID < entries[j].Profile.AccountID
	})

	total := len(entries)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"page":     page,
		"total":    total,
		"profiles": entries[start:end],
	})
}
