package model

import (
	"time"

	"gorm.io/datatypes"
)

// Profile holds the public-facing professional profile of an account.
type Profile struct {
	AccountID   int64          `gorm:"primaryKey" json:"account_id"`
	DisplayName string         `gorm:"size:64;not null" json:"display_name"`
	Headline    string         `gorm:"size:128" json:"headline"`
	Bio         string         `gorm:"type:text" json:"bio"`
	Location    string         `gorm:"size:64" json:"location"`
	Skills      datatypes.JSON `json:"skills"` // ["go","sql",...]
	AvatarURL   string         `gorm:"size:256" json:"avatar_url"`
	// Visible controls whether the profile appears in discovery listings.
	Visible   bool      `gorm:"default:true" json:"visible"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
