package model

import (
	"time"

	"gorm.io/datatypes"
)

// Message is one direct message between two accounts. The sender/receiver
// pair is immutable after creation. Ordering within a pair is by the
// server-assigned CreatedAt, with the autoincrement ID breaking ties for
// concurrent multi-device sends.
type Message struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   int64     `gorm:"index:idx_msg_pair;not null" json:"sender_id"`
	ReceiverID int64     `gorm:"index:idx_msg_pair;not null" json:"receiver_id"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time `gorm:"index:idx_msg_created;autoCreateTime:milli" json:"created_at"`
	Seen       bool      `gorm:"default:false" json:"seen"`
	// Reactions maps reactor account ID → single emoji. One reaction per
	// reactor; a second reaction from the same account overwrites.
	Reactions datatypes.JSON `json:"reactions"`
	// IsDeleted marks a soft delete: the text stays in storage but is
	// never returned to clients again.
	IsDeleted bool `gorm:"default:false" json:"is_deleted"`
	Edited    bool `gorm:"default:false" json:"edited"`
}
