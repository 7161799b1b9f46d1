package model

import "time"

// Relation kinds. Each row records one directional fact owned by UserID:
//
//	connection: OtherID is in UserID's connections. Written in mirrored
//	            pairs by convention; the pair is NOT enforced atomically,
//	            so a row may transiently (or after a partial failure,
//	            permanently) exist in one direction only.
//	pending:    OtherID has sent a connection request TO UserID. Stored
//	            on the receiver, never on the sender.
//	blocked:    UserID has blocked OtherID. Unilateral, never mirrored.
const (
	RelationConnection = "connection"
	RelationPending    = "pending"
	RelationBlocked    = "blocked"
)

// Relation is one directional relationship fact between two accounts.
type Relation struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:uidx_relation;index:idx_relation_user;not null" json:"user_id"`
	OtherID   int64     `gorm:"uniqueIndex:uidx_relation;index:idx_relation_other;not null" json:"other_id"`
	Kind      string    `gorm:"uniqueIndex:uidx_relation;size:16;not null" json:"kind"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
