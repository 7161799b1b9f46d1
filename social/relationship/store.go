package relationship

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peerly-app/peerly/server/model"
)

// Store persists relation rows. Each row is directional: a connection is
// mirrored as two rows, a pending request lives on the receiver only, a
// block on the blocker only.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadSets loads all relation rows owned by userID into a Sets value.
func (s *Store) LoadSets(userID int64) (Sets, error) {
	var rows []model.Relation
	if err := s.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return Sets{}, err
	}
	sets := NewSets()
	for _, r := range rows {
		switch r.Kind {
		case model.RelationConnection:
			sets.Connections[r.OtherID] = struct{}{}
		case model.RelationPending:
			sets.PendingConnections[r.OtherID] = struct{}{}
		case model.RelationBlocked:
			sets.BlockedUsers[r.OtherID] = struct{}{}
		}
	}
	return sets, nil
}

// Add inserts a relation row if it does not already exist. Idempotent:
// a duplicate insert is a no-op, not an error.
func (s *Store) Add(userID, otherID int64, kind string) error {
	row := model.Relation{UserID: userID, OtherID: otherID, Kind: kind}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Remove deletes a relation row. Removing a row that does not exist is a
// no-op.
func (s *Store) Remove(userID, otherID int64, kind string) error {
	return s.db.Where("user_id = ? AND other_id = ? AND kind = ?",
		userID, otherID, kind).Delete(&model.Relation{}).Error
}

// Has reports whether a relation row exists.
func (s *Store) Has(userID, otherID int64, kind string) (bool, error) {
	var row model.Relation
	err := s.db.Where("user_id = ? AND other_id = ? AND kind = ?",
		userID, otherID, kind).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAllFor deletes every relation row owned by userID and every row
// that points at userID. Used by account deletion.
func (s *Store) RemoveAllFor(userID int64) error {
	return s.db.Where("user_id = ? OR other_id = ?", userID, userID).
		Delete(&model.Relation{}).Error
}

// ConnectionIDs returns the IDs of userID's connections.
func (s *Store) ConnectionIDs(userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.Relation{}).
		Where("user_id = ? AND kind = ?", userID, model.RelationConnection).
		Pluck("other_id", &ids).Error
	return ids, err
}

// PendingIDs returns the IDs of accounts with an open request to userID.
func (s *Store) PendingIDs(userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.Relation{}).
		Where("user_id = ? AND kind = ?", userID, model.RelationPending).
		Pluck("other_id", &ids).Error
	return ids, err
}

// SentPendingIDs returns the IDs of accounts userID has an open request
// to. Pending rows live on the receiver, so this scans the other side.
func (s *Store) SentPendingIDs(userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.Relation{}).
		Where("other_id = ? AND kind = ?", userID, model.RelationPending).
		Pluck("user_id", &ids).Error
	return ids, err
}

// BlockedIDs returns the IDs of accounts userID has blocked.
func (s *Store) BlockedIDs(userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.Relation{}).
		Where("user_id = ? AND kind = ?", userID, model.RelationBlocked).
		Pluck("other_id", &ids).Error
	return ids, err
}

// UserExists reports whether an account exists and is not banned.
func (s *Store) UserExists(userID int64) (bool, error) {
	var acc model.Account
	err := s.db.Select("id", "status").First(&acc, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acc.Status == 1, nil
}
