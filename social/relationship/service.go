package relationship

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/model"
)

var (
	// ErrNotFound is returned when the target account does not exist or
	// is banned.
	ErrNotFound = errors.New("relationship: user not found")
	// ErrSelf is returned when an action targets the actor's own account.
	ErrSelf = errors.New("relationship: cannot target yourself")
	// ErrPreconditionFailed is returned when the current state does not
	// allow the action. Wrapped with the offending state.
	ErrPreconditionFailed = errors.New("relationship: precondition failed")
	// ErrPartialWrite is returned when a multi-row mutation only partially
	// applied. The rows are left as-is; the reconcile pass repairs them.
	ErrPartialWrite = errors.New("relationship: partial write")
)

func preconditionErr(state State) error {
	return fmt.Errorf("%w: state is %s", ErrPreconditionFailed, state)
}

// Service runs the connection actions. Every method re-resolves the pair
// state before mutating; there is no cross-row transaction, so the
// connection mirror can be transiently asymmetric (see Reconcile).
type Service struct {
	store  *Store
	logger *zap.Logger
}

func NewService(store *Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Store() *Store {
	return s.store
}

// StateBetween resolves the current state from me's point of view. An
// asymmetric connection still resolves Connected but is logged.
func (s *Service) StateBetween(ctx context.Context, meID, otherID int64) (State, error) {
	if meID == otherID {
		return StateStrangers, ErrSelf
	}
	me, other, err := s.loadPair(meID, otherID)
	if err != nil {
		return StateStrangers, err
	}
	state := Resolve(meID, otherID, me, other)
	if state == StateConnected {
		if me.hasConnection(otherID) != other.hasConnection(meID) {
			s.logger.Warn("asymmetric connection detected",
				zap.Int64("user_id", meID),
				zap.Int64("other_id", otherID))
		}
	}
	return state, nil
}

func (s *Service) loadPair(meID, otherID int64) (Sets, Sets, error) {
	me, err := s.store.LoadSets(meID)
	if err != nil {
		return Sets{}, Sets{}, err
	}
	other, err := s.store.LoadSets(otherID)
	if err != nil {
		return Sets{}, Sets{}, err
	}
	return me, other, nil
}

// checkTarget verifies the other account exists and resolves the current
// state.
func (s *Service) checkTarget(ctx context.Context, meID, otherID int64) (State, error) {
	if meID == otherID {
		return StateStrangers, ErrSelf
	}
	ok, err := s.store.UserExists(otherID)
	if err != nil {
		return StateStrangers, err
	}
	if !ok {
		return StateStrangers, ErrNotFound
	}
	return s.StateBetween(ctx, meID, otherID)
}

// SendRequest creates a pending request from me to other. Only allowed
// between strangers. The row lives on the receiver.
func (s *Service) SendRequest(ctx context.Context, meID, otherID int64) error {
	state, err := s.checkTarget(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state != StateStrangers {
		return preconditionErr(state)
	}
	return s.store.Add(otherID, meID, model.RelationPending)
}

// CancelRequest withdraws my open request to other. Cancelling when no
// request exists is a no-op, so retries after success are safe.
func (s *Service) CancelRequest(ctx context.Context, meID, otherID int64) error {
	state, err := s.StateBetween(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state == StateStrangers {
		return nil
	}
	if state != StateRequestSentByMe {
		return preconditionErr(state)
	}
	return s.store.Remove(otherID, meID, model.RelationPending)
}

// AcceptRequest turns other's open request into a connection. Three row
// writes, sequential and untransacted: my connection row, their mirror
// row, then the pending row removal. If a later write fails the earlier
// ones stand and ErrPartialWrite is returned; the resolver tolerates the
// asymmetry and the reconcile pass repairs it.
func (s *Service) AcceptRequest(ctx context.Context, meID, otherID int64) error {
	state, err := s.StateBetween(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state != StateRequestSentByThem {
		return preconditionErr(state)
	}
	if err := s.store.Add(meID, otherID, model.RelationConnection); err != nil {
		return err
	}
	if err := s.store.Add(otherID, meID, model.RelationConnection); err != nil {
		s.logger.Error("accept left asymmetric connection",
			zap.Int64("user_id", meID), zap.Int64("other_id", otherID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	if err := s.store.Remove(meID, otherID, model.RelationPending); err != nil {
		s.logger.Error("accept left stale pending row",
			zap.Int64("user_id", meID), zap.Int64("other_id", otherID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	return nil
}

// RejectRequest discards other's open request. Like CancelRequest, a
// reject with no request outstanding is a no-op.
func (s *Service) RejectRequest(ctx context.Context, meID, otherID int64) error {
	state, err := s.StateBetween(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state == StateStrangers {
		return nil
	}
	if state != StateRequestSentByThem {
		return preconditionErr(state)
	}
	return s.store.Remove(meID, otherID, model.RelationPending)
}

// Disconnect removes the connection in both directions. A failure after
// the first removal leaves an asymmetric pair and returns ErrPartialWrite.
func (s *Service) Disconnect(ctx context.Context, meID, otherID int64) error {
	state, err := s.StateBetween(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state != StateConnected {
		return preconditionErr(state)
	}
	if err := s.store.Remove(meID, otherID, model.RelationConnection); err != nil {
		return err
	}
	if err := s.store.Remove(otherID, meID, model.RelationConnection); err != nil {
		s.logger.Error("disconnect left asymmetric connection",
			zap.Int64("user_id", meID), zap.Int64("other_id", otherID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	return nil
}

// Block adds other to my blocked set. Connection and pending rows are
// left in place: the resolver's precedence hides them while the block
// stands, and Unblock restores whatever state was underneath.
func (s *Service) Block(ctx context.Context, meID, otherID int64) error {
	state, err := s.checkTarget(ctx, meID, otherID)
	if err != nil {
		return err
	}
	if state == StateBlockedByMe || state == StateMutuallyBlocked {
		return preconditionErr(state)
	}
	return s.store.Add(meID, otherID, model.RelationBlocked)
}

// Unblock removes other from my blocked set. A no-op when no block of
// mine is in place, whatever state the pair is in.
func (s *Service) Unblock(ctx context.Context, meID, otherID int64) error {
	if meID == otherID {
		return ErrSelf
	}
	return s.store.Remove(meID, otherID, model.RelationBlocked)
}

// Report files a report against other. Independent of block state.
func (s *Service) Report(ctx context.Context, meID, otherID int64, reason string) error {
	if meID == otherID {
		return ErrSelf
	}
	ok, err := s.store.UserExists(otherID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	rep := model.Report{ReporterID: meID, ReportedID: otherID, Reason: reason}
	return s.store.db.Create(&rep).Error
}

// Unreport deletes all of my reports on other. No-op if none exist.
func (s *Service) Unreport(ctx context.Context, meID, otherID int64) error {
	if meID == otherID {
		return ErrSelf
	}
	return s.store.db.Where("reporter_id = ? AND reported_id = ?", meID, otherID).
		Delete(&model.Report{}).Error
}

// DeleteAccount removes the account, its profile, its messages, every
// relation row it owns and the connection/pending rows other accounts
// hold on it. Blocked rows held by third parties are not touched here;
// the reconcile pass removes them once the account is gone.
func (s *Service) DeleteAccount(ctx context.Context, meID int64) error {
	return s.store.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", meID).
			Delete(&model.Relation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("other_id = ? AND kind IN ?", meID,
			[]string{model.RelationConnection, model.RelationPending}).
			Delete(&model.Relation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("sender_id = ? OR receiver_id = ?", meID, meID).
			Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", meID).
			Delete(&model.Profile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Account{}, meID).Error
	})
}
