package relationship

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/model"
)

const reconcileLockKey = "reconcile:relations"

// ReconcileReport summarizes one maintenance pass.
type ReconcileReport struct {
	AsymmetricConnections int
	StalePending          int
	DanglingRows          int
}

// Reconcile is the scheduled maintenance pass over the relation table.
// It repairs asymmetric connection pairs by inserting the missing mirror
// row, removes pending rows that coexist with a connection for the same
// pair, and removes rows referencing accounts that no longer exist
// (which completes the DeleteAccount cascade for third-party blocked
// rows). A cache lock keeps concurrent instances from running the pass
// twice.
func (s *Service) Reconcile(ctx context.Context, c cache.Cache) (ReconcileReport, error) {
	var report ReconcileReport

	ok, err := c.SetNX(ctx, reconcileLockKey, "1", 5*time.Minute)
	if err != nil {
		return report, err
	}
	if !ok {
		s.logger.Debug("reconcile already running elsewhere, skipping")
		return report, nil
	}
	defer func() {
		if err := c.Del(ctx, reconcileLockKey); err != nil {
			s.logger.Warn("failed to release reconcile lock", zap.Error(err))
		}
	}()

	var rows []model.Relation
	if err := s.store.db.Find(&rows).Error; err != nil {
		return report, err
	}

	type pair struct {
		userID, otherID int64
		kind            string
	}
	index := make(map[pair]struct{}, len(rows))
	owners := make(map[int64]struct{})
	for _, r := range rows {
		index[pair{r.UserID, r.OtherID, r.Kind}] = struct{}{}
		owners[r.UserID] = struct{}{}
		owners[r.OtherID] = struct{}{}
	}

	// Load the IDs of live accounts referenced by any row.
	ids := make([]int64, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	alive := make(map[int64]struct{}, len(ids))
	if len(ids) > 0 {
		var found []int64
		if err := s.store.db.Model(&model.Account{}).
			Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return report, err
		}
		for _, id := range found {
			alive[id] = struct{}{}
		}
	}

	for _, r := range rows {
		if _, ok := alive[r.UserID]; !ok {
			report.DanglingRows++
			s.logger.Info("removing relation row with dead owner",
				zap.Int64("user_id", r.UserID), zap.Int64("other_id", r.OtherID),
				zap.String("kind", r.Kind))
			if err := s.store.db.Delete(&model.Relation{}, r.ID).Error; err != nil {
				return report, err
			}
			continue
		}
		if _, ok := alive[r.OtherID]; !ok {
			report.DanglingRows++
			s.logger.Info("removing relation row with dead target",
				zap.Int64("user_id", r.UserID), zap.Int64("other_id", r.OtherID),
				zap.String("kind", r.Kind))
			if err := s.store.db.Delete(&model.Relation{}, r.ID).Error; err != nil {
				return report, err
			}
			continue
		}

		switch r.Kind {
		case model.RelationConnection:
			if _, ok := index[pair{r.OtherID, r.UserID, model.RelationConnection}]; !ok {
				report.AsymmetricConnections++
				s.logger.Warn("repairing asymmetric connection",
					zap.Int64("user_id", r.UserID), zap.Int64("other_id", r.OtherID))
				if err := s.store.Add(r.OtherID, r.UserID, model.RelationConnection); err != nil {
					return report, err
				}
				index[pair{r.OtherID, r.UserID, model.RelationConnection}] = struct{}{}
			}
		case model.RelationPending:
			_, fwd := index[pair{r.UserID, r.OtherID, model.RelationConnection}]
			_, rev := index[pair{r.OtherID, r.UserID, model.RelationConnection}]
			if fwd || rev {
				report.StalePending++
				s.logger.Warn("removing pending row shadowed by connection",
					zap.Int64("user_id", r.UserID), zap.Int64("other_id", r.OtherID))
				if err := s.store.db.Delete(&model.Relation{}, r.ID).Error; err != nil {
					return report, err
				}
			}
		}
	}

	s.logger.Info("relation reconcile finished",
		zap.Int("asymmetric_connections", report.AsymmetricConnections),
		zap.Int("stale_pending", report.StalePending),
		zap.Int("dangling_rows", report.DanglingRows))
	return report, nil
}
