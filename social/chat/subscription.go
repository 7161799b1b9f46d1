package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/peerly-app/peerly/server/cache"
)

// Subscription delivers full snapshots of a pair's visible message list:
// one immediately on subscribe, then one after every mutation event on
// the pair channel. All snapshot production runs on a single goroutine
// per subscription, so a consumer never sees interleaved callbacks.
//
// The relationship state is re-resolved for every snapshot; a pair that
// becomes blocked mid-stream starts delivering empty snapshots without
// the consumer doing anything.
type Subscription struct {
	ch        *Channel
	meID      int64
	otherID   int64
	snapshots chan []View
	cancel    func()
	stop      chan struct{}
	closeOnce sync.Once
}

// Subscribe opens a live view over the pair's messages. The returned
// Subscription must be closed; Close tears down exactly one pubsub
// subscription no matter how many times it is called.
func (ch *Channel) Subscribe(ctx context.Context, meID, otherID int64) (*Subscription, error) {
	events, cancel, err := ch.pubsub.Subscribe(ctx, PairKey(meID, otherID))
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ch:        ch,
		meID:      meID,
		otherID:   otherID,
		snapshots: make(chan []View, 8),
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
	go sub.run(ctx, events)
	return sub, nil
}

// Snapshots is the consumer-facing stream. Closed on teardown. Delivery
// never blocks the producer: when the consumer lags, the oldest queued
// snapshot is dropped in favor of the newest (each snapshot is the full
// list, so only the latest matters).
func (s *Subscription) Snapshots() <-chan []View {
	return s.snapshots
}

// Close tears down the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
}

func (s *Subscription) run(ctx context.Context, events <-chan *cache.Message) {
	defer close(s.snapshots)

	s.emit(ctx)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.Close()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = ev
			s.emit(ctx)
		}
	}
}

// emit builds and delivers one snapshot, then flags the snapshot's
// incoming messages as seen. MarkSeen is best-effort and publishes its
// own event only when rows actually flipped, so the loop settles.
func (s *Subscription) emit(ctx context.Context) {
	views, err := s.ch.History(ctx, s.meID, s.otherID)
	if err != nil {
		s.ch.logger.Warn("snapshot build failed",
			zap.Int64("user_id", s.meID), zap.Int64("other_id", s.otherID), zap.Error(err))
		return
	}

deliver:
	for {
		select {
		case s.snapshots <- views:
			break deliver
		default:
			select {
			case <-s.snapshots: // drop the stale one
			default:
			}
		}
	}

	hasUnseen := false
	for _, v := range views {
		if v.ReceiverID == s.meID && !v.Seen {
			hasUnseen = true
			break
		}
	}
	if hasUnseen {
		if err := s.ch.MarkSeen(ctx, s.meID, s.otherID); err != nil {
			s.ch.logger.Warn("snapshot mark-seen failed",
				zap.Int64("user_id", s.meID), zap.Int64("other_id", s.otherID), zap.Error(err))
		}
	}
}
