package chat

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/config"
	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/social/relationship"
	"github.com/peerly-app/peerly/server/testutil"
)

type fixture struct {
	db  *gorm.DB
	ch  *Channel
	rel *relationship.Service
	a   int64
	b   int64
}

func defaultCfg() config.SocialConfig {
	return config.SocialConfig{
		MaxMessageLen:   200,
		RecentCacheSize: 10,
	}
}

func newFixture(t *testing.T, cfg config.SocialConfig) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	rel := relationship.NewService(relationship.NewStore(db), zap.NewNop())
	ch := NewChannel(db, c, ps, rel, cfg, zap.NewNop())

	f := &fixture{db: db, ch: ch, rel: rel}
	f.a = f.mkAccount(t, "alice")
	f.b = f.mkAccount(t, "bob")

	// Connect a and b so sends are allowed by default.
	ctx := context.Background()
	require.NoError(t, rel.SendRequest(ctx, f.a, f.b))
	require.NoError(t, rel.AcceptRequest(ctx, f.b, f.a))
	return f
}

func (f *fixture) mkAccount(t *testing.T, name string) int64 {
	t.Helper()
	acc := &model.Account{Username: name, Email: name + "@example.com", PasswordHash: "hash", Status: 1}
	require.NoError(t, f.db.Create(acc).Error)
	return acc.ID
}

func TestPairKey_Canonical(t *testing.T) {
	assert.Equal(t, "pair:1:2", PairKey(1, 2))
	assert.Equal(t, "pair:1:2", PairKey(2, 1))
	assert.Equal(t, "pair:7:7", PairKey(7, 7))
}

func TestSend_TrimAndValidate(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := make([]rune, 201)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.ch.Send(ctx, f.a, f.b, string(long))
	assert.ErrorIs(t, err, ErrTooLong)

	v, err := f.ch.Send(ctx, f.a, f.b, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)
	assert.Equal(t, f.a, v.SenderID)
	assert.Equal(t, f.b, v.ReceiverID)
	assert.False(t, v.Seen)

	// Nothing was written for the rejected sends.
	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSend_StrangersRejected(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	// Carol has no relation to alice at all.
	c := f.mkAccount(t, "carol")
	_, err := f.ch.Send(ctx, c, f.a, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = f.ch.Send(ctx, f.a, c, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	// No row was written for either attempt.
	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// A pending request opens the channel in both directions.
	require.NoError(t, f.rel.SendRequest(ctx, c, f.a))
	_, err = f.ch.Send(ctx, c, f.a, "hello there")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.a, c, "hello back")
	require.NoError(t, err)
}

func TestSend_BlockedDistinctErrors(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	require.NoError(t, f.rel.Block(ctx, f.a, f.b))

	_, err := f.ch.Send(ctx, f.a, f.b, "hi")
	assert.ErrorIs(t, err, ErrBlockedByYou)

	_, err = f.ch.Send(ctx, f.b, f.a, "hi")
	assert.ErrorIs(t, err, ErrBlockedByPeer)

	// Mutual block reads as blocked-by-peer for the sender too.
	require.NoError(t, f.rel.Block(ctx, f.b, f.a))
	_, err = f.ch.Send(ctx, f.a, f.b, "hi")
	assert.ErrorIs(t, err, ErrBlockedByPeer)

	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestHistory_OrderAndDirections(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "one")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.b, f.a, "two")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.a, f.b, "three")
	require.NoError(t, err)

	views, err := f.ch.History(ctx, f.a, f.b)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "one", views[0].Text)
	assert.Equal(t, "two", views[1].Text)
	assert.Equal(t, "three", views[2].Text)

	// Same list from the other side.
	views, err = f.ch.History(ctx, f.b, f.a)
	require.NoError(t, err)
	assert.Len(t, views, 3)
}

func TestHistory_BlockedReadsEmpty(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "hello")
	require.NoError(t, err)

	require.NoError(t, f.rel.Block(ctx, f.b, f.a))

	for _, me := range []int64{f.a, f.b} {
		other := f.a
		if me == f.a {
			other = f.b
		}
		views, err := f.ch.History(ctx, me, other)
		require.NoError(t, err)
		assert.Empty(t, views)
	}

	// Blocking hides, it does not delete.
	require.NoError(t, f.rel.Unblock(ctx, f.b, f.a))
	views, err := f.ch.History(ctx, f.a, f.b)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "one")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.a, f.b, "two")
	require.NoError(t, err)

	counts, err := f.ch.UnreadCounts(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[f.a])

	require.NoError(t, f.ch.MarkSeen(ctx, f.b, f.a))

	var unseen int64
	require.NoError(t, f.db.Model(&model.Message{}).
		Where("receiver_id = ? AND seen = ?", f.b, false).Count(&unseen).Error)
	assert.Equal(t, int64(0), unseen)

	counts, err = f.ch.UnreadCounts(ctx, f.b)
	require.NoError(t, err)
	assert.Zero(t, counts[f.a])

	// The sender's own view of seen flips too.
	views, err := f.ch.History(ctx, f.a, f.b)
	require.NoError(t, err)
	assert.True(t, views[0].Seen)
}

func TestEdit(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	v, err := f.ch.Send(ctx, f.a, f.b, "draft")
	require.NoError(t, err)

	require.NoError(t, f.ch.Edit(ctx, f.a, v.ID, "final"))

	views, err := f.ch.History(ctx, f.a, f.b)
	require.NoError(t, err)
	assert.Equal(t, "final", views[0].Text)
	assert.True(t, views[0].Edited)

	// Only the sender may edit.
	err = f.ch.Edit(ctx, f.b, v.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotSender)

	// Unknown message.
	err = f.ch.Edit(ctx, f.a, 9999, "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// Not after soft delete.
	require.NoError(t, f.ch.SoftDelete(ctx, f.a, v.ID))
	err = f.ch.Edit(ctx, f.a, v.ID, "again")
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestSoftDelete_RedactsText(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	v, err := f.ch.Send(ctx, f.a, f.b, "secret")
	require.NoError(t, err)

	err = f.ch.SoftDelete(ctx, f.b, v.ID)
	assert.ErrorIs(t, err, ErrNotSender)

	require.NoError(t, f.ch.SoftDelete(ctx, f.a, v.ID))
	// Second delete is a no-op.
	require.NoError(t, f.ch.SoftDelete(ctx, f.a, v.ID))

	views, err := f.ch.History(ctx, f.b, f.a)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsDeleted)
	assert.Empty(t, views[0].Text)

	// The text survives in storage.
	var row model.Message
	require.NoError(t, f.db.First(&row, v.ID).Error)
	assert.Equal(t, "secret", row.Text)
}

func TestReact_UpsertPerReactor(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	v, err := f.ch.Send(ctx, f.a, f.b, "hello")
	require.NoError(t, err)

	require.NoError(t, f.ch.React(ctx, f.b, v.ID, "👍"))
	require.NoError(t, f.ch.React(ctx, f.a, v.ID, "🎉"))
	// Overwrite, not append.
	require.NoError(t, f.ch.React(ctx, f.b, v.ID, "❤️"))

	views, err := f.ch.History(ctx, f.a, f.b)
	require.NoError(t, err)
	require.Len(t, views[0].Reactions, 2)
	assert.Equal(t, "❤️", views[0].Reactions[itoa(f.b)])
	assert.Equal(t, "🎉", views[0].Reactions[itoa(f.a)])

	// Outsiders cannot react.
	c := f.mkAccount(t, "carol")
	err = f.ch.React(ctx, c, v.ID, "👀")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReact_BlockedGating(t *testing.T) {
	ctx := context.Background()

	// Default: blocked pairs cannot react.
	f := newFixture(t, defaultCfg())
	v, err := f.ch.Send(ctx, f.a, f.b, "hello")
	require.NoError(t, err)
	require.NoError(t, f.rel.Block(ctx, f.a, f.b))

	err = f.ch.React(ctx, f.a, v.ID, "👍")
	assert.ErrorIs(t, err, ErrBlockedByYou)
	err = f.ch.React(ctx, f.b, v.ID, "👍")
	assert.ErrorIs(t, err, ErrBlockedByPeer)

	// With the flag on, the data layer allows it.
	cfg := defaultCfg()
	cfg.AllowReactWhenBlocked = true
	f = newFixture(t, cfg)
	v, err = f.ch.Send(ctx, f.a, f.b, "hello")
	require.NoError(t, err)
	require.NoError(t, f.rel.Block(ctx, f.a, f.b))

	require.NoError(t, f.ch.React(ctx, f.b, v.ID, "👍"))
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "one")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.b, f.a, "two")
	require.NoError(t, err)

	require.NoError(t, f.ch.ClearHistory(ctx, f.a, f.b))

	var count int64
	require.NoError(t, f.db.Model(&model.Message{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	recent, err := f.ch.Recent(ctx, f.a, f.b)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRecent_CachedNewestFirst(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	_, err := f.ch.Send(ctx, f.a, f.b, "one")
	require.NoError(t, err)
	_, err = f.ch.Send(ctx, f.a, f.b, "two")
	require.NoError(t, err)

	recent, err := f.ch.Recent(ctx, f.b, f.a)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Text)
	assert.Equal(t, "one", recent[1].Text)

	// Blocked reads empty here too.
	require.NoError(t, f.rel.Block(ctx, f.b, f.a))
	recent, err = f.ch.Recent(ctx, f.b, f.a)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
