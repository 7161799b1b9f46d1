package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "session:tok1", "42", 0)
	require.NoError(t, err)

	v, err := c.Get(ctx, "session:tok1")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "session:short", "7", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = c.Get(ctx, "session:short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDel(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	_ = c.Del(ctx, "k")
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "reconcile:relations", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "reconcile:relations", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok) // lock already held
}

func TestHash(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "unread:9", "3", "1"))
	require.NoError(t, c.HSet(ctx, "unread:9", "5", "2"))

	v, err := c.HGet(ctx, "unread:9", "3")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	all, err := c.HGetAll(ctx, "unread:9")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"3": "1", "5": "2"}, all)

	require.NoError(t, c.HDel(ctx, "unread:9", "3"))
	_, err = c.HGet(ctx, "unread:9", "3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "convos:9", "pair:1:9", "pair:2:9", "pair:3:9"))
	members, err := c.SMembers(ctx, "convos:9")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pair:1:9", "pair:2:9", "pair:3:9"}, members)

	ok, err := c.SIsMember(ctx, "convos:9", "pair:2:9")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.SRem(ctx, "convos:9", "pair:2:9"))
	ok, _ = c.SIsMember(ctx, "convos:9", "pair:2:9")
	assert.False(t, ok)
}

func TestZSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "discover:active", 100, "alice"))
	require.NoError(t, c.ZAdd(ctx, "discover:active", 200, "bob"))
	require.NoError(t, c.ZAdd(ctx, "discover:active", 50, "carol"))

	members, err := c.ZRevRange(ctx, "discover:active", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice", "carol"}, members)

	score, err := c.ZScore(ctx, "discover:active", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(100), score)
}

func TestList(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "recent:pair:1:2", "c", "b", "a"))
	items, err := c.LRange(ctx, "recent:pair:1:2", 0, -1)
	require.NoError(t, err)
	// The last pushed value sits at the head.
	assert.Equal(t, []string{"a", "b", "c"}, items)

	require.NoError(t, c.LTrim(ctx, "recent:pair:1:2", 0, 1))
	items, _ = c.LRange(ctx, "recent:pair:1:2", 0, -1)
	assert.Equal(t, []string{"a", "b"}, items)
}
