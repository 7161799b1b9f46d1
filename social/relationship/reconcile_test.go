package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/testutil"
)

func TestReconcile_RepairsAsymmetricConnection(t *testing.T) {
	svc, db := newService(t)
	c, _ := testutil.SetupTestCache(t)
	a := mkAccount(t, db, "alice")
	b := mkAccount(t, db, "bob")

	require.NoError(t, svc.Store().Add(a, b, model.RelationConnection))

	report, err := svc.Reconcile(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AsymmetricConnections)

	has, err := svc.Store().Has(b, a, model.RelationConnection)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestReconcile_RemovesShadowedPending(t *testing.T) {
	svc, db := newService(t)
	c, _ := testutil.SetupTestCache(t)
	a := mkAccount(t, db, "alice")
	b := mkAccount(t, db, "bob")

	require.NoError(t, svc.Store().Add(a, b, model.RelationConnection))
	require.NoError(t, svc.Store().Add(b, a, model.RelationConnection))
	// Stale request left behind by a partial accept.
	require.NoError(t, svc.Store().Add(b, a, model.RelationPending))

	report, err := svc.Reconcile(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StalePending)

	has, err := svc.Store().Has(b, a, model.RelationPending)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReconcile_CompletesDeleteCascade(t *testing.T) {
	svc, db := newService(t)
	cch, _ := testutil.SetupTestCache(t)
	a := mkAccount(t, db, "alice")
	c := mkAccount(t, db, "carol")
	ctx := context.Background()

	require.NoError(t, svc.Block(ctx, c, a))
	require.NoError(t, svc.DeleteAccount(ctx, a))

	// The third-party blocked row on the deleted account remains...
	has, err := svc.Store().Has(c, a, model.RelationBlocked)
	require.NoError(t, err)
	require.True(t, has)

	// ...until reconcile sweeps it.
	report, err := svc.Reconcile(ctx, cch)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DanglingRows)

	has, err = svc.Store().Has(c, a, model.RelationBlocked)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReconcile_CleanStateUntouched(t *testing.T) {
	svc, db := newService(t)
	c, _ := testutil.SetupTestCache(t)
	a := mkAccount(t, db, "alice")
	b := mkAccount(t, db, "bob")
	ctx := context.Background()

	require.NoError(t, svc.SendRequest(ctx, a, b))
	require.NoError(t, svc.AcceptRequest(ctx, b, a))

	report, err := svc.Reconcile(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, report.AsymmetricConnections)
	assert.Zero(t, report.StalePending)
	assert.Zero(t, report.DanglingRows)

	state, err := svc.StateBetween(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestReconcile_SkipsWhenLockHeld(t *testing.T) {
	svc, db := newService(t)
	c, _ := testutil.SetupTestCache(t)
	a := mkAccount(t, db, "alice")
	require.NoError(t, svc.Store().Add(a, 9999, model.RelationConnection))

	ok, err := c.SetNX(context.Background(), reconcileLockKey, "1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := svc.Reconcile(context.Background(), c)
	require.NoError(t, err)
	assert.Zero(t, report.DanglingRows)
}
