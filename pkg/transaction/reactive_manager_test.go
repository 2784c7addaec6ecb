package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobridge/internal/testutil"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/reactive"
	"mongobridge/pkg/session"
	"mongobridge/pkg/txsync"
)

func TestTransactionalCommits(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	rm := NewReactiveManager(factory)
	utils := &session.ReactiveDatabaseUtils{}

	body := reactive.Map(utils.GetDatabase("", factory, session.SynchronizeOnActualTransaction), func(db *mongodb.Database) bool {
		return db.HasSession()
	})

	bound, err := Transactional(rm, nil, body).Block(context.Background())
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.commit", "s1.end"}, factory.Log.Calls())
}

func TestTransactionalRollsBackOnError(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	rm := NewReactiveManager(factory)
	boom := errors.New("boom")
	scope := txsync.NewScope()

	_, err := Transactional(rm, nil, reactive.Error[int](boom)).Block(txsync.NewContext(context.Background(), scope))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.abort", "s1.end"}, factory.Log.Calls())
	assert.False(t, scope.HasResource(factory))
}

func TestTransactionalRollsBackOnCancellation(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	rm := NewReactiveManager(factory)
	ctx, cancel := context.WithCancel(context.Background())

	body := reactive.Defer(func(context.Context) (int, error) {
		cancel()
		return 1, nil
	})
	_, err := Transactional(rm, nil, body).Block(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, factory.Sessions()[0].Count("commit"))
	assert.Equal(t, 1, factory.Sessions()[0].Count("abort"))
	assert.True(t, factory.Sessions()[0].Ended())
}

func TestTransactionalRollsBackWhenCancelledDuringBegin(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	rm := NewReactiveManager(factory)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory.Prepare = func(*testutil.FakeSession) { cancel() }

	ran := false
	body := reactive.Defer(func(context.Context) (int, error) {
		ran = true
		return 1, nil
	})
	_, err := Transactional(rm, nil, body).Block(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.abort", "s1.end"}, factory.Log.Calls())
}

func TestReactiveManagerSteps(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	rm := NewReactiveManager(factory)
	scope := txsync.NewScope()
	ctx := txsync.NewContext(context.Background(), scope)

	status, err := rm.GetTransaction(nil).Block(ctx)
	require.NoError(t, err)
	assert.Same(t, scope, status.Scope())

	active, err := (&session.ReactiveDatabaseUtils{}).IsTransactionActive(factory).Block(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = rm.Commit(status).Block(ctx)
	require.NoError(t, err)
	assert.False(t, scope.HasResource(factory))
	assert.Same(t, factory, rm.Manager().Factory())
}
