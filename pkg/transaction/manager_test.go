package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"mongobridge/internal/testutil"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/session"
	"mongobridge/pkg/txsync"
)

func TestBeginCommitLeavesNothingBound(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, scope, &Definition{Name: "place-order"})
	require.NoError(t, err)
	assert.True(t, status.IsNewTransaction())
	assert.True(t, status.IsNewSynchronization())
	assert.True(t, scope.HasResource(factory))
	assert.True(t, scope.IsActualTransactionActive())
	assert.Equal(t, "place-order", scope.CurrentTransactionName())

	require.NoError(t, manager.Commit(ctx, status))

	assert.Equal(t, []string{"s1.create", "s1.start", "s1.commit", "s1.end"}, factory.Log.Calls())
	assert.False(t, scope.HasResource(factory))
	assert.False(t, scope.IsSynchronizationActive())
	assert.False(t, scope.IsActualTransactionActive())
	assert.True(t, status.IsCompleted())

	opts := factory.SessionOptions()
	require.Len(t, opts, 1)
	assert.True(t, *opts[0].CausalConsistency)
}

func TestBeginRollbackAbortsBeforeClose(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Rollback(ctx, status))

	assert.Equal(t, []string{"s1.create", "s1.start", "s1.abort", "s1.end"}, factory.Log.Calls())
	assert.False(t, scope.HasResource(factory))
}

func TestCompletedStatusIsRejected(t *testing.T) {
	manager := NewManager(testutil.NewFakeFactory("shop"))
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, txsync.NewScope(), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Commit(ctx, status))

	assert.ErrorIs(t, manager.Commit(ctx, status), dataaccess.ErrIllegalTransactionState)
	assert.ErrorIs(t, manager.Rollback(ctx, status), dataaccess.ErrIllegalTransactionState)
}

func TestBeginFailure(t *testing.T) {
	boom := errors.New("no replica set")
	factory := testutil.NewFakeFactory("shop")
	factory.Prepare = func(s *testutil.FakeSession) { s.StartErr = boom }
	scope := txsync.NewScope()

	_, err := NewManager(factory).GetTransaction(context.Background(), scope, nil)
	assert.ErrorIs(t, err, dataaccess.ErrTransactionBegin)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s1")
	assert.True(t, factory.Sessions()[0].Ended())
	assert.False(t, scope.HasResource(factory))
	assert.False(t, scope.IsSynchronizationActive())

	factory = testutil.NewFakeFactory("shop")
	factory.StartSessionErr = boom
	_, err = NewManager(factory).GetTransaction(context.Background(), txsync.NewScope(), nil)
	assert.ErrorIs(t, err, dataaccess.ErrTransactionBegin)
}

func TestCommitFailureIsNotRetried(t *testing.T) {
	boom := errors.New("commit failed")
	factory := testutil.NewFakeFactory("shop")
	factory.Prepare = func(s *testutil.FakeSession) { s.CommitErr = boom }
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	err = manager.Commit(ctx, status)

	assert.ErrorIs(t, err, dataaccess.ErrTransactionCommit)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s1")
	session := factory.Sessions()[0]
	assert.Equal(t, 1, session.Count("commit"))
	assert.True(t, session.Ended())
	assert.False(t, scope.HasResource(factory))
}

func TestUnknownCommitResultKeepsItsKind(t *testing.T) {
	unknown := mongo.CommandError{Code: 91, Message: "shutdown in progress", Labels: []string{"UnknownTransactionCommitResult"}}
	factory := testutil.NewFakeFactory("shop")
	factory.Prepare = func(s *testutil.FakeSession) { s.CommitErr = unknown }
	manager := NewManager(factory)
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, txsync.NewScope(), nil)
	require.NoError(t, err)
	err = manager.Commit(ctx, status)

	assert.ErrorIs(t, err, dataaccess.ErrUnknownCommitResult)
	assert.NotErrorIs(t, err, dataaccess.ErrTransactionCommit)
	assert.True(t, dataaccess.IsRetriableCommit(err))
	assert.Contains(t, err.Error(), "s1")
	assert.True(t, factory.Sessions()[0].Ended())
}

func TestCommitFuncIsTheRetryHook(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	attempts := 0
	manager := NewManager(factory, WithCommitFunc(func(ctx context.Context, s mongodb.ClientSession) error {
		attempts++
		return s.CommitTransaction(ctx)
	}))
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, txsync.NewScope(), nil)
	require.NoError(t, err)
	require.NoError(t, manager.Commit(ctx, status))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, factory.Sessions()[0].Count("commit"))
}

func TestAbortFailureStillCloses(t *testing.T) {
	boom := errors.New("abort failed")
	factory := testutil.NewFakeFactory("shop")
	factory.Prepare = func(s *testutil.FakeSession) { s.AbortErr = boom }
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	err = manager.Rollback(ctx, status)

	assert.ErrorIs(t, err, dataaccess.ErrTransactionAbort)
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.abort", "s1.end"}, factory.Log.Calls())
	assert.False(t, scope.HasResource(factory))
}

func TestRequiredJoinsRunningTransaction(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	outer, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	inner, err := manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationRequired})
	require.NoError(t, err)

	assert.True(t, inner.HasTransaction())
	assert.False(t, inner.IsNewTransaction())
	assert.False(t, inner.IsNewSynchronization())
	assert.Same(t, outer.Holder(), inner.Holder())

	require.NoError(t, manager.Commit(ctx, inner))
	assert.Equal(t, 0, factory.Sessions()[0].Count("commit"))
	assert.True(t, scope.HasResource(factory))

	require.NoError(t, manager.Commit(ctx, outer))
	assert.Len(t, factory.Sessions(), 1)
	assert.Equal(t, 1, factory.Sessions()[0].Count("commit"))
}

func TestInnerRollbackMakesOuterCommitRollBack(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	outer, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	inner, err := manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationMandatory})
	require.NoError(t, err)

	require.NoError(t, manager.Rollback(ctx, inner))
	assert.True(t, outer.IsRollbackOnly())

	err = manager.Commit(ctx, outer)
	assert.ErrorIs(t, err, dataaccess.ErrUnexpectedRollback)
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.abort", "s1.end"}, factory.Log.Calls())
}

func TestLocalRollbackOnlyIsNotUnexpected(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, txsync.NewScope(), nil)
	require.NoError(t, err)
	status.SetRollbackOnly()

	require.NoError(t, manager.Commit(ctx, status))
	assert.Equal(t, 1, factory.Sessions()[0].Count("abort"))
	assert.Equal(t, 0, factory.Sessions()[0].Count("commit"))
}

func TestRequiresNewSuspendsAndResumes(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	outer, err := manager.GetTransaction(ctx, scope, &Definition{Name: "outer"})
	require.NoError(t, err)
	inner, err := manager.GetTransaction(ctx, scope, &Definition{Name: "inner", Propagation: PropagationRequiresNew})
	require.NoError(t, err)

	assert.True(t, inner.IsNewTransaction())
	assert.NotSame(t, outer.Holder(), inner.Holder())
	assert.Same(t, inner.Holder(), session.LookupHolder(scope, factory))
	assert.Equal(t, "inner", scope.CurrentTransactionName())

	require.NoError(t, manager.Commit(ctx, inner))
	assert.Same(t, outer.Holder(), session.LookupHolder(scope, factory))
	assert.Equal(t, "outer", scope.CurrentTransactionName())
	assert.True(t, scope.IsSynchronizationActive())

	require.NoError(t, manager.Commit(ctx, outer))
	assert.Equal(t, []string{
		"s1.create", "s1.start",
		"s2.create", "s2.start", "s2.commit", "s2.end",
		"s1.commit", "s1.end",
	}, factory.Log.Calls())
}

func TestNotSupportedRunsWithoutTransaction(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	outer, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	inner, err := manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationNotSupported})
	require.NoError(t, err)

	assert.False(t, inner.HasTransaction())
	assert.False(t, scope.HasResource(factory))
	assert.False(t, scope.IsActualTransactionActive())

	require.NoError(t, manager.Commit(ctx, inner))
	assert.Same(t, outer.Holder(), session.LookupHolder(scope, factory))
	assert.True(t, scope.IsActualTransactionActive())
	require.NoError(t, manager.Commit(ctx, outer))
}

func TestPropagationPreconditions(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	_, err := manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationMandatory})
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)

	_, err = manager.GetTransaction(ctx, scope, &Definition{Timeout: -time.Second})
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)

	outer, err := manager.GetTransaction(ctx, scope, nil)
	require.NoError(t, err)
	_, err = manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationNever})
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)
	require.NoError(t, manager.Rollback(ctx, outer))

	_, err = manager.GetTransaction(ctx, nil, nil)
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)
}

func TestSupportsDrivesOnDemandSessions(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)
	scope := txsync.NewScope()
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, scope, &Definition{Propagation: PropagationSupports})
	require.NoError(t, err)
	assert.False(t, status.HasTransaction())
	assert.True(t, scope.IsSynchronizationActive())
	assert.Empty(t, factory.Sessions())

	utils := &session.DatabaseUtils{}
	_, err = utils.GetDatabase(ctx, scope, "", factory, session.SynchronizeOnActualTransaction)
	require.NoError(t, err)
	assert.Empty(t, factory.Sessions())

	db, err := utils.GetDatabase(ctx, scope, "", factory, session.SynchronizeAlways)
	require.NoError(t, err)
	assert.True(t, db.HasSession())

	require.NoError(t, manager.Commit(ctx, status))
	assert.Equal(t, []string{"s1.create", "s1.start", "s1.commit", "s1.end"}, factory.Log.Calls())
	assert.False(t, scope.HasResource(factory))
}

func TestTransactionOptions(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	defaults := options.Transaction().SetWriteConcern(writeconcern.Majority())
	manager := NewManager(factory, WithTransactionOptions(defaults))
	ctx := context.Background()

	status, err := manager.GetTransaction(ctx, txsync.NewScope(), &Definition{Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, manager.Rollback(ctx, status))

	txOpts := factory.Sessions()[0].TransactionOptions
	require.Len(t, txOpts, 1)
	assert.Equal(t, writeconcern.Majority(), txOpts[0].WriteConcern)
	require.NotNil(t, txOpts[0].MaxCommitTime)
	assert.Equal(t, 5*time.Second, *txOpts[0].MaxCommitTime)
	assert.Nil(t, defaults.MaxCommitTime)
}

func TestExecute(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)

	var seen *txsync.Scope
	err := manager.Execute(context.Background(), nil, func(ctx context.Context) error {
		seen = txsync.FromContext(ctx)
		assert.True(t, seen.HasResource(factory))
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, 1, factory.Sessions()[0].Count("commit"))

	boom := errors.New("boom")
	err = manager.Execute(context.Background(), nil, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, factory.Sessions()[1].Count("abort"))
	assert.True(t, factory.Sessions()[1].Ended())

	assert.Panics(t, func() {
		_ = manager.Execute(context.Background(), nil, func(context.Context) error { panic("kaboom") })
	})
	assert.Equal(t, 1, factory.Sessions()[2].Count("abort"))
	assert.True(t, factory.Sessions()[2].Ended())
}

func TestExecuteNestedJoinsScopeFromContext(t *testing.T) {
	factory := testutil.NewFakeFactory("shop")
	manager := NewManager(factory)

	err := manager.Execute(context.Background(), nil, func(ctx context.Context) error {
		return manager.Execute(ctx, &Definition{Propagation: PropagationMandatory}, func(context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
	assert.Len(t, factory.Sessions(), 1)
}

func TestParsePropagation(t *testing.T) {
	p, err := ParsePropagation("requires_new")
	require.NoError(t, err)
	assert.Equal(t, PropagationRequiresNew, p)
	assert.Equal(t, "NOT_SUPPORTED", PropagationNotSupported.String())

	_, err = ParsePropagation("nested")
	assert.Error(t, err)
}
