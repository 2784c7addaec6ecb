package txsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobridge/pkg/dataaccess"
)

func TestBindUnbind(t *testing.T) {
	scope := NewScope()
	require.NoError(t, scope.Bind("factory", 1))
	assert.True(t, scope.HasResource("factory"))
	assert.Equal(t, 1, scope.Resource("factory"))

	err := scope.Bind("factory", 2)
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)

	value, err := scope.Unbind("factory")
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	assert.False(t, scope.HasResource("factory"))

	_, err = scope.Unbind("factory")
	assert.ErrorIs(t, err, dataaccess.ErrIllegalTransactionState)
	assert.Nil(t, scope.UnbindIfPossible("factory"))
}

func TestNilScopeIsInactive(t *testing.T) {
	var scope *Scope
	assert.False(t, scope.IsSynchronizationActive())
	assert.Nil(t, scope.Resource("x"))
	assert.False(t, scope.IsActualTransactionActive())
	assert.Error(t, scope.Bind("x", 1))
	assert.Error(t, scope.RegisterSynchronization(NoopSynchronization{}))
	assert.Empty(t, scope.ID())
}

func TestSynchronizationLifecycle(t *testing.T) {
	scope := NewScope()
	assert.Error(t, scope.RegisterSynchronization(NoopSynchronization{}))

	require.NoError(t, scope.InitSynchronization())
	assert.Error(t, scope.InitSynchronization())
	require.NoError(t, scope.RegisterSynchronization(NoopSynchronization{}))
	assert.Len(t, scope.Synchronizations(), 1)

	require.NoError(t, scope.ClearSynchronization())
	assert.False(t, scope.IsSynchronizationActive())
	assert.Empty(t, scope.Synchronizations())
}

func TestClearKeepsResources(t *testing.T) {
	scope := NewScope()
	require.NoError(t, scope.InitSynchronization())
	require.NoError(t, scope.Bind("k", "v"))
	scope.SetCurrentTransactionName("tx")
	scope.SetCurrentTransactionReadOnly(true)
	scope.SetActualTransactionActive(true)

	scope.Clear()

	assert.Empty(t, scope.CurrentTransactionName())
	assert.False(t, scope.IsCurrentTransactionReadOnly())
	assert.False(t, scope.IsActualTransactionActive())
	assert.False(t, scope.IsSynchronizationActive())
	assert.Equal(t, "v", scope.Resource("k"))
}

func TestContextCarriage(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	scope := NewScope()
	ctx := NewContext(context.Background(), scope)
	assert.Same(t, scope, FromContext(ctx))
	assert.NotEqual(t, scope.ID(), NewScope().ID())
}

type recordingSynchronization struct {
	NoopSynchronization
	name string
	log  *[]string
	err  error
}

func (r recordingSynchronization) AfterCommit(context.Context) error {
	*r.log = append(*r.log, r.name+".afterCommit")
	return r.err
}

func (r recordingSynchronization) AfterCompletion(_ context.Context, status CompletionStatus) error {
	*r.log = append(*r.log, r.name+".afterCompletion:"+status.String())
	return r.err
}

func TestTriggersRunEveryCallback(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	synchronizations := []Synchronization{
		recordingSynchronization{name: "a", log: &log, err: boom},
		recordingSynchronization{name: "b", log: &log},
	}

	err := TriggerAfterCommit(context.Background(), synchronizations)
	assert.ErrorIs(t, err, boom)

	err = TriggerAfterCompletion(context.Background(), synchronizations, StatusRolledBack)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{
		"a.afterCommit", "b.afterCommit",
		"a.afterCompletion:rolled back", "b.afterCompletion:rolled back",
	}, log)
}

func TestTriggerBeforeCommitStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	failing := beforeCommitFunc(func() error { calls++; return boom })
	err := TriggerBeforeCommit(context.Background(), []Synchronization{failing, failing}, false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

type beforeCommitFunc func() error

func (f beforeCommitFunc) Suspend() {}
func (f beforeCommitFunc) Resume() {}
func (f beforeCommitFunc) BeforeCommit(context.Context, bool) error { return f() }
func (f beforeCommitFunc) BeforeCompletion(context.Context) {}
func (f beforeCommitFunc) AfterCommit(context.Context) error { return nil }
func (f beforeCommitFunc) AfterCompletion(context.Context, CompletionStatus) error {
	return nil
}
