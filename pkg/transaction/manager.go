// Package transaction drives MongoDB transactions for units of work: begin,
// commit, rollback, propagation and suspension of running transactions.
package transaction

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/metrics"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/session"
	"mongobridge/pkg/txsync"
)

// CommitFunc commits the transaction running on a session. It replaces the
// single CommitTransaction call a Manager does by default, e.g. to retry on
// dataaccess.IsRetriableCommit.
type CommitFunc func(ctx context.Context, session mongodb.ClientSession) error

type Option func(*Manager)

// WithTransactionOptions sets the default options, e.g. read and write
// concern, of every transaction the manager starts.
func WithTransactionOptions(opts *options.TransactionOptions) Option {
	return func(m *Manager) { m.options = opts }
}

func WithSessionOptions(opts *options.SessionOptions) Option {
	return func(m *Manager) { m.sessionOptions = opts }
}

func WithCommitFunc(fn CommitFunc) Option {
	return func(m *Manager) { m.commit = fn }
}

// Manager runs transactions on sessions of one factory. Sessions are bound
// into the caller's scope under the factory, where session.DatabaseUtils
// finds them.
type Manager struct {
	factory        mongodb.DatabaseFactory
	options        *options.TransactionOptions
	sessionOptions *options.SessionOptions
	commit         CommitFunc
}

func NewManager(factory mongodb.DatabaseFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:        factory,
		sessionOptions: options.Session().SetCausalConsistency(true),
		commit: func(ctx context.Context, s mongodb.ClientSession) error {
			return s.CommitTransaction(ctx)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Factory() mongodb.DatabaseFactory { return m.factory }

// GetTransaction starts, joins or suspends a transaction in scope according
// to def.Propagation. A nil def means PropagationRequired.
func (m *Manager) GetTransaction(ctx context.Context, scope *txsync.Scope, def *Definition) (*Status, error) {
	if def == nil {
		def = &Definition{}
	}
	if scope == nil {
		return nil, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.GetTransaction", "no scope given")
	}
	if def.Timeout < 0 {
		return nil, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.GetTransaction", "invalid transaction timeout %s", def.Timeout)
	}

	if existing := session.LookupHolder(scope, m.factory); existing != nil {
		return m.handleExistingTransaction(ctx, scope, def, existing)
	}

	switch def.Propagation {
	case PropagationMandatory:
		return nil, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.GetTransaction",
			"no existing transaction found for transaction marked with propagation %s", def.Propagation)
	case PropagationRequired, PropagationRequiresNew:
		suspended := m.suspend(scope, nil)
		status, err := m.startTransaction(ctx, scope, def, suspended)
		if err != nil {
			return nil, errors.Join(err, m.resume(scope, suspended))
		}
		return status, nil
	default:
		return m.prepareStatus(scope, def, nil, false, nil), nil
	}
}

func (m *Manager) handleExistingTransaction(ctx context.Context, scope *txsync.Scope, def *Definition, existing *session.ResourceHolder) (*Status, error) {
	switch def.Propagation {
	case PropagationNever:
		return nil, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.GetTransaction",
			"existing transaction found for transaction marked with propagation %s", def.Propagation)
	case PropagationNotSupported:
		zap.S().Debugf("Manager -> GetTransaction -> suspending %s", mongodb.Describe(existing.Session()))
		suspended := m.suspend(scope, existing)
		return m.prepareStatus(scope, def, nil, false, suspended), nil
	case PropagationRequiresNew:
		zap.S().Debugf("Manager -> GetTransaction -> suspending %s for a new transaction", mongodb.Describe(existing.Session()))
		suspended := m.suspend(scope, existing)
		status, err := m.startTransaction(ctx, scope, def, suspended)
		if err != nil {
			return nil, errors.Join(err, m.resume(scope, suspended))
		}
		return status, nil
	default:
		return m.prepareStatus(scope, def, existing, false, nil), nil
	}
}

// startTransaction opens a session, starts the driver transaction and binds
// the holder into scope.
func (m *Manager) startTransaction(ctx context.Context, scope *txsync.Scope, def *Definition, suspended *suspendedResources) (*Status, error) {
	clientSession, err := m.factory.StartSession(ctx, m.sessionOptions)
	if err != nil {
		metrics.Transaction(metrics.OutcomeFailed)
		return nil, dataaccess.New(dataaccess.KindTransactionBegin, "transaction.Begin", "could not start session", err)
	}
	metrics.SessionStarted()
	description := mongodb.Describe(clientSession)

	if err := clientSession.StartTransaction(m.transactionOptions(def)...); err != nil {
		clientSession.EndSession(ctx)
		metrics.SessionClosed()
		metrics.Transaction(metrics.OutcomeFailed)
		return nil, dataaccess.New(dataaccess.KindTransactionBegin, "transaction.Begin",
			"could not start transaction for session "+description, err)
	}

	holder := session.NewResourceHolder(clientSession, m.factory)
	holder.SetSynchronizedWithTransaction(true)
	if err := scope.Bind(session.BindingKey(m.factory), holder); err != nil {
		abortErr := clientSession.AbortTransaction(ctx)
		clientSession.EndSession(ctx)
		metrics.SessionClosed()
		return nil, errors.Join(err, abortErr)
	}
	metrics.Transaction(metrics.OutcomeBegun)
	zap.S().Debugf("Manager -> Begin -> started transaction %q on %s", def.Name, description)

	return m.prepareStatus(scope, def, holder, true, suspended), nil
}

func (m *Manager) transactionOptions(def *Definition) []*options.TransactionOptions {
	opts := def.Options
	if opts == nil {
		opts = m.options
	}
	if def.Timeout > 0 {
		merged := options.MergeTransactionOptions(opts)
		timeout := def.Timeout
		merged.SetMaxCommitTime(&timeout)
		opts = merged
	}
	if opts == nil {
		return nil
	}
	return []*options.TransactionOptions{opts}
}

// prepareStatus builds the status and activates synchronization for the
// scope unless an outer caller already did.
func (m *Manager) prepareStatus(scope *txsync.Scope, def *Definition, holder *session.ResourceHolder, newTransaction bool, suspended *suspendedResources) *Status {
	status := &Status{
		scope:          scope,
		holder:         holder,
		newTransaction: newTransaction,
		readOnly:       def.ReadOnly,
		suspended:      suspended,
	}
	if !scope.IsSynchronizationActive() {
		scope.SetActualTransactionActive(holder != nil)
		scope.SetCurrentTransactionReadOnly(def.ReadOnly)
		scope.SetCurrentTransactionName(def.Name)
		if err := scope.InitSynchronization(); err == nil {
			status.newSynchronization = true
		}
	}
	return status
}

// suspend detaches holder and the registered synchronizations from scope
// without touching the session.
func (m *Manager) suspend(scope *txsync.Scope, holder *session.ResourceHolder) *suspendedResources {
	if scope.IsSynchronizationActive() {
		synchronizations := scope.Synchronizations()
		for _, s := range synchronizations {
			s.Suspend()
		}
		_ = scope.ClearSynchronization()

		suspended := &suspendedResources{
			synchronizationActive: true,
			synchronizations:      synchronizations,
			name:                  scope.CurrentTransactionName(),
			readOnly:              scope.IsCurrentTransactionReadOnly(),
			wasActive:             scope.IsActualTransactionActive(),
		}
		if holder != nil {
			suspended.holder, _ = scope.UnbindIfPossible(session.BindingKey(m.factory)).(*session.ResourceHolder)
		}
		scope.SetCurrentTransactionName("")
		scope.SetCurrentTransactionReadOnly(false)
		scope.SetActualTransactionActive(false)
		return suspended
	}
	if holder != nil {
		unbound, _ := scope.UnbindIfPossible(session.BindingKey(m.factory)).(*session.ResourceHolder)
		return &suspendedResources{holder: unbound}
	}
	return nil
}

func (m *Manager) resume(scope *txsync.Scope, suspended *suspendedResources) error {
	if suspended == nil {
		return nil
	}
	if suspended.holder != nil {
		if err := scope.Bind(session.BindingKey(m.factory), suspended.holder); err != nil {
			return err
		}
	}
	if suspended.synchronizationActive {
		scope.SetActualTransactionActive(suspended.wasActive)
		scope.SetCurrentTransactionReadOnly(suspended.readOnly)
		scope.SetCurrentTransactionName(suspended.name)
		if err := scope.InitSynchronization(); err != nil {
			return err
		}
		for _, s := range suspended.synchronizations {
			s.Resume()
			if err := scope.RegisterSynchronization(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit commits the transaction status started. A status marked rollback
// only is rolled back instead; when an inner participant marked it, the
// rollback is reported as dataaccess.ErrUnexpectedRollback.
func (m *Manager) Commit(ctx context.Context, status *Status) error {
	if status.completed {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.Commit",
			"transaction is already completed, do not call commit or rollback more than once per transaction")
	}
	if status.rollbackOnly {
		zap.S().Debugf("Manager -> Commit -> transaction marked rollback-only, rolling back")
		return m.processRollback(ctx, status, false)
	}
	if status.holder != nil && status.holder.IsRollbackOnly() {
		zap.S().Debugf("Manager -> Commit -> transaction marked rollback-only by a participant, rolling back")
		return m.processRollback(ctx, status, status.newTransaction)
	}
	return m.processCommit(ctx, status)
}

func (m *Manager) processCommit(ctx context.Context, status *Status) (err error) {
	defer func() {
		err = errors.Join(err, m.cleanupAfterCompletion(ctx, status))
	}()

	synchronizations := status.synchronizations()
	if err := txsync.TriggerBeforeCommit(ctx, synchronizations, status.readOnly); err != nil {
		rollbackErr := m.rollbackOnCommitException(ctx, status)
		return errors.Join(err, rollbackErr, txsync.TriggerAfterCompletion(ctx, synchronizations, txsync.StatusRolledBack))
	}
	txsync.TriggerBeforeCompletion(ctx, synchronizations)

	if status.IsNewTransaction() {
		if err := m.doCommit(ctx, status.holder); err != nil {
			return errors.Join(err, txsync.TriggerAfterCompletion(ctx, synchronizations, txsync.StatusUnknown))
		}
	}

	afterCommitErr := txsync.TriggerAfterCommit(ctx, synchronizations)
	return errors.Join(afterCommitErr, txsync.TriggerAfterCompletion(ctx, synchronizations, txsync.StatusCommitted))
}

func (m *Manager) doCommit(ctx context.Context, holder *session.ResourceHolder) error {
	clientSession := holder.Session()
	if err := m.commit(ctx, clientSession); err != nil {
		metrics.Transaction(metrics.OutcomeFailed)
		return dataaccess.New(dataaccess.CommitKind(err), "transaction.Commit",
			"could not commit transaction for session "+mongodb.Describe(clientSession), err)
	}
	metrics.Transaction(metrics.OutcomeCommitted)
	zap.S().Debugf("Manager -> Commit -> committed %s", mongodb.Describe(clientSession))
	return nil
}

func (m *Manager) rollbackOnCommitException(ctx context.Context, status *Status) error {
	if status.IsNewTransaction() {
		return m.doRollback(ctx, status.holder)
	}
	if status.holder != nil {
		status.holder.SetRollbackOnly()
	}
	return nil
}

// Rollback aborts the transaction status started, or marks a joined one
// rollback only.
func (m *Manager) Rollback(ctx context.Context, status *Status) error {
	if status.completed {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.Rollback",
			"transaction is already completed, do not call commit or rollback more than once per transaction")
	}
	return m.processRollback(ctx, status, false)
}

func (m *Manager) processRollback(ctx context.Context, status *Status, unexpected bool) (err error) {
	defer func() {
		err = errors.Join(err, m.cleanupAfterCompletion(ctx, status))
	}()

	synchronizations := status.synchronizations()
	txsync.TriggerBeforeCompletion(ctx, synchronizations)

	var rollbackErr error
	switch {
	case status.IsNewTransaction():
		rollbackErr = m.doRollback(ctx, status.holder)
	case status.holder != nil:
		zap.S().Debugf("Manager -> Rollback -> marking joined transaction rollback-only")
		status.holder.SetRollbackOnly()
	}

	err = errors.Join(rollbackErr, txsync.TriggerAfterCompletion(ctx, synchronizations, txsync.StatusRolledBack))
	if unexpected {
		err = errors.Join(err, dataaccess.Newf(dataaccess.KindUnexpectedRollback, "transaction.Commit",
			"transaction rolled back because it has been marked as rollback-only"))
	}
	return err
}

func (m *Manager) doRollback(ctx context.Context, holder *session.ResourceHolder) error {
	clientSession := holder.Session()
	active, err := holder.HasActiveTransaction()
	if err != nil {
		return dataaccess.New(dataaccess.KindTransactionAbort, "transaction.Rollback",
			"could not check session state for "+mongodb.Describe(clientSession), err)
	}
	if !active {
		return nil
	}
	if err := clientSession.AbortTransaction(ctx); err != nil {
		metrics.Transaction(metrics.OutcomeFailed)
		return dataaccess.New(dataaccess.KindTransactionAbort, "transaction.Rollback",
			"could not abort transaction for session "+mongodb.Describe(clientSession), err)
	}
	metrics.Transaction(metrics.OutcomeAborted)
	zap.S().Debugf("Manager -> Rollback -> aborted %s", mongodb.Describe(clientSession))
	return nil
}

// cleanupAfterCompletion always runs last: it unbinds and closes what this
// status opened and resumes what it suspended.
func (m *Manager) cleanupAfterCompletion(ctx context.Context, status *Status) error {
	status.completed = true
	if status.newSynchronization {
		status.scope.Clear()
	}

	var errs []error
	if status.IsNewTransaction() {
		status.scope.UnbindIfPossible(session.BindingKey(m.factory))
		status.holder.Clear()
		if err := session.Release(ctx, status.holder); err != nil {
			errs = append(errs, err)
		}
	}
	if status.suspended != nil {
		if err := m.resume(status.scope, status.suspended); err != nil {
			errs = append(errs, fmt.Errorf("resume suspended transaction: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Status) synchronizations() []txsync.Synchronization {
	if !s.newSynchronization {
		return nil
	}
	return s.scope.Synchronizations()
}

// Execute runs fn inside a transaction described by def and commits when fn
// returns nil. The scope is taken from ctx, or created, and fn receives a
// context carrying it. A panic in fn rolls back and is re-raised.
func (m *Manager) Execute(ctx context.Context, def *Definition, fn func(ctx context.Context) error) (err error) {
	scope := txsync.FromContext(ctx)
	if scope == nil {
		scope = txsync.NewScope()
		ctx = txsync.NewContext(ctx, scope)
	}

	status, err := m.GetTransaction(ctx, scope, def)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rollbackErr := m.Rollback(context.WithoutCancel(ctx), status); rollbackErr != nil {
				zap.S().Errorf("Manager -> Execute -> rollback after panic failed: %v", rollbackErr)
			}
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		return errors.Join(err, m.Rollback(context.WithoutCancel(ctx), status))
	}
	return m.Commit(ctx, status)
}
