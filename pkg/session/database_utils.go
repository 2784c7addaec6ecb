package session

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/metrics"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/txsync"
)

// DatabaseUtils resolves database handles for blocking callers, attaching
// the session of the caller's unit of work according to a policy.
type DatabaseUtils struct {
	// SessionOptions are used for sessions created on demand; nil means
	// causally consistent sessions.
	SessionOptions *options.SessionOptions
	// TransactionOptions are used for transactions started on demand.
	TransactionOptions *options.TransactionOptions
}

func defaultSessionOptions() *options.SessionOptions {
	return options.Session().SetCausalConsistency(true)
}

func (u *DatabaseUtils) sessionOptions() *options.SessionOptions {
	if u == nil || u.SessionOptions == nil {
		return defaultSessionOptions()
	}
	return u.SessionOptions
}

func (u *DatabaseUtils) transactionOptions() []*options.TransactionOptions {
	if u == nil || u.TransactionOptions == nil {
		return nil
	}
	return []*options.TransactionOptions{u.TransactionOptions}
}

// GetDatabase returns the named database, or the default one for "", bound
// to the session policy selects within scope.
func (u *DatabaseUtils) GetDatabase(ctx context.Context, scope *txsync.Scope, dbName string, factory mongodb.DatabaseFactory, policy SynchronizationPolicy) (*mongodb.Database, error) {
	session, err := u.GetSession(ctx, scope, factory, policy)
	if err != nil {
		return nil, err
	}
	target := factory
	if session != nil {
		target = factory.WithSession(session)
	}
	db, err := target.GetDatabase(dbName)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindSessionBind, "session.GetDatabase", "could not resolve database", err)
	}
	return db, nil
}

// GetSession returns the session a database handle should use, nil for none.
func (u *DatabaseUtils) GetSession(ctx context.Context, scope *txsync.Scope, factory mongodb.DatabaseFactory, policy SynchronizationPolicy) (mongodb.ClientSession, error) {
	if policy == SynchronizeNever || !scope.IsSynchronizationActive() {
		return nil, nil
	}

	if holder := LookupHolder(scope, factory); holder != nil && (holder.HasSession() || holder.IsSynchronizedWithTransaction()) {
		if holder.HasSession() {
			return holder.Session(), nil
		}
		created, err := startSession(ctx, factory, u.sessionOptions())
		if err != nil {
			return nil, err
		}
		return adoptSession(ctx, holder, created), nil
	}

	if policy == SynchronizeOnActualTransaction {
		return nil, nil
	}

	session, err := startSession(ctx, factory, u.sessionOptions())
	if err != nil {
		return nil, err
	}
	if err := beginAndBind(ctx, scope, factory, session, u.transactionOptions()); err != nil {
		return nil, err
	}
	return session, nil
}

// IsTransactionActive reports whether scope has a session bound for factory
// with a running transaction.
func (u *DatabaseUtils) IsTransactionActive(scope *txsync.Scope, factory mongodb.DatabaseFactory) bool {
	holder := LookupHolder(scope, factory)
	if holder == nil {
		return false
	}
	active, err := holder.HasActiveTransaction()
	if err != nil {
		zap.S().Warnf("DatabaseUtils -> IsTransactionActive -> probing %s failed: %v", mongodb.Describe(holder.Session()), err)
		return false
	}
	return active
}

// LookupHolder returns the holder bound for factory in scope, if any.
// Session-bound views of a factory find the holder of their root.
func LookupHolder(scope *txsync.Scope, factory mongodb.DatabaseFactory) *ResourceHolder {
	holder, _ := scope.Resource(BindingKey(factory)).(*ResourceHolder)
	return holder
}

// BindingKey is the scope key holders for factory are bound under.
func BindingKey(factory mongodb.DatabaseFactory) mongodb.DatabaseFactory {
	if factory == nil {
		return nil
	}
	return factory.Root()
}

func startSession(ctx context.Context, factory mongodb.DatabaseFactory, opts *options.SessionOptions) (mongodb.ClientSession, error) {
	session, err := factory.StartSession(ctx, opts)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindSessionBind, "session.StartSession", "could not obtain a client session", err)
	}
	metrics.SessionStarted()
	return session, nil
}

// adoptSession binds created to holder. If another caller won the race the
// new session is closed and the bound one returned.
func adoptSession(ctx context.Context, holder *ResourceHolder, created mongodb.ClientSession) mongodb.ClientSession {
	bound := holder.SetSessionIfAbsent(created)
	if bound != created {
		created.EndSession(ctx)
		metrics.SessionClosed()
	}
	return bound
}

// beginAndBind starts a transaction on session, wraps it in a holder and
// binds the holder into scope with a cleanup callback.
func beginAndBind(ctx context.Context, scope *txsync.Scope, factory mongodb.DatabaseFactory, session mongodb.ClientSession, txOpts []*options.TransactionOptions) error {
	if err := session.StartTransaction(txOpts...); err != nil {
		description := mongodb.Describe(session)
		session.EndSession(ctx)
		metrics.SessionClosed()
		return dataaccess.New(dataaccess.KindTransactionBegin, "session.StartTransaction",
			"could not start transaction for session "+description, err)
	}
	metrics.Transaction(metrics.OutcomeBegun)

	holder := NewResourceHolder(session, factory)
	if err := scope.RegisterSynchronization(newSessionSynchronization(scope, holder)); err != nil {
		abortErr := session.AbortTransaction(ctx)
		session.EndSession(ctx)
		metrics.SessionClosed()
		return errors.Join(err, abortErr)
	}
	holder.SetSynchronizedWithTransaction(true)
	if err := scope.Bind(BindingKey(factory), holder); err != nil {
		return err
	}
	zap.S().Debugf("DatabaseUtils -> beginAndBind -> bound %s to scope %s", mongodb.Describe(session), scope.ID())
	return nil
}
