package session

import (
	"context"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/reactive"
	"mongobridge/pkg/txsync"
)

// ReactiveDatabaseUtils is DatabaseUtils for deferred pipelines. The scope is
// taken from the context the returned Mono is subscribed with.
type ReactiveDatabaseUtils struct {
	DatabaseUtils
}

func (u *ReactiveDatabaseUtils) GetDatabase(dbName string, factory mongodb.DatabaseFactory, policy SynchronizationPolicy) reactive.Mono[*mongodb.Database] {
	return reactive.FlatMap(u.GetSession(factory, policy), func(_ context.Context, session mongodb.ClientSession) reactive.Mono[*mongodb.Database] {
		return reactive.Defer(func(context.Context) (*mongodb.Database, error) {
			target := factory
			if session != nil {
				target = factory.WithSession(session)
			}
			db, err := target.GetDatabase(dbName)
			if err != nil {
				return nil, dataaccess.New(dataaccess.KindSessionBind, "session.GetDatabase", "could not resolve database", err)
			}
			return db, nil
		})
	})
}

// GetSession yields the session to use, nil for none. Creating the session,
// starting its transaction and binding it run one after another within a
// single step: once a session exists it is bound before cancellation is
// observed again, so the scope's cleanup always owns it.
func (u *ReactiveDatabaseUtils) GetSession(factory mongodb.DatabaseFactory, policy SynchronizationPolicy) reactive.Mono[mongodb.ClientSession] {
	none := reactive.Just[mongodb.ClientSession](nil)

	return reactive.FlatMap(reactive.FromContext(txsync.FromContext), func(_ context.Context, scope *txsync.Scope) reactive.Mono[mongodb.ClientSession] {
		if policy == SynchronizeNever || !scope.IsSynchronizationActive() {
			return none
		}

		if holder := LookupHolder(scope, factory); holder != nil && (holder.HasSession() || holder.IsSynchronizedWithTransaction()) {
			if holder.HasSession() {
				return reactive.Just(holder.Session())
			}
			return reactive.Defer(func(ctx context.Context) (mongodb.ClientSession, error) {
				created, err := startSession(ctx, factory, u.sessionOptions())
				if err != nil {
					return nil, err
				}
				return adoptSession(context.WithoutCancel(ctx), holder, created), nil
			})
		}

		if policy == SynchronizeOnActualTransaction {
			return none
		}

		return reactive.Defer(func(ctx context.Context) (mongodb.ClientSession, error) {
			session, err := startSession(ctx, factory, u.sessionOptions())
			if err != nil {
				return nil, err
			}
			if err := beginAndBind(context.WithoutCancel(ctx), scope, factory, session, u.transactionOptions()); err != nil {
				return nil, err
			}
			return session, nil
		})
	})
}

// IsTransactionActive yields whether the subscriber's scope has a running
// transaction for factory.
func (u *ReactiveDatabaseUtils) IsTransactionActive(factory mongodb.DatabaseFactory) reactive.Mono[bool] {
	return reactive.FromContext(func(ctx context.Context) bool {
		return u.DatabaseUtils.IsTransactionActive(txsync.FromContext(ctx), factory)
	})
}
