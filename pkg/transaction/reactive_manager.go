package transaction

import (
	"context"
	"errors"

	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/reactive"
	"mongobridge/pkg/txsync"
)

// ReactiveManager exposes Manager as deferred steps. The scope is the one
// carried by the subscriber's context.
type ReactiveManager struct {
	manager *Manager
}

func NewReactiveManager(factory mongodb.DatabaseFactory, opts ...Option) *ReactiveManager {
	return &ReactiveManager{manager: NewManager(factory, opts...)}
}

func (rm *ReactiveManager) Manager() *Manager { return rm.manager }

func (rm *ReactiveManager) GetTransaction(def *Definition) reactive.Mono[*Status] {
	return reactive.Defer(func(ctx context.Context) (*Status, error) {
		return rm.manager.GetTransaction(ctx, txsync.FromContext(ctx), def)
	})
}

func (rm *ReactiveManager) Commit(status *Status) reactive.Mono[struct{}] {
	return reactive.Defer(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rm.manager.Commit(ctx, status)
	})
}

func (rm *ReactiveManager) Rollback(status *Status) reactive.Mono[struct{}] {
	return reactive.Defer(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rm.manager.Rollback(ctx, status)
	})
}

// Transactional runs body inside a transaction: begin, body, then commit, or
// rollback when body fails. Subscribers without a scope get a fresh one. Once
// begun, the transaction is always completed by this step, also when the
// subscriber's context is cancelled before body starts.
func Transactional[T any](rm *ReactiveManager, def *Definition, body reactive.Mono[T]) reactive.Mono[T] {
	return reactive.Defer(func(ctx context.Context) (T, error) {
		var zero T
		status, err := rm.manager.GetTransaction(ctx, txsync.FromContext(ctx), def)
		if err != nil {
			return zero, err
		}

		committed := reactive.FlatMap(body, func(_ context.Context, value T) reactive.Mono[T] {
			return reactive.Map(rm.Commit(status), func(struct{}) T { return value })
		})
		value, err := committed.Block(ctx)
		if err == nil {
			return value, nil
		}
		if status.IsCompleted() {
			return zero, err
		}
		// The rollback must run even when ctx was cancelled.
		rollbackErr := rm.manager.Rollback(context.WithoutCancel(ctx), status)
		return zero, errors.Join(err, rollbackErr)
	}).ContextWrite(ensureScope)
}

func ensureScope(ctx context.Context) context.Context {
	if txsync.FromContext(ctx) != nil {
		return ctx
	}
	return txsync.NewContext(ctx, txsync.NewScope())
}
