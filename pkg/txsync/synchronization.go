package txsync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type CompletionStatus int

const (
	StatusCommitted CompletionStatus = iota
	StatusRolledBack
	StatusUnknown
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Synchronization receives lifecycle callbacks of the unit of work it was
// registered in.
type Synchronization interface {
	Suspend()
	Resume()
	BeforeCommit(ctx context.Context, readOnly bool) error
	BeforeCompletion(ctx context.Context)
	AfterCommit(ctx context.Context) error
	AfterCompletion(ctx context.Context, status CompletionStatus) error
}

// NoopSynchronization can be embedded to implement only some callbacks.
type NoopSynchronization struct{}

func (NoopSynchronization) Suspend() {}
func (NoopSynchronization) Resume() {}
func (NoopSynchronization) BeforeCommit(context.Context, bool) error { return nil }
func (NoopSynchronization) BeforeCompletion(context.Context) {}
func (NoopSynchronization) AfterCommit(context.Context) error { return nil }
func (NoopSynchronization) AfterCompletion(context.Context, CompletionStatus) error { return nil }

// TriggerBeforeCommit stops at the first failing callback.
func TriggerBeforeCommit(ctx context.Context, synchronizations []Synchronization, readOnly bool) error {
	for _, s := range synchronizations {
		if err := s.BeforeCommit(ctx, readOnly); err != nil {
			return err
		}
	}
	return nil
}

func TriggerBeforeCompletion(ctx context.Context, synchronizations []Synchronization) {
	for _, s := range synchronizations {
		s.BeforeCompletion(ctx)
	}
}

// TriggerAfterCommit runs every callback and joins their failures.
func TriggerAfterCommit(ctx context.Context, synchronizations []Synchronization) error {
	var errs []error
	for _, s := range synchronizations {
		if err := s.AfterCommit(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TriggerAfterCompletion runs every callback even when earlier ones fail.
func TriggerAfterCompletion(ctx context.Context, synchronizations []Synchronization, status CompletionStatus) error {
	var errs []error
	for _, s := range synchronizations {
		if err := s.AfterCompletion(ctx, status); err != nil {
			zap.S().Warnf("txsync -> TriggerAfterCompletion -> callback failed (%s): %v", status, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
