package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/metrics"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/txsync"
)

// sessionSynchronization finishes the transaction a coordinator started on
// demand once the surrounding unit of work completes.
type sessionSynchronization struct {
	txsync.NoopSynchronization

	scope        *txsync.Scope
	holder       *ResourceHolder
	holderActive bool
}

func newSessionSynchronization(scope *txsync.Scope, holder *ResourceHolder) *sessionSynchronization {
	return &sessionSynchronization{scope: scope, holder: holder, holderActive: true}
}

func (s *sessionSynchronization) Suspend() {
	if s.holderActive {
		s.scope.UnbindIfPossible(s.holder.Factory())
	}
}

func (s *sessionSynchronization) Resume() {
	if s.holderActive {
		if err := s.scope.Bind(s.holder.Factory(), s.holder); err != nil {
			zap.S().Errorf("sessionSynchronization -> Resume -> %v", err)
		}
	}
}

func (s *sessionSynchronization) BeforeCompletion(context.Context) {
	if s.holderActive {
		s.holderActive = false
		s.scope.UnbindIfPossible(s.holder.Factory())
	}
}

func (s *sessionSynchronization) AfterCommit(ctx context.Context) error {
	active, err := s.holder.HasActiveTransaction()
	if err != nil || !active {
		return err
	}
	session := s.holder.Session()
	if err := session.CommitTransaction(ctx); err != nil {
		metrics.Transaction(metrics.OutcomeFailed)
		return dataaccess.New(dataaccess.CommitKind(err), "session.AfterCommit",
			"could not commit transaction for session "+mongodb.Describe(session), err)
	}
	metrics.Transaction(metrics.OutcomeCommitted)
	return nil
}

// AfterCompletion aborts a transaction that is still running after a
// rollback, then releases the session even if the abort failed.
func (s *sessionSynchronization) AfterCompletion(ctx context.Context, status txsync.CompletionStatus) error {
	var abortErr error
	if status == txsync.StatusRolledBack {
		active, err := s.holder.HasActiveTransaction()
		if err != nil {
			abortErr = err
		} else if active {
			session := s.holder.Session()
			if err := session.AbortTransaction(ctx); err != nil {
				abortErr = dataaccess.New(dataaccess.KindTransactionAbort, "session.AfterCompletion",
					"could not abort transaction for session "+mongodb.Describe(session), err)
			} else {
				metrics.Transaction(metrics.OutcomeAborted)
			}
		}
	}

	if s.holderActive {
		s.holderActive = false
		s.scope.UnbindIfPossible(s.holder.Factory())
	}
	releaseErr := Release(ctx, s.holder)
	s.holder.Clear()
	return errors.Join(abortErr, releaseErr)
}

// Release closes the holder's session if it is still open. Only the first
// call per holder does anything.
func Release(ctx context.Context, holder *ResourceHolder) error {
	if holder == nil || !holder.MarkReleased() {
		return nil
	}
	active, err := holder.HasActiveSession()
	if active || err != nil {
		holder.Session().EndSession(ctx)
		metrics.SessionClosed()
	}
	if err != nil {
		return dataaccess.New(dataaccess.KindResourceFailure, "session.Release", "could not check session state", err)
	}
	return nil
}
