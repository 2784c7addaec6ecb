package dataaccess

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// Kind classifies every error surfaced by the mapping and session layers.
type Kind int

const (
	KindUncategorized Kind = iota
	KindInvalidQuery
	KindShardKey
	KindSessionBind
	KindTransactionBegin
	KindTransactionCommit
	KindTransactionAbort
	KindIllegalTransactionState
	KindUnexpectedRollback
	KindOptimisticLocking
	KindDuplicateKey
	KindNotFound
	KindQueryTimeout
	KindResourceFailure
	KindTransientTransaction
	KindUnknownCommitResult
)

var kindNames = map[Kind]string{
	KindUncategorized:           "uncategorized",
	KindInvalidQuery:            "invalid query",
	KindShardKey:                "shard key",
	KindSessionBind:             "session bind",
	KindTransactionBegin:        "transaction begin",
	KindTransactionCommit:       "transaction commit",
	KindTransactionAbort:        "transaction abort",
	KindIllegalTransactionState: "illegal transaction state",
	KindUnexpectedRollback:      "unexpected rollback",
	KindOptimisticLocking:       "optimistic locking",
	KindDuplicateKey:            "duplicate key",
	KindNotFound:                "not found",
	KindQueryTimeout:            "query timeout",
	KindResourceFailure:         "resource failure",
	KindTransientTransaction:    "transient transaction",
	KindUnknownCommitResult:     "unknown commit result",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type returned by this module. Op names the phase
// that failed (mapping, shard key check, session bind, begin, commit, abort).
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidQuery            = &Error{Kind: KindInvalidQuery}
	ErrShardKey                = &Error{Kind: KindShardKey}
	ErrSessionBind             = &Error{Kind: KindSessionBind}
	ErrTransactionBegin        = &Error{Kind: KindTransactionBegin}
	ErrTransactionCommit       = &Error{Kind: KindTransactionCommit}
	ErrTransactionAbort        = &Error{Kind: KindTransactionAbort}
	ErrIllegalTransactionState = &Error{Kind: KindIllegalTransactionState}
	ErrUnexpectedRollback      = &Error{Kind: KindUnexpectedRollback}
	ErrOptimisticLocking       = &Error{Kind: KindOptimisticLocking}
	ErrDuplicateKey            = &Error{Kind: KindDuplicateKey}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrQueryTimeout            = &Error{Kind: KindQueryTimeout}
	ErrResourceFailure         = &Error{Kind: KindResourceFailure}
	ErrTransientTransaction    = &Error{Kind: KindTransientTransaction}
	ErrUnknownCommitResult     = &Error{Kind: KindUnknownCommitResult}
)

// New builds an *Error. The cause, if any, keeps its stack.
func New(kind Kind, op, msg string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Newf builds an *Error without a cause.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (or any *Error) of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUncategorized
}

// Translate converts a driver error into an *Error. Errors that already carry a
// Kind are returned unchanged.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if stderrors.As(err, &existing) {
		return err
	}

	switch {
	case stderrors.Is(err, mongo.ErrNoDocuments):
		return New(KindNotFound, op, "no document matched", err)
	case mongo.IsDuplicateKeyError(err):
		return New(KindDuplicateKey, op, "duplicate key", err)
	case mongo.IsTimeout(err):
		return New(KindQueryTimeout, op, "operation timed out", err)
	case mongo.IsNetworkError(err):
		return New(KindResourceFailure, op, "network failure", err)
	}

	var serverErr mongo.ServerError
	if stderrors.As(err, &serverErr) {
		switch {
		case serverErr.HasErrorLabel("UnknownTransactionCommitResult"):
			return New(KindUnknownCommitResult, op, "commit outcome unknown", err)
		case serverErr.HasErrorLabel("TransientTransactionError"):
			return New(KindTransientTransaction, op, "transient transaction error", err)
		}
	}
	return New(KindUncategorized, op, "", err)
}

// CommitKind classifies a failed commit. A commit the driver could not confirm
// either way is KindUnknownCommitResult; anything else is KindTransactionCommit.
func CommitKind(err error) Kind {
	if IsRetriableCommit(err) {
		return KindUnknownCommitResult
	}
	return KindTransactionCommit
}

// IsRetriableCommit reports whether a commit failure carries the driver's
// "unknown commit result" signal. Nothing in this module retries on it; it
// exists for commit hooks that choose to.
func IsRetriableCommit(err error) bool {
	var serverErr mongo.ServerError
	if stderrors.As(err, &serverErr) {
		return serverErr.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return false
}
