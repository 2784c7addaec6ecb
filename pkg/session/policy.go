package session

import (
	"strings"

	"mongobridge/pkg/dataaccess"
)

// SynchronizationPolicy decides whether database handles take part in the
// unit of work of the caller.
type SynchronizationPolicy int

const (
	// SynchronizeNever always hands out session-less handles.
	SynchronizeNever SynchronizationPolicy = iota
	// SynchronizeOnActualTransaction joins a session a transaction manager
	// already bound, and never creates one.
	SynchronizeOnActualTransaction
	// SynchronizeAlways joins any unit of work and starts a session-bound
	// transaction when none is bound yet.
	SynchronizeAlways
)

func (p SynchronizationPolicy) String() string {
	switch p {
	case SynchronizeNever:
		return "NEVER"
	case SynchronizeOnActualTransaction:
		return "ON_ACTUAL_TRANSACTION"
	case SynchronizeAlways:
		return "ALWAYS"
	default:
		return "UNKNOWN"
	}
}

// ParsePolicy accepts NEVER, ON_ACTUAL_TRANSACTION and ALWAYS, case
// insensitive.
func ParsePolicy(value string) (SynchronizationPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "NEVER":
		return SynchronizeNever, nil
	case "ON_ACTUAL_TRANSACTION":
		return SynchronizeOnActualTransaction, nil
	case "ALWAYS":
		return SynchronizeAlways, nil
	default:
		return SynchronizeNever, dataaccess.Newf(dataaccess.KindSessionBind, "session.ParsePolicy", "unknown session synchronization %q", value)
	}
}
