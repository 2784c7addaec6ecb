package transaction

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/session"
	"mongobridge/pkg/txsync"
)

// Propagation decides how a transaction relates to one that is already
// running in the scope.
type Propagation int

const (
	// PropagationRequired joins the running transaction or starts one.
	PropagationRequired Propagation = iota
	// PropagationRequiresNew suspends the running transaction and starts one.
	PropagationRequiresNew
	// PropagationSupports joins the running transaction, else runs without.
	PropagationSupports
	// PropagationNotSupported suspends the running transaction.
	PropagationNotSupported
	// PropagationMandatory joins the running transaction or fails.
	PropagationMandatory
	// PropagationNever fails if a transaction is running.
	PropagationNever
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "REQUIRED",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationSupports:     "SUPPORTS",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationMandatory:    "MANDATORY",
	PropagationNever:        "NEVER",
}

func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParsePropagation(value string) (Propagation, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for p, name := range propagationNames {
		if name == value {
			return p, nil
		}
	}
	return PropagationRequired, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "transaction.ParsePropagation", "unknown propagation %q", value)
}

// Definition describes the transaction a caller asks for. The zero value is
// a required, read-write transaction with the manager's options.
type Definition struct {
	Name        string
	Propagation Propagation
	ReadOnly    bool
	// Timeout becomes the transaction's max commit time when positive.
	Timeout time.Duration
	// Options override the manager's default transaction options.
	Options *options.TransactionOptions
}

// Status tracks one GetTransaction call until it is committed or rolled back.
type Status struct {
	scope              *txsync.Scope
	holder             *session.ResourceHolder
	newTransaction     bool
	newSynchronization bool
	readOnly           bool
	rollbackOnly       bool
	completed          bool
	suspended          *suspendedResources
}

// HasTransaction reports whether a session-backed transaction is attached,
// either started by this status or joined.
func (s *Status) HasTransaction() bool { return s.holder != nil }

func (s *Status) IsNewTransaction() bool { return s.holder != nil && s.newTransaction }

func (s *Status) IsNewSynchronization() bool { return s.newSynchronization }

func (s *Status) IsReadOnly() bool { return s.readOnly }

// SetRollbackOnly makes a later Commit roll back instead.
func (s *Status) SetRollbackOnly() { s.rollbackOnly = true }

// IsRollbackOnly also reports a participating transaction marked rollback
// only by an inner caller.
func (s *Status) IsRollbackOnly() bool {
	return s.rollbackOnly || (s.holder != nil && s.holder.IsRollbackOnly())
}

func (s *Status) IsCompleted() bool { return s.completed }

// Scope returns the unit of work this status belongs to.
func (s *Status) Scope() *txsync.Scope { return s.scope }

// Holder returns the attached resource holder, nil without a transaction.
func (s *Status) Holder() *session.ResourceHolder { return s.holder }

type suspendedResources struct {
	holder                *session.ResourceHolder
	synchronizationActive bool
	synchronizations      []txsync.Synchronization
	name                  string
	readOnly              bool
	wasActive             bool
}
