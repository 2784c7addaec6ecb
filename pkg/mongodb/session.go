package mongodb

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrSessionClosed is returned when a session is used after EndSession.
var ErrSessionClosed = errors.New("mongodb: session already closed")

// ClientSession is the part of a driver session the binding and transaction
// layers drive. mongo.Session has unexported methods, so it cannot be faked
// directly; DriverSession adapts it.
type ClientSession interface {
	StartTransaction(opts ...*options.TransactionOptions) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
	// HasActiveTransaction reports a started, not yet committed or aborted
	// transaction.
	HasActiveTransaction() bool
	// ServerSessionClosed reports whether EndSession ran. Implementations may
	// return ErrSessionClosed instead of true.
	ServerSessionClosed() (bool, error)
	// ID is the server session id document, nil once closed.
	ID() bson.Raw
	// Unwrap returns the driver session used to bind operations, nil for
	// sessions that are not backed by the driver.
	Unwrap() mongo.Session
}

// DriverSession adapts a mongo.Session and tracks the transaction state the
// driver does not expose.
type DriverSession struct {
	session mongo.Session

	mu            sync.Mutex
	inTransaction bool
	ended         bool
}

func NewDriverSession(session mongo.Session) *DriverSession {
	return &DriverSession{session: session}
}

func (s *DriverSession) StartTransaction(opts ...*options.TransactionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionClosed
	}
	if err := s.session.StartTransaction(opts...); err != nil {
		return err
	}
	s.inTransaction = true
	return nil
}

func (s *DriverSession) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionClosed
	}
	if err := s.session.CommitTransaction(ctx); err != nil {
		return err
	}
	s.inTransaction = false
	return nil
}

// AbortTransaction leaves the transaction inactive even when the driver call
// fails; the server drops it with the session.
func (s *DriverSession) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionClosed
	}
	s.inTransaction = false
	return s.session.AbortTransaction(ctx)
}

func (s *DriverSession) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.session.EndSession(ctx)
	s.ended = true
	s.inTransaction = false
}

func (s *DriverSession) HasActiveTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && s.inTransaction
}

func (s *DriverSession) ServerSessionClosed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, nil
}

func (s *DriverSession) ID() bson.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	return s.session.ID()
}

func (s *DriverSession) Unwrap() mongo.Session {
	return s.session
}

// Describe renders a session for log and error messages.
func Describe(session ClientSession) string {
	if session == nil {
		return "<no session>"
	}
	id := session.ID()
	if id == nil {
		return "[closed session]"
	}
	if raw, err := id.LookupErr("id"); err == nil {
		if subtype, data, ok := raw.BinaryOK(); ok && subtype == 4 {
			if sid, err := uuid.FromBytes(data); err == nil {
				return "[session " + sid.String() + "]"
			}
		}
	}
	return "[session " + id.String() + "]"
}
