// Package testutil holds in-memory stand-ins for driver sessions, factories
// and collections.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/mongodb"
)

// CallLog collects calls from several fakes in order.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// FakeSession records every lifecycle call as "<name>.<method>".
type FakeSession struct {
	Name string
	Log  *CallLog

	StartErr  error
	CommitErr error
	AbortErr  error
	// ClosedErr is returned by ServerSessionClosed when set.
	ClosedErr error

	mu                 sync.Mutex
	calls              []string
	inTransaction      bool
	ended              bool
	TransactionOptions []*options.TransactionOptions
}

func NewFakeSession(name string, log *CallLog) *FakeSession {
	return &FakeSession{Name: name, Log: log}
}

func (s *FakeSession) record(method string) {
	s.calls = append(s.calls, method)
	s.Log.Add(s.Name + "." + method)
}

func (s *FakeSession) StartTransaction(opts ...*options.TransactionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("start")
	if s.ended {
		return mongodb.ErrSessionClosed
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.TransactionOptions = opts
	s.inTransaction = true
	return nil
}

func (s *FakeSession) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("commit")
	if s.CommitErr != nil {
		return s.CommitErr
	}
	s.inTransaction = false
	return nil
}

func (s *FakeSession) AbortTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("abort")
	s.inTransaction = false
	return s.AbortErr
}

func (s *FakeSession) EndSession(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("end")
	s.ended = true
	s.inTransaction = false
}

func (s *FakeSession) HasActiveTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction && !s.ended
}

func (s *FakeSession) ServerSessionClosed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClosedErr != nil {
		return false, s.ClosedErr
	}
	return s.ended, nil
}

func (s *FakeSession) ID() bson.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	raw, _ := bson.Marshal(bson.D{{Key: "id", Value: s.Name}})
	return raw
}

func (s *FakeSession) Unwrap() mongo.Session { return nil }

// Calls returns this session's method calls in order.
func (s *FakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how often method was called.
func (s *FakeSession) Count(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// Ended reports whether EndSession ran.
func (s *FakeSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// FakeFactory is an in-memory mongodb.DatabaseFactory. Views returned by
// WithSession share sessions and collections with their root.
type FakeFactory struct {
	DefaultName     string
	Log             *CallLog
	StartSessionErr error
	// Prepare, when set, configures every session before it is returned.
	Prepare func(*FakeSession)

	root  *FakeFactory
	bound mongodb.ClientSession

	mu             sync.Mutex
	sessions       []*FakeSession
	sessionOptions []*options.SessionOptions
	collections    map[string]*FakeCollection
}

func NewFakeFactory(defaultName string) *FakeFactory {
	return &FakeFactory{DefaultName: defaultName, Log: &CallLog{}}
}

func (f *FakeFactory) base() *FakeFactory {
	if f.root != nil {
		return f.root
	}
	return f
}

func (f *FakeFactory) GetDatabase(name string) (*mongodb.Database, error) {
	base := f.base()
	if name == "" {
		name = base.DefaultName
	}
	return mongodb.NewDatabaseFunc(name, f.bound, func(collection string) mongodb.CollectionAPI {
		return base.Collection(name + "." + collection)
	}), nil
}

func (f *FakeFactory) StartSession(_ context.Context, opts *options.SessionOptions) (mongodb.ClientSession, error) {
	base := f.base()
	base.mu.Lock()
	defer base.mu.Unlock()
	if base.StartSessionErr != nil {
		return nil, base.StartSessionErr
	}
	session := NewFakeSession(fmt.Sprintf("s%d", len(base.sessions)+1), base.Log)
	if base.Prepare != nil {
		base.Prepare(session)
	}
	base.sessions = append(base.sessions, session)
	base.sessionOptions = append(base.sessionOptions, opts)
	base.Log.Add(session.Name + ".create")
	return session, nil
}

func (f *FakeFactory) WithSession(session mongodb.ClientSession) mongodb.DatabaseFactory {
	return &FakeFactory{root: f.base(), bound: session}
}

func (f *FakeFactory) Root() mongodb.DatabaseFactory { return f.base() }

// Bound returns the session of a WithSession view.
func (f *FakeFactory) Bound() mongodb.ClientSession { return f.bound }

// Sessions returns every session created so far.
func (f *FakeFactory) Sessions() []*FakeSession {
	base := f.base()
	base.mu.Lock()
	defer base.mu.Unlock()
	return append([]*FakeSession(nil), base.sessions...)
}

// SessionOptions returns the options each session was created with.
func (f *FakeFactory) SessionOptions() []*options.SessionOptions {
	base := f.base()
	base.mu.Lock()
	defer base.mu.Unlock()
	return append([]*options.SessionOptions(nil), base.sessionOptions...)
}

// Collection returns the fake collection for "db.collection", creating it.
func (f *FakeFactory) Collection(fullName string) *FakeCollection {
	base := f.base()
	base.mu.Lock()
	defer base.mu.Unlock()
	if base.collections == nil {
		base.collections = make(map[string]*FakeCollection)
	}
	c, ok := base.collections[fullName]
	if !ok {
		c = &FakeCollection{CollectionName: fullName}
		base.collections[fullName] = c
	}
	return c
}

var _ mongodb.DatabaseFactory = (*FakeFactory)(nil)
