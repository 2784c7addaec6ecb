// Package txsync is the per unit of work synchronization registry. A Scope is
// passed explicitly through blocking code and carried in a context.Context
// through deferred pipelines.
package txsync

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"mongobridge/pkg/dataaccess"
)

// Scope holds the resources bound to one unit of work and the callbacks that
// run when it completes. A nil *Scope behaves as an inactive scope.
type Scope struct {
	id uuid.UUID

	mu                      sync.Mutex
	resources               map[interface{}]interface{}
	synchronizations        []Synchronization
	synchronizationActive   bool
	name                    string
	readOnly                bool
	actualTransactionActive bool
}

func NewScope() *Scope {
	return &Scope{id: uuid.New(), resources: make(map[interface{}]interface{})}
}

func (s *Scope) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// Bind binds value to key. Binding a key twice is an error.
func (s *Scope) Bind(key, value interface{}) error {
	if s == nil {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.Bind", "no scope to bind %T into", key)
	}
	if value == nil {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.Bind", "nil value for key %T", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[key]; ok {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.Bind", "a value is already bound for key %T in scope %s", key, s.id)
	}
	s.resources[key] = value
	return nil
}

// Unbind removes and returns the value bound to key, failing if none is.
func (s *Scope) Unbind(key interface{}) (interface{}, error) {
	value := s.UnbindIfPossible(key)
	if value == nil {
		return nil, dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.Unbind", "no value bound for key %T", key)
	}
	return value, nil
}

func (s *Scope) UnbindIfPossible(key interface{}) interface{} {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.resources[key]
	if !ok {
		return nil
	}
	delete(s.resources, key)
	return value
}

// Resource returns the value bound to key or nil.
func (s *Scope) Resource(key interface{}) interface{} {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[key]
}

func (s *Scope) HasResource(key interface{}) bool {
	return s.Resource(key) != nil
}

// IsSynchronizationActive reports whether callbacks can be registered.
func (s *Scope) IsSynchronizationActive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronizationActive
}

func (s *Scope) InitSynchronization() error {
	if s == nil {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.InitSynchronization", "no scope")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synchronizationActive {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.InitSynchronization", "synchronization already active")
	}
	s.synchronizationActive = true
	s.synchronizations = nil
	return nil
}

func (s *Scope) RegisterSynchronization(synchronization Synchronization) error {
	if !s.IsSynchronizationActive() {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.RegisterSynchronization", "synchronization not active")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronizations = append(s.synchronizations, synchronization)
	return nil
}

// Synchronizations returns a snapshot of the registered callbacks.
func (s *Scope) Synchronizations() []Synchronization {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Synchronization(nil), s.synchronizations...)
}

func (s *Scope) ClearSynchronization() error {
	if !s.IsSynchronizationActive() {
		return dataaccess.Newf(dataaccess.KindIllegalTransactionState, "txsync.ClearSynchronization", "synchronization not active")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronizationActive = false
	s.synchronizations = nil
	return nil
}

func (s *Scope) SetCurrentTransactionName(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *Scope) CurrentTransactionName() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Scope) SetCurrentTransactionReadOnly(readOnly bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = readOnly
}

func (s *Scope) IsCurrentTransactionReadOnly() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

func (s *Scope) SetActualTransactionActive(active bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actualTransactionActive = active
}

// IsActualTransactionActive reports a real transaction, as opposed to an
// empty transaction scope that only activated synchronization.
func (s *Scope) IsActualTransactionActive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualTransactionActive
}

// Clear resets the transaction attributes and synchronizations. Bound
// resources are left alone.
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronizations = nil
	s.synchronizationActive = false
	s.name = ""
	s.readOnly = false
	s.actualTransactionActive = false
}

type scopeKey struct{}

// NewContext returns ctx carrying scope.
func NewContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// FromContext returns the scope carried by ctx, nil if there is none.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}
