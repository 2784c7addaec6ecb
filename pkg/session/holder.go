// Package session binds driver sessions to units of work.
package session

import (
	"errors"
	"sync"

	"mongobridge/pkg/mongodb"
)

// ResourceHolder binds a session to the factory it came from, together with
// the lifecycle flags of the unit of work using it.
type ResourceHolder struct {
	factory mongodb.DatabaseFactory

	mu                          sync.Mutex
	session                     mongodb.ClientSession
	synchronizedWithTransaction bool
	rollbackOnly                bool
	released                    bool
}

// NewResourceHolder creates a holder. session may be nil and set later. The
// holder keeps the root of factory, the key it is bound under.
func NewResourceHolder(session mongodb.ClientSession, factory mongodb.DatabaseFactory) *ResourceHolder {
	return &ResourceHolder{session: session, factory: BindingKey(factory)}
}

func (h *ResourceHolder) Factory() mongodb.DatabaseFactory { return h.factory }

func (h *ResourceHolder) Session() mongodb.ClientSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *ResourceHolder) HasSession() bool {
	return h.Session() != nil
}

func (h *ResourceHolder) SetSession(session mongodb.ClientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = session
}

// SetSessionIfAbsent binds session unless one is already bound, and returns
// the bound one either way.
func (h *ResourceHolder) SetSessionIfAbsent(session mongodb.ClientSession) mongodb.ClientSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		h.session = session
	}
	return h.session
}

// HasActiveSession reports a bound session that is not closed yet. A session
// reporting ErrSessionClosed counts as closed.
func (h *ResourceHolder) HasActiveSession() (bool, error) {
	session := h.Session()
	if session == nil {
		return false, nil
	}
	closed, err := session.ServerSessionClosed()
	if errors.Is(err, mongodb.ErrSessionClosed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !closed, nil
}

// HasActiveTransaction reports an open session with a running transaction.
func (h *ResourceHolder) HasActiveTransaction() (bool, error) {
	active, err := h.HasActiveSession()
	if err != nil || !active {
		return false, err
	}
	return h.Session().HasActiveTransaction(), nil
}

func (h *ResourceHolder) SetSynchronizedWithTransaction(synchronized bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synchronizedWithTransaction = synchronized
}

func (h *ResourceHolder) IsSynchronizedWithTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.synchronizedWithTransaction
}

func (h *ResourceHolder) SetRollbackOnly() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollbackOnly = true
}

func (h *ResourceHolder) IsRollbackOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rollbackOnly
}

// MarkReleased returns true only for the first call.
func (h *ResourceHolder) MarkReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	return true
}

func (h *ResourceHolder) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Clear resets the flags. The session stays bound so it can still be closed.
func (h *ResourceHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synchronizedWithTransaction = false
	h.rollbackOnly = false
}
