// Package session holds the authenticated identity for one dashboard page
// session and fans out credential-state changes to the rest of the app.
package session

import (
	"sync"

	"mathgamified/internal/identity"
)

// Listener receives identity transitions. A nil identity means signed out.
type Listener func(*identity.Identity)

// Store caches the current identity. It is fed exclusively by the auth
// provider's credential-state changes and guarantees listeners only ever see
// none→some and some→none transitions: a sign-in over an existing identity is
// delivered as an intermediate none first.
type Store struct {
	mu        sync.Mutex
	current   *identity.Identity
	listeners []Listener
	announced bool
}

// NewStore returns an empty store with no identity.
func NewStore() *Store {
	return &Store{}
}

// CurrentIdentity returns the cached identity, if any.
func (s *Store) CurrentIdentity() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return identity.Identity{}, false
	}
	return *s.current, true
}

// Subscribe registers a listener. Listeners are notified synchronously in
// registration order on every transition.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetIdentity records a credential-state change from the auth provider.
// The first call always notifies, so the provider's initial "no identity"
// report on page load reaches listeners. After that, nil→nil is a no-op and
// some→same-uid is a no-op.
func (s *Store) SetIdentity(id *identity.Identity) {
	s.mu.Lock()
	prev := s.current
	first := !s.announced
	s.announced = true

	switch {
	case prev == nil && id == nil:
		if !first {
			s.mu.Unlock()
			return
		}
		s.current = nil
		listeners := s.snapshotLocked()
		s.mu.Unlock()
		notify(listeners, nil)
		return
	case prev != nil && id != nil && prev.UID == id.UID:
		s.mu.Unlock()
		return
	case prev != nil && id != nil:
		// A different identity without an intermediate sign-out: deliver the
		// none transition first so the invariant holds for listeners.
		s.current = nil
		listeners := s.snapshotLocked()
		s.mu.Unlock()
		notify(listeners, nil)
		s.mu.Lock()
	}

	s.current = copyIdentity(id)
	listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, copyIdentity(id))
}

func (s *Store) snapshotLocked() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify(listeners []Listener, id *identity.Identity) {
	for _, fn := range listeners {
		fn(id)
	}
}

func copyIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}
