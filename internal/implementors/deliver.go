package implementors

import (
	"log/slog"
	"sync"
)

// Hook accepts a completed registry. It is the consumer responsible for
// rendering a trait's implementors list.
type Hook interface {
	RegisterImplementors(r *Registry)
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(r *Registry)

func (f HookFunc) RegisterImplementors(r *Registry) { f(r) }

// HookLookup reports the registration hook, if one is currently available.
type HookLookup interface {
	Lookup() (Hook, bool)
}

// PendingStore receives a registry when no hook is available.
type PendingStore interface {
	Store(r *Registry)
}

// Delivery records which path Deliver took.
type Delivery int

const (
	// Delivered means the hook was called with the registry.
	Delivered Delivery = iota
	// Stashed means the registry was written to the pending slot.
	Stashed
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Stashed:
		return "stashed"
	default:
		return "unknown"
	}
}

// Deliver hands r to the hook reported by lookup, or stores it in pending when
// there is none. The hook is called at most once, synchronously.
func Deliver(r *Registry, lookup HookLookup, pending PendingStore) Delivery {
	if hook, ok := lookup.Lookup(); ok {
		hook.RegisterImplementors(r)
		return Delivered
	}
	pending.Store(r)
	return Stashed
}

// Load builds a registry from groups and delivers it through slot.
// Deliveries through one slot happen one at a time, in call order.
func Load(groups map[string][]string, slot *Slot) (*Registry, Delivery, error) {
	r, err := Build(groups)
	if err != nil {
		return nil, 0, err
	}
	slot.deliverMu.Lock()
	d := Deliver(r, slot, slot)
	slot.deliverMu.Unlock()
	slog.Debug("implementors loaded", "groups", r.Len(), "fragments", r.Total(), "delivery", d)
	return r, d, nil
}

// Slot owns the registration hook and the pending registry for one consumer.
// The zero value has neither.
//
// mu guards the fields and is never held while a hook runs. deliverMu orders
// hook calls: a hook must not Load or Attach through its own slot.
type Slot struct {
	deliverMu sync.Mutex
	mu        sync.Mutex
	hook      Hook
	pending   *Registry
}

// Lookup returns the attached hook, if any.
func (s *Slot) Lookup() (Hook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook, s.hook != nil
}

// Store replaces the pending registry.
func (s *Slot) Store(r *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = r
}

// Peek returns the pending registry without clearing it.
func (s *Slot) Peek() (*Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.pending != nil
}

// Take returns the pending registry and clears the slot.
func (s *Slot) Take() (*Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.pending
	s.pending = nil
	return r, r != nil
}

// Attach installs hook and drains any pending registry into it. It reports
// whether a pending registry was delivered. A Load that observes the new hook
// delivers after the drained registry.
func (s *Slot) Attach(hook Hook) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.hook = hook
	r := s.pending
	s.pending = nil
	s.mu.Unlock()

	if r == nil {
		return false
	}
	hook.RegisterImplementors(r)
	return true
}

// Detach removes the hook. Later loads are stashed again.
func (s *Slot) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = nil
}
