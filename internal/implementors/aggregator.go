package implementors

import (
	"slices"
	"sort"
	"sync"
)

// Aggregator is a Hook that accumulates registries for one trait. A group in a
// later registry replaces that group's earlier fragments; other groups are kept.
// An empty group removes the crate.
type Aggregator struct {
	mu     sync.RWMutex
	trait  string
	groups map[string][]string
	loads  int
}

func NewAggregator(trait string) *Aggregator {
	return &Aggregator{trait: trait, groups: make(map[string][]string)}
}

func (a *Aggregator) Trait() string { return a.trait }

func (a *Aggregator) RegisterImplementors(r *Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, frags := range r.groups {
		if len(frags) == 0 {
			delete(a.groups, name)
			continue
		}
		a.groups[name] = slices.Clone(frags)
	}
	a.loads++
}

// Loads returns how many registries have been registered.
func (a *Aggregator) Loads() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loads
}

// Snapshot returns the merged state as an immutable Registry.
func (a *Aggregator) Snapshot() *Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r := &Registry{groups: make(map[string][]string, len(a.groups))}
	for name, frags := range a.groups {
		r.groups[name] = slices.Clone(frags)
	}
	return r
}

// Index maps trait paths to slots.
type Index struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

func NewIndex() *Index {
	return &Index{slots: make(map[string]*Slot)}
}

// Slot returns the slot for trait, creating it on first use.
func (x *Index) Slot(trait string) *Slot {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, ok := x.slots[trait]
	if !ok {
		s = &Slot{}
		x.slots[trait] = s
	}
	return s
}

// Traits returns the known trait paths, sorted.
func (x *Index) Traits() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	traits := make([]string, 0, len(x.slots))
	for t := range x.slots {
		traits = append(traits, t)
	}
	sort.Strings(traits)
	return traits
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.slots)
}
