package implementors

import (
	"errors"
	"slices"
	"sort"
)

// ErrEmptyGroupName is returned by Build when a group is keyed by "".
var ErrEmptyGroupName = errors.New("implementors: empty group name")

// Registry maps a group name (usually a crate) to its ordered, pre-rendered
// fragments. A Registry is immutable once built.
type Registry struct {
	groups map[string][]string
}

// Build copies groups into a new Registry. Fragments are kept verbatim and in
// the order given; nothing is deduplicated.
func Build(groups map[string][]string) (*Registry, error) {
	r := &Registry{groups: make(map[string][]string, len(groups))}
	for name, frags := range groups {
		if name == "" {
			return nil, ErrEmptyGroupName
		}
		r.groups[name] = slices.Clone(frags)
	}
	return r, nil
}

// Groups returns the group names in sorted order.
func (r *Registry) Groups() []string {
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fragments returns a copy of the fragments for a group and whether the group exists.
func (r *Registry) Fragments(group string) ([]string, bool) {
	frags, ok := r.groups[group]
	if !ok {
		return nil, false
	}
	return slices.Clone(frags), true
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	return len(r.groups)
}

// Total returns the number of fragments across all groups.
func (r *Registry) Total() int {
	n := 0
	for _, frags := range r.groups {
		n += len(frags)
	}
	return n
}

// Map returns a deep copy of the registry contents.
func (r *Registry) Map() map[string][]string {
	out := make(map[string][]string, len(r.groups))
	for name, frags := range r.groups {
		out[name] = slices.Clone(frags)
	}
	return out
}

// Equal reports whether two registries hold the same groups with the same
// fragments in the same order.
func (r *Registry) Equal(other *Registry) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.groups) != len(other.groups) {
		return false
	}
	for name, frags := range r.groups {
		o, ok := other.groups[name]
		if !ok || !slices.Equal(frags, o) {
			return false
		}
	}
	return true
}
