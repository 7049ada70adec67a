package globalstate

import "sort"

// State is the shared application state: string keys mapped to arbitrary values.
//
// A State handed out by a Manager is a snapshot. The manager never writes to a
// snapshot after publishing it, so callers must treat it as read-only too.
type State map[string]any

// Clone returns a shallow copy of the state. Cloning a nil State yields an
// empty, non-nil State.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the keys of the state in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new State holding every key of base, overridden by every key
// of partial. Values are replaced wholesale; nested maps are not merged.
// Neither argument is modified.
func Merge(base, partial State) State {
	out := make(State, len(base)+len(partial))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Value reads key from s as a T. The second result is false when the key is
// missing or holds a value of another type.
func Value[T any](s State, key string) (T, bool) {
	var zero T
	raw, ok := s[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
