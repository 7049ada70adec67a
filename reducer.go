package globalstate

import (
	"context"
	"fmt"
	"sort"
)

// Reducer computes a partial state from the current state and call arguments.
// Reducers should be pure. A Set or Dispatch call on the Manager running the
// reducer fails with ErrReentrantSet; Reset from a reducer is ignored.
type Reducer func(state State, args ...any) (State, error)

type reducerEntry struct {
	fn  Reducer
	gen uint64
}

// AddReducer registers r under name, replacing any reducer already registered
// under that name. The returned function removes this registration; it reports
// false if the name was removed or re-registered in the meantime.
func (m *Manager) AddReducer(name string, r Reducer) (func() bool, error) {
	if name == "" {
		return nil, fmt.Errorf("globalstate: reducer name cannot be empty: %w", ErrInvalidReducer)
	}
	if r == nil {
		return nil, fmt.Errorf("globalstate: reducer %q cannot be nil: %w", name, ErrInvalidReducer)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.reducers[name] = reducerEntry{fn: r, gen: gen}
	m.mu.Unlock()

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		entry, ok := m.reducers[name]
		if !ok || entry.gen != gen {
			return false
		}
		delete(m.reducers, name)
		return true
	}, nil
}

// RemoveReducer removes the reducer registered under name
func (m *Manager) RemoveReducer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reducers[name]; !ok {
		return false
	}
	delete(m.reducers, name)
	return true
}

// Reducers returns the registered reducer names, sorted
func (m *Manager) Reducers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.reducers))
	for name := range m.reducers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reduce looks up and runs a reducer against state
func (m *Manager) reduce(state State, name string, args []any) (State, error) {
	m.mu.RLock()
	entry, ok := m.reducers[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("globalstate: %w: %q", ErrUnknownReducer, name)
	}
	return callReducer(name, state, func(s State) (State, error) {
		return entry.fn(s, args...)
	})
}

// callReducer runs fn, turning a panic into ErrReducerPanic
func callReducer(name string, state State, fn func(State) (State, error)) (partial State, err error) {
	defer func() {
		if r := recover(); r != nil {
			partial = nil
			err = fmt.Errorf("globalstate: %s: %w: %v", name, ErrReducerPanic, r)
		}
	}()

	partial, err = fn(state)
	if err != nil {
		return nil, fmt.Errorf("globalstate: %s: %w", name, err)
	}
	return partial, nil
}

// Dispatch runs a Manager's reducers by name. It is what completion callbacks
// and store-wide callbacks receive.
type Dispatch struct {
	m *Manager
}

// Dispatch returns a handle for running reducers on m
func (m *Manager) Dispatch() *Dispatch {
	return &Dispatch{m: m}
}

// Call runs the reducer registered under name and merges its result.
func (d *Dispatch) Call(ctx context.Context, name string, args ...any) (State, error) {
	return d.m.Set(ctx, Reduce(name, args...))
}

// Names returns the reducer names that Call accepts
func (d *Dispatch) Names() []string {
	return d.m.Reducers()
}
