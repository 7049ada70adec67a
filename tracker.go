package globalstate

import "context"

// Tracker is the handle a subscriber keeps between renders. Reads made
// through it are recorded as dependencies of its dispatcher.
//
//	t := m.Register(func(ctx context.Context, s globalstate.State) { rerender() })
//	defer t.Close()
//
//	t.Begin()                 // start of each render
//	count, _ := globalstate.Read[int](t, "count")
type Tracker struct {
	m  *Manager
	id DispatcherID
}

// Register adds a dispatcher and returns its tracking handle.
func (m *Manager) Register(fn DispatcherFunc, opts ...DispatcherOption) *Tracker {
	return &Tracker{m: m, id: m.AddDispatcher(fn, opts...)}
}

// ID returns the dispatcher id
func (t *Tracker) ID() DispatcherID { return t.id }

// Begin clears the recorded keys. Call it at the start of every render so a
// key that is no longer read stops triggering notifications.
func (t *Tracker) Begin() {
	t.m.ResetKeys(t.id)
}

// Use records key as a dependency without reading it.
func (t *Tracker) Use(key string) {
	t.m.UseKey(t.id, key)
}

// Get reads key from the current state and records it as a dependency.
func (t *Tracker) Get(key string) (any, bool) {
	t.m.UseKey(t.id, key)
	return t.m.Get(key)
}

// Keys returns the recorded keys in first-use order.
func (t *Tracker) Keys() []string {
	return t.m.Keys(t.id)
}

// Set applies u to the tracker's store.
func (t *Tracker) Set(ctx context.Context, u Update) (State, error) {
	return t.m.Set(ctx, u)
}

// Close deregisters the dispatcher. It is safe to call more than once.
func (t *Tracker) Close() bool {
	return t.m.RemoveDispatcher(t.id)
}

// Read reads key through t as a T and records the dependency.
func Read[T any](t *Tracker, key string) (T, bool) {
	t.m.UseKey(t.id, key)
	return Value[T](t.m.State(), key)
}
