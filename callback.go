package globalstate

import "context"

// Callback observes every successful Set on a Manager. A non-empty returned
// State is merged by a follow-up Set once all callbacks have run.
type Callback func(ctx context.Context, ev Event) State

type callbackEntry struct {
	id uint64
	fn Callback
}

// AddCallback registers cb for every future Set. The returned function
// removes it and reports whether it was still registered.
func (m *Manager) AddCallback(cb Callback) func() bool {
	if cb == nil {
		panic("globalstate: nil callback")
	}

	m.mu.Lock()
	m.nextCallback++
	id := m.nextCallback
	m.callbacks = append(m.callbacks, &callbackEntry{id: id, fn: cb})
	m.mu.Unlock()

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.callbacks {
			if c.id == id {
				m.callbacks = append(m.callbacks[:i:i], m.callbacks[i+1:]...)
				return true
			}
		}
		return false
	}
}

// runCallbacks invokes the store-wide callbacks, then applies what they returned
func (m *Manager) runCallbacks(ctx context.Context, ev Event) {
	m.mu.RLock()
	if len(m.callbacks) == 0 {
		m.mu.RUnlock()
		return
	}
	callbacks := make([]*callbackEntry, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	var followUps []State
	for _, c := range callbacks {
		if next := m.callCallback(ctx, c, ev); len(next) > 0 {
			followUps = append(followUps, next)
		}
	}

	for _, partial := range followUps {
		if _, err := m.Set(ctx, Partial(partial)); err != nil {
			m.logger.Warn("callback follow-up failed", "store", m.name, "error", err)
		}
	}
}

func (m *Manager) callCallback(ctx context.Context, c *callbackEntry, ev Event) (next State) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			m.logger.Warn("callback panicked", "store", m.name, "callback", c.id, "panic", r)
			if m.panicHandler != nil {
				m.panicHandler(ev.State, 0, r)
			}
		}
	}()
	return c.fn(ctx, ev)
}
