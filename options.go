package globalstate

import "log/slog"

// Option configures a Manager
type Option func(*Manager)

// WithInitialState sets the state a new Manager starts from and Reset returns to.
// The map is copied.
func WithInitialState(s State) Option {
	return func(m *Manager) {
		m.initial = s.Clone()
	}
}

// WithReducers registers reducers at construction. Entries with an empty name
// or a nil function are skipped.
func WithReducers(reducers map[string]Reducer) Option {
	return func(m *Manager) {
		for name, r := range reducers {
			if name == "" || r == nil {
				continue
			}
			m.gen++
			m.reducers[name] = reducerEntry{fn: r, gen: m.gen}
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObservability enables lifecycle hooks
func WithObservability(obs Observability) Option {
	return func(m *Manager) {
		m.obs = obs
	}
}

// WithPanicHandler sets a function to be called when a dispatcher or callback panics
func WithPanicHandler(handler PanicHandler) Option {
	return func(m *Manager) {
		m.panicHandler = handler
	}
}

// WithName names the store in logs and telemetry. Defaults to a random UUID.
func WithName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}

// DispatcherOption configures a dispatcher
type DispatcherOption func(*dispatcher)

// Once removes the dispatcher after its first notification
func Once() DispatcherOption {
	return func(d *dispatcher) {
		d.once = true
	}
}

// Async notifies the dispatcher on its own goroutine.
// If sequential is true, notifications to this dispatcher never overlap.
func Async(sequential bool) DispatcherOption {
	return func(d *dispatcher) {
		d.async = true
		d.sequential = sequential
	}
}
