package globalstate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DispatcherID identifies a registered dispatcher. IDs are allocated in
// registration order and never reused by the same Manager.
type DispatcherID uint64

// DispatcherFunc tells a subscriber that a key it uses was touched.
// It receives the state produced by the Set.
type DispatcherFunc func(ctx context.Context, state State)

// PanicHandler is called when a dispatcher, callback or completion panics.
// id is zero for callbacks and completions.
type PanicHandler func(state State, id DispatcherID, panicValue any)

// dispatcher is a registered notify function plus the keys it uses
type dispatcher struct {
	id         DispatcherID
	fn         DispatcherFunc
	keys       map[string]struct{}
	order      []string
	once       bool
	async      bool
	sequential bool
	mu         sync.Mutex
	fired      int32 // once dispatchers, set atomically on first notification
}

// Result is the outcome of a Set delivered by SetAsync.
type Result struct {
	State State
	Err   error
}

// Completion is the per-call callback of SetThen. It runs after the state has
// been replaced and every affected dispatcher has been notified, and receives
// the partial update that was merged. A panic in it is recovered like a
// dispatcher panic and does not fail the Set.
type Completion func(state State, d *Dispatch, partial State)

// Manager holds one shared state, the dispatchers depending on it and the
// reducers that compute updates for it. A Manager is safe for concurrent use.
type Manager struct {
	name    string
	initial State
	state   State

	dispatchers []*dispatcher // registration order
	byID        map[DispatcherID]*dispatcher
	nextID      atomic.Uint64

	reducers map[string]reducerEntry
	gen      uint64

	callbacks    []*callbackEntry
	nextCallback uint64

	logger       *slog.Logger
	obs          Observability
	panicHandler PanicHandler

	mu    sync.RWMutex
	setMu sync.Mutex // serializes compute-merge-replace

	resolving atomic.Uint64 // goroutine running a reducer or updater, 0 if none
	wg        sync.WaitGroup
}

// New creates an independent Manager
func New(opts ...Option) *Manager {
	m := &Manager{
		name:     uuid.NewString(),
		initial:  State{},
		byID:     make(map[DispatcherID]*dispatcher),
		reducers: make(map[string]reducerEntry),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.state = m.initial.Clone()
	return m
}

// Name returns the store name used in logs and telemetry.
func (m *Manager) Name() string {
	return m.name
}

// State returns the current state snapshot. Do not modify it.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Get returns the current value of key.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state[key]
	return v, ok
}

// Reset restores the initial state. Dispatchers, reducers and callbacks stay
// registered and nobody is notified.
func (m *Manager) Reset() {
	if m.reentrant() {
		m.logger.Warn("reset called from a reducer ignored", "store", m.name)
		return
	}

	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	m.state = m.initial.Clone()
	m.mu.Unlock()

	m.logger.Debug("state reset", "store", m.name)
}

// AddDispatcher registers fn with an empty key-set and returns its id.
// fn is not called until a key is recorded with UseKey.
func (m *Manager) AddDispatcher(fn DispatcherFunc, opts ...DispatcherOption) DispatcherID {
	if fn == nil {
		panic("globalstate: nil dispatcher")
	}

	d := &dispatcher{
		id:   DispatcherID(m.nextID.Add(1)),
		fn:   fn,
		keys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatchers = append(m.dispatchers, d)
	m.byID[d.id] = d
	return d.id
}

// RemoveDispatcher deregisters id. It reports whether anything was removed;
// removing an unknown or already removed id is a no-op.
func (m *Manager) RemoveDispatcher(id DispatcherID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id DispatcherID) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, d := range m.dispatchers {
		if d.id == id {
			m.dispatchers = append(m.dispatchers[:i:i], m.dispatchers[i+1:]...)
			break
		}
	}
	return true
}

// UseKey adds key to the key-set of id. It returns false if id is not registered.
func (m *Manager) UseKey(id DispatcherID, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return false
	}
	if _, seen := d.keys[key]; !seen {
		d.keys[key] = struct{}{}
		d.order = append(d.order, key)
	}
	return true
}

// ResetKeys empties the key-set of id, typically at the start of a render.
// The manager never does this on its own.
func (m *Manager) ResetKeys(id DispatcherID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return false
	}
	d.keys = make(map[string]struct{})
	d.order = nil
	return true
}

// Keys returns the key-set of id in first-use order.
func (m *Manager) Keys(id DispatcherID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.byID[id]
	if !ok {
		return nil
	}
	return append([]string(nil), d.order...)
}

// Len returns the number of registered dispatchers
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dispatchers)
}

// Set merges the partial state described by u into the state and notifies the
// dispatchers using any of the touched keys. It returns the new state.
//
// Sets are applied in call order: each one reads the state left by every Set
// issued before it. On error the state is left untouched.
func (m *Manager) Set(ctx context.Context, u Update) (State, error) {
	return m.SetThen(ctx, u, nil)
}

// SetAsync runs SetThen and returns a channel that already holds the Result
// once every notification has been issued. Async dispatchers may still be running.
func (m *Manager) SetAsync(ctx context.Context, u Update, done Completion) <-chan Result {
	ch := make(chan Result, 1)
	state, err := m.SetThen(ctx, u, done)
	ch <- Result{State: state, Err: err}
	return ch
}

// SetThen is Set with a completion callback. done may be nil.
func (m *Manager) SetThen(ctx context.Context, u Update, done Completion) (State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if m.obs != nil {
		ctx = m.obs.OnSetStart(ctx, m.name, u.kind, u.reducer)
	}

	if m.reentrant() {
		err := fmt.Errorf("globalstate: Set called from a reducer of store %q: %w", m.name, ErrReentrantSet)
		m.finishSet(ctx, u, start, nil, 0, err)
		return nil, err
	}

	m.setMu.Lock()

	m.mu.RLock()
	current := m.state
	m.mu.RUnlock()

	partial, err := m.resolveGuarded(current, u)
	if err != nil {
		m.setMu.Unlock()
		m.finishSet(ctx, u, start, nil, 0, err)
		return nil, err
	}

	next := Merge(current, partial)
	changes := Diff(current, partial)

	m.mu.Lock()
	m.state = next
	affected := m.affectedLocked(partial)
	m.mu.Unlock()

	m.setMu.Unlock()

	for _, d := range affected {
		if d.async {
			m.wg.Add(1)
			go func(d *dispatcher) {
				defer m.wg.Done()
				if d.sequential {
					d.mu.Lock()
					defer d.mu.Unlock()
				}
				m.notify(ctx, d, next)
			}(d)
			continue
		}
		m.notify(ctx, d, next)
	}

	dispatch := m.Dispatch()
	if done != nil {
		m.callCompletion(done, next, dispatch, partial)
	}

	m.finishSet(ctx, u, start, partial.Keys(), len(affected), nil)

	m.runCallbacks(ctx, Event{
		State:    next,
		Partial:  partial,
		Changes:  changes,
		Reducer:  u.reducer,
		Args:     u.args,
		Dispatch: dispatch,
	})

	return next, nil
}

// resolve computes the partial state an update asks for
func (m *Manager) resolve(current State, u Update) (State, error) {
	switch u.kind {
	case KindPartial:
		return u.partial, nil
	case KindFunc:
		if u.fn == nil {
			return nil, fmt.Errorf("globalstate: nil updater: %w", ErrInvalidUpdate)
		}
		return callReducer("updater", current, func(s State) (State, error) { return u.fn(s) })
	case KindReducer:
		return m.reduce(current, u.reducer, u.args)
	default:
		return nil, fmt.Errorf("globalstate: update has no source: %w", ErrInvalidUpdate)
	}
}

// resolveGuarded runs resolve while recording the calling goroutine, so that a
// reducer calling back into m is caught by reentrant.
func (m *Manager) resolveGuarded(current State, u Update) (State, error) {
	if u.kind == KindPartial {
		return u.partial, nil
	}
	m.resolving.Store(goroutineID())
	defer m.resolving.Store(0)
	return m.resolve(current, u)
}

// reentrant reports whether the caller is the goroutine currently running a
// reducer or updater of m. setMu is held for that whole time.
func (m *Manager) reentrant() bool {
	gid := m.resolving.Load()
	return gid != 0 && gid == goroutineID()
}

// goroutineID parses the current goroutine id from the runtime stack header,
// which starts with "goroutine <id> ".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// affectedLocked returns the dispatchers whose key-set intersects the keys of
// partial, in registration order. Once dispatchers are removed as they are picked.
func (m *Manager) affectedLocked(partial State) []*dispatcher {
	if len(partial) == 0 || len(m.dispatchers) == 0 {
		return nil
	}

	var affected []*dispatcher
	var spent []DispatcherID
	for _, d := range m.dispatchers {
		if !usesAny(d, partial) {
			continue
		}
		if d.once {
			if !atomic.CompareAndSwapInt32(&d.fired, 0, 1) {
				continue
			}
			spent = append(spent, d.id)
		}
		affected = append(affected, d)
	}

	for _, id := range spent {
		m.removeLocked(id)
	}
	return affected
}

func usesAny(d *dispatcher, partial State) bool {
	if len(d.keys) == 0 {
		return false
	}
	for key := range partial {
		if _, ok := d.keys[key]; ok {
			return true
		}
	}
	return false
}

// notify calls one dispatcher, recovering a panic
func (m *Manager) notify(ctx context.Context, d *dispatcher, state State) {
	start := time.Now()
	if m.obs != nil {
		ctx = m.obs.OnDispatchStart(ctx, m.name, d.id, d.async)
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("globalstate: dispatcher %d panicked: %v", d.id, r)
			m.logger.Warn("dispatcher panicked", "store", m.name, "dispatcher", uint64(d.id), "panic", r)
			if m.panicHandler != nil {
				m.panicHandler(state, d.id, r)
			}
		}
		if m.obs != nil {
			m.obs.OnDispatchComplete(ctx, time.Since(start), err)
		}
	}()

	d.fn(ctx, state)
}

// callCompletion runs done, recovering a panic so the Set still completes
func (m *Manager) callCompletion(done Completion, state State, d *Dispatch, partial State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("completion panicked", "store", m.name, "panic", r)
			if m.panicHandler != nil {
				m.panicHandler(state, 0, r)
			}
		}
	}()
	done(state, d, partial)
}

func (m *Manager) finishSet(ctx context.Context, u Update, start time.Time, keys []string, notified int, err error) {
	duration := time.Since(start)
	if err != nil {
		m.logger.Debug("state set failed", "store", m.name, "kind", u.kind.String(), "reducer", u.reducer, "error", err)
	} else {
		m.logger.Debug("state set", "store", m.name, "kind", u.kind.String(), "reducer", u.reducer,
			"keys", keys, "notified", notified, "duration", duration)
	}

	if m.obs != nil {
		m.obs.OnSetComplete(ctx, SetInfo{
			Store:    m.name,
			Kind:     u.kind,
			Reducer:  u.reducer,
			Keys:     keys,
			Notified: notified,
			Duration: duration,
		}, err)
	}
}

// WaitAsync waits for all async dispatchers to return
func (m *Manager) WaitAsync() {
	m.wg.Wait()
}
