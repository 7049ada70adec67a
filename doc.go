// Package globalstate is a shared state container for component trees.
//
// A Manager holds one State (a map of string keys to values). Subscribers
// register a dispatcher, record which keys they read, and are notified only
// when a Set touches one of those keys:
//
//	m := globalstate.New(globalstate.WithInitialState(globalstate.State{"x": false, "y": false}))
//
//	t := m.Register(func(ctx context.Context, s globalstate.State) {
//	    fmt.Println("x is now", s["x"])
//	})
//	t.Use("x")
//
//	m.Set(ctx, globalstate.Partial(globalstate.State{"x": true})) // notifies t
//	m.Set(ctx, globalstate.Partial(globalstate.State{"y": true})) // does not
//
// # Updates
//
// Set takes one of three update sources:
//
//	globalstate.Partial(globalstate.State{"count": 1})
//	globalstate.Func(func(s globalstate.State) (globalstate.State, error) { ... })
//	globalstate.Reduce("increment", 5)
//
// Partial states are merged shallowly: top-level keys are replaced, nested
// values are not merged. A key counts as changed whenever it is present in
// the partial update, even if the new value equals the old one.
//
// # Reducers
//
// Reducers are named functions computing a partial state:
//
//	m.AddReducer("flip", func(s globalstate.State, _ ...any) (globalstate.State, error) {
//	    x, _ := globalstate.Value[bool](s, "x")
//	    return globalstate.State{"x": !x}, nil
//	})
//	m.Dispatch().Call(ctx, "flip")
//
// # Callbacks
//
// SetThen takes a completion callback run after notifications. AddCallback
// registers a callback run after every Set; it may return a follow-up
// partial state.
//
// # Observability
//
// WithObservability wires lifecycle hooks. See the otel and prometheus
// sub-packages.
package globalstate
