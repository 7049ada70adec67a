package globalstate

import (
	"context"
	"testing"
)

func TestAddCallback(t *testing.T) {
	m := newXY()
	var events []Event

	remove := m.AddCallback(func(ctx context.Context, ev Event) State {
		events = append(events, ev)
		return nil
	})

	ctx := context.Background()
	m.Set(ctx, Partial(State{"x": true}))

	if len(events) != 1 {
		t.Fatalf("callback called %d times, want 1", len(events))
	}
	ev := events[0]
	if want := (State{"x": true, "y": false}); !statesEqual(ev.State, want) {
		t.Errorf("event state = %v, want %v", ev.State, want)
	}
	if !statesEqual(ev.Partial, State{"x": true}) {
		t.Errorf("event partial = %v", ev.Partial)
	}
	if len(ev.Changes) != 1 || ev.Changes[0].Key != "x" || ev.Changes[0].Op != OpUpdate {
		t.Errorf("event changes = %+v", ev.Changes)
	}
	if ev.Dispatch == nil {
		t.Error("event has no dispatch handle")
	}

	if !remove() {
		t.Fatal("remove reported nothing removed")
	}
	if remove() {
		t.Error("second remove reported a removal")
	}

	m.Set(ctx, Partial(State{"y": true}))
	if len(events) != 1 {
		t.Error("removed callback still called")
	}
}

func TestCallbackReducerEvent(t *testing.T) {
	m := New(WithInitialState(State{"n": 0}), WithReducers(map[string]Reducer{"add": add}))
	var got Event
	m.AddCallback(func(ctx context.Context, ev Event) State {
		got = ev
		return nil
	})

	m.Set(context.Background(), Reduce("add", 3))

	if got.Reducer != "add" {
		t.Errorf("event reducer = %q, want add", got.Reducer)
	}
	if len(got.Args) != 1 || got.Args[0] != 3 {
		t.Errorf("event args = %v", got.Args)
	}
}

func TestCallbackFollowUp(t *testing.T) {
	m := New(WithInitialState(State{"count": 0, "even": true}))

	m.AddCallback(func(ctx context.Context, ev Event) State {
		if _, touched := ev.Partial["count"]; !touched {
			return nil
		}
		c, _ := Value[int](ev.State, "count")
		return State{"even": c%2 == 0}
	})

	var evenCalls int
	id := m.AddDispatcher(func(context.Context, State) { evenCalls++ })
	m.UseKey(id, "even")

	m.Set(context.Background(), Partial(State{"count": 3}))

	if m.State()["even"] != false {
		t.Errorf("even = %v, want false", m.State()["even"])
	}
	if evenCalls != 1 {
		t.Errorf("follow-up notified %d times, want 1", evenCalls)
	}
}

func TestCallbackNotRunOnError(t *testing.T) {
	m := New()
	called := false
	m.AddCallback(func(context.Context, Event) State {
		called = true
		return nil
	})

	m.Set(context.Background(), Reduce("missing"))
	if called {
		t.Error("callback ran for a failed Set")
	}
}

func TestCallbackPanic(t *testing.T) {
	var handled []DispatcherID
	m := New(WithPanicHandler(func(s State, id DispatcherID, v any) {
		handled = append(handled, id)
	}))

	m.AddCallback(func(context.Context, Event) State { panic("callback failed") })
	var after bool
	m.AddCallback(func(context.Context, Event) State {
		after = true
		return nil
	})

	if _, err := m.Set(context.Background(), Partial(State{"a": 1})); err != nil {
		t.Fatal(err)
	}
	if len(handled) != 1 || handled[0] != 0 {
		t.Errorf("panic handler calls = %v, want [0]", handled)
	}
	if !after {
		t.Error("callback after the panicking one did not run")
	}
}

func TestAddCallbackNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil callback")
		}
	}()
	New().AddCallback(nil)
}
