package globalstate

// Kind tells which source an Update computes its partial state from.
type Kind uint8

const (
	// KindPartial updates carry the partial state directly.
	KindPartial Kind = iota + 1
	// KindFunc updates compute the partial state from the current state.
	KindFunc
	// KindReducer updates run a registered reducer by name.
	KindReducer
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFunc:
		return "func"
	case KindReducer:
		return "reducer"
	default:
		return "invalid"
	}
}

// Updater computes a partial state from the current state.
type Updater func(state State) (State, error)

// Update describes one state change request. Build it with Partial, Func or
// Reduce; the zero Update is rejected by Set with ErrInvalidUpdate.
type Update struct {
	kind    Kind
	partial State
	fn      Updater
	reducer string
	args    []any
}

// Partial merges p into the state. A nil p is an empty update.
func Partial(p State) Update {
	return Update{kind: KindPartial, partial: p}
}

// Func merges the result of fn(current state) into the state.
func Func(fn Updater) Update {
	return Update{kind: KindFunc, fn: fn}
}

// Reduce runs the reducer registered under name with args and merges its result.
func Reduce(name string, args ...any) Update {
	return Update{kind: KindReducer, reducer: name, args: args}
}

// Kind returns the source of the update.
func (u Update) Kind() Kind { return u.kind }

// Reducer returns the reducer name for KindReducer updates and "" otherwise.
func (u Update) Reducer() string { return u.reducer }

// Args returns the reducer arguments.
func (u Update) Args() []any { return u.args }
