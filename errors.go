package globalstate

import "errors"

var (
	// ErrUnknownReducer is returned when Set is asked to run a reducer name
	// that is not registered.
	ErrUnknownReducer = errors.New("unknown reducer")

	// ErrInvalidUpdate is returned for an Update that carries no source,
	// such as the zero Update or Func(nil).
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrInvalidReducer is returned by AddReducer for an empty name or a nil function.
	ErrInvalidReducer = errors.New("invalid reducer")

	// ErrReentrantSet is returned when a reducer or updater calls Set on the
	// Manager that is running it.
	ErrReentrantSet = errors.New("reentrant set")

	// ErrReducerPanic wraps a panic raised while computing a partial update.
	ErrReducerPanic = errors.New("reducer panicked")
)
