package script

import (
	"fmt"

	"github.com/jilio/globalstate"
	"github.com/jilio/globalstate/internal/config"
)

// NewReducer builds the reducer a script declares.
func NewReducer(r config.Reducer) (globalstate.Reducer, error) {
	key := r.Key
	switch r.Kind {
	case config.KindToggle:
		return func(s globalstate.State, _ ...any) (globalstate.State, error) {
			v, _ := globalstate.Value[bool](s, key)
			return globalstate.State{key: !v}, nil
		}, nil

	case config.KindIncrement:
		by := r.By
		return func(s globalstate.State, args ...any) (globalstate.State, error) {
			delta := by
			if len(args) > 0 {
				delta = args[0]
			}
			sum, err := add(s[key], delta)
			if err != nil {
				return nil, fmt.Errorf("increment %s: %w", key, err)
			}
			return globalstate.State{key: sum}, nil
		}, nil

	case config.KindAssign:
		return func(_ globalstate.State, args ...any) (globalstate.State, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("assign %s: want 1 argument, got %d", key, len(args))
			}
			return globalstate.State{key: args[0]}, nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported reducer kind %q", r.Kind)
	}
}

// add sums two TOML numbers. A missing value counts as zero; the result stays
// an integer while both operands are integers.
func add(current, delta any) (any, error) {
	if current == nil {
		current = int64(0)
	}
	ci, cf, cInt, err := number(current)
	if err != nil {
		return nil, err
	}
	di, df, dInt, err := number(delta)
	if err != nil {
		return nil, err
	}
	if cInt && dInt {
		return ci + di, nil
	}
	return cf + df, nil
}

func number(v any) (int64, float64, bool, error) {
	switch n := v.(type) {
	case int:
		return int64(n), float64(n), true, nil
	case int64:
		return n, float64(n), true, nil
	case float64:
		return 0, n, false, nil
	default:
		return 0, 0, false, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}
