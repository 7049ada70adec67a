// Package config loads scripted store sessions from TOML files.
//
//	name = "counter"
//	stop_on_error = false
//
//	[state]
//	count = 0
//
//	[[reducer]]
//	name = "inc"
//	kind = "increment"
//	key = "count"
//	by = 1
//
//	[[subscriber]]
//	name = "badge"
//	keys = ["count"]
//
//	[[step]]
//	reduce = "inc"
//	args = [2]
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ReducerKind selects one of the built-in reducer shapes a script can declare.
type ReducerKind string

const (
	KindToggle    ReducerKind = "toggle"    // key = !key
	KindIncrement ReducerKind = "increment" // key += by (or the first arg)
	KindAssign    ReducerKind = "assign"    // key = first arg
)

var (
	// ErrInvalidScript is wrapped by every validation failure.
	ErrInvalidScript = errors.New("invalid script")
)

// Script is a decoded script file.
type Script struct {
	Name        string
	StopOnError bool
	State       map[string]any
	Reducers    []Reducer
	Subscribers []Subscriber
	Steps       []Step
}

// Reducer declares a named reducer acting on one key.
type Reducer struct {
	Name string      `toml:"name"`
	Kind ReducerKind `toml:"kind"`
	Key  string      `toml:"key"`
	By   any         `toml:"by"` // int64 or float64
}

// Subscriber declares a dispatcher that reads Keys.
type Subscriber struct {
	Name  string   `toml:"name"`
	Keys  []string `toml:"keys"`
	Once  bool     `toml:"once"`
	Async bool     `toml:"async"`
}

// Step is one action of a script. Exactly one of Set, Reduce, Reset and
// Remove is given.
type Step struct {
	Set    map[string]any `toml:"set"`
	Reduce string         `toml:"reduce"`
	Args   []any          `toml:"args"`
	Reset  bool           `toml:"reset"`
	Remove string         `toml:"remove"`
}

// Action names what the step does.
func (s Step) Action() string {
	switch {
	case s.Set != nil:
		return "set"
	case s.Reduce != "":
		return "reduce"
	case s.Reset:
		return "reset"
	case s.Remove != "":
		return "remove"
	default:
		return ""
	}
}

// fileConfig is the raw TOML layout.
type fileConfig struct {
	Name        string         `toml:"name"`
	StopOnError bool           `toml:"stop_on_error"`
	State       map[string]any `toml:"state"`
	Reducers    []Reducer      `toml:"reducer"`
	Subscribers []Subscriber   `toml:"subscriber"`
	Steps       []Step         `toml:"step"`
}

// Default returns the settings used for keys a file leaves out.
func Default() Script {
	return Script{
		Name:        "script",
		StopOnError: true,
		State:       map[string]any{},
	}
}

// Load reads and validates the script at path.
func Load(path string) (Script, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Script{}, fmt.Errorf("load script: %w", err)
	}
	return build(raw, meta)
}

// Parse decodes and validates a script held in memory.
func Parse(data string) (Script, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	return build(raw, meta)
}

func build(raw fileConfig, meta toml.MetaData) (Script, error) {
	s := Default()

	if meta.IsDefined("name") {
		s.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("stop_on_error") {
		s.StopOnError = raw.StopOnError
	}
	if raw.State != nil {
		s.State = raw.State
	}
	s.Reducers = raw.Reducers
	s.Subscribers = raw.Subscribers
	s.Steps = raw.Steps

	for i := range s.Reducers {
		r := &s.Reducers[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Key = strings.TrimSpace(r.Key)
		r.Kind = ReducerKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
		if r.Kind == KindIncrement && r.By == nil {
			r.By = int64(1)
		}
	}
	for i := range s.Subscribers {
		s.Subscribers[i].Name = strings.TrimSpace(s.Subscribers[i].Name)
	}

	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Validate reports the first problem found in s.
func (s Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidScript)
	}

	reducers := make(map[string]struct{}, len(s.Reducers))
	for i, r := range s.Reducers {
		if r.Name == "" {
			return fmt.Errorf("%w: reducer %d has no name", ErrInvalidScript, i)
		}
		if _, dup := reducers[r.Name]; dup {
			return fmt.Errorf("%w: duplicate reducer %q", ErrInvalidScript, r.Name)
		}
		reducers[r.Name] = struct{}{}

		switch r.Kind {
		case KindToggle, KindIncrement, KindAssign:
		default:
			return fmt.Errorf("%w: reducer %q has unsupported kind %q (expected toggle, increment or assign)",
				ErrInvalidScript, r.Name, r.Kind)
		}
		if r.Key == "" {
			return fmt.Errorf("%w: reducer %q has no key", ErrInvalidScript, r.Name)
		}
		switch r.By.(type) {
		case nil, int64, float64:
		default:
			return fmt.Errorf("%w: reducer %q: by must be a number, got %T", ErrInvalidScript, r.Name, r.By)
		}
	}

	subscribers := make(map[string]struct{}, len(s.Subscribers))
	for i, sub := range s.Subscribers {
		if sub.Name == "" {
			return fmt.Errorf("%w: subscriber %d has no name", ErrInvalidScript, i)
		}
		if _, dup := subscribers[sub.Name]; dup {
			return fmt.Errorf("%w: duplicate subscriber %q", ErrInvalidScript, sub.Name)
		}
		subscribers[sub.Name] = struct{}{}
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("%w: step %d must have exactly one of set, reduce, reset or remove (has %d)",
				ErrInvalidScript, i+1, n)
		}
		if step.Remove != "" {
			if _, ok := subscribers[step.Remove]; !ok {
				return fmt.Errorf("%w: step %d removes unknown subscriber %q", ErrInvalidScript, i+1, step.Remove)
			}
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	if s.Set != nil {
		n++
	}
	if s.Reduce != "" {
		n++
	}
	if s.Reset {
		n++
	}
	if s.Remove != "" {
		n++
	}
	return n
}
