// Package script drives a globalstate.Manager through the steps of a
// config.Script and records what each step did.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/jilio/globalstate"
	"github.com/jilio/globalstate/internal/config"
)

// StepResult is what one step did to the store.
type StepResult struct {
	Index    int                  `json:"step"`
	Action   string               `json:"action"`
	Target   string               `json:"target,omitempty"`
	Changes  []globalstate.Change `json:"changes,omitempty"`
	Notified []string             `json:"notified,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	Name  string            `json:"name"`
	Steps []StepResult      `json:"steps"`
	State globalstate.State `json:"state"`
}

// Runner owns a Manager built from a script.
type Runner struct {
	script   config.Script
	m        *globalstate.Manager
	trackers map[string]*globalstate.Tracker

	mu      sync.Mutex
	current *StepResult
}

// New builds the Manager described by s. opts are applied after the script's
// own name and initial state, so they may override them.
func New(s config.Script, opts ...globalstate.Option) (*Runner, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	reducers := make(map[string]globalstate.Reducer, len(s.Reducers))
	for _, decl := range s.Reducers {
		fn, err := NewReducer(decl)
		if err != nil {
			return nil, fmt.Errorf("reducer %q: %w", decl.Name, err)
		}
		reducers[decl.Name] = fn
	}

	base := []globalstate.Option{
		globalstate.WithName(s.Name),
		globalstate.WithInitialState(s.State),
		globalstate.WithReducers(reducers),
	}
	r := &Runner{
		script:   s,
		m:        globalstate.New(append(base, opts...)...),
		trackers: make(map[string]*globalstate.Tracker, len(s.Subscribers)),
	}

	for _, sub := range s.Subscribers {
		r.subscribe(sub)
	}

	r.m.AddCallback(func(_ context.Context, ev globalstate.Event) globalstate.State {
		r.mu.Lock()
		if r.current != nil {
			r.current.Changes = append(r.current.Changes, ev.Changes...)
		}
		r.mu.Unlock()
		return nil
	})

	return r, nil
}

func (r *Runner) subscribe(sub config.Subscriber) {
	var opts []globalstate.DispatcherOption
	if sub.Once {
		opts = append(opts, globalstate.Once())
	}
	if sub.Async {
		opts = append(opts, globalstate.Async(true))
	}

	name := sub.Name
	t := r.m.Register(func(context.Context, globalstate.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current != nil {
			r.current.Notified = append(r.current.Notified, name)
		}
	}, opts...)

	t.Begin()
	for _, key := range sub.Keys {
		t.Use(key)
	}
	r.trackers[name] = t
}

// Manager returns the store the runner drives.
func (r *Runner) Manager() *globalstate.Manager {
	return r.m
}

// Run executes every step in order. When the script stops on error, the
// report covers the steps up to and including the failing one.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{Name: r.m.Name()}

	for i, step := range r.script.Steps {
		res, err := r.runStep(ctx, i+1, step)
		report.Steps = append(report.Steps, res)
		if err != nil && r.script.StopOnError {
			report.State = r.m.State()
			return report, fmt.Errorf("step %d (%s): %w", i+1, res.Action, err)
		}
	}

	report.State = r.m.State()
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, index int, step config.Step) (StepResult, error) {
	res := &StepResult{Index: index, Action: step.Action()}

	r.mu.Lock()
	r.current = res
	r.mu.Unlock()

	var err error
	switch res.Action {
	case "set":
		_, err = r.m.Set(ctx, globalstate.Partial(step.Set))
	case "reduce":
		res.Target = step.Reduce
		_, err = r.m.Set(ctx, globalstate.Reduce(step.Reduce, step.Args...))
		if errors.Is(err, globalstate.ErrUnknownReducer) {
			if near := closest(step.Reduce, r.m.Reducers()); near != "" {
				err = fmt.Errorf("%w (did you mean %q?)", err, near)
			}
		}
	case "reset":
		r.m.Reset()
	case "remove":
		res.Target = step.Remove
		if t, ok := r.trackers[step.Remove]; ok {
			t.Close()
		}
	default:
		err = fmt.Errorf("%w: step has no action", config.ErrInvalidScript)
	}

	r.m.WaitAsync()

	r.mu.Lock()
	r.current = nil
	out := *res
	r.mu.Unlock()

	if err != nil {
		out.Error = err.Error()
	}
	return out, err
}

// closest returns the name within two edits of name, if any.
func closest(name string, names []string) string {
	best, bestDist := "", 3
	for _, candidate := range names {
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}
