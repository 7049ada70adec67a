package script

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jilio/globalstate"
	"github.com/jilio/globalstate/internal/config"
)

func mustParse(t *testing.T, src string) config.Script {
	t.Helper()
	s, err := config.Parse(src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return s
}

const counter = `
name = "counter"

[state]
count = 0
open = false

[[reducer]]
name = "inc"
kind = "increment"
key = "count"

[[reducer]]
name = "flip"
kind = "toggle"
key = "open"

[[reducer]]
name = "title"
kind = "assign"
key = "title"

[[subscriber]]
name = "badge"
keys = ["count"]

[[subscriber]]
name = "panel"
keys = ["open", "title"]

[[subscriber]]
name = "idle"

[[step]]
reduce = "inc"

[[step]]
reduce = "inc"
args = [10]

[[step]]
reduce = "flip"

[[step]]
set = { title = "hello", count = 1 }

[[step]]
remove = "badge"

[[step]]
set = { count = 2 }

[[step]]
reset = true
`

func TestRun(t *testing.T) {
	r, err := New(mustParse(t, counter))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Name != "counter" {
		t.Errorf("Name = %q", report.Name)
	}

	wantNotified := [][]string{
		{"badge"},
		{"badge"},
		{"panel"},
		{"badge", "panel"},
		nil,
		nil,
		nil,
	}
	if len(report.Steps) != len(wantNotified) {
		t.Fatalf("len(Steps) = %d, want %d", len(report.Steps), len(wantNotified))
	}
	for i, want := range wantNotified {
		if got := report.Steps[i].Notified; !reflect.DeepEqual(got, want) {
			t.Errorf("step %d notified = %v, want %v", i+1, got, want)
		}
	}

	second := report.Steps[1]
	if len(second.Changes) != 1 || second.Changes[0].Value != int64(11) || second.Changes[0].OldValue != int64(1) {
		t.Errorf("step 2 changes = %+v", second.Changes)
	}
	if second.Target != "inc" {
		t.Errorf("step 2 target = %q", second.Target)
	}

	fourth := report.Steps[3]
	if len(fourth.Changes) != 2 || fourth.Changes[0].Key != "count" || fourth.Changes[1].Op != globalstate.OpInsert {
		t.Errorf("step 4 changes = %+v", fourth.Changes)
	}

	if report.Steps[6].Changes != nil {
		t.Errorf("reset should not report changes, got %+v", report.Steps[6].Changes)
	}
	if report.State["count"] != int64(0) || report.State["open"] != false {
		t.Errorf("final state = %v, want initial", report.State)
	}
	if _, ok := report.State["title"]; ok {
		t.Error("reset kept a key absent from the initial state")
	}
}

func TestRunStopOnError(t *testing.T) {
	r, err := New(mustParse(t, `
[[step]]
reduce = "missing"

[[step]]
set = { a = 1 }
`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := r.Run(context.Background())
	if !errors.Is(err, globalstate.ErrUnknownReducer) {
		t.Fatalf("Run() error = %v, want ErrUnknownReducer", err)
	}
	if len(report.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(report.Steps))
	}
	if report.Steps[0].Error == "" {
		t.Error("step error not recorded")
	}
	if len(report.State) != 0 {
		t.Errorf("state = %v, want empty", report.State)
	}
}

func TestRunSuggestsReducer(t *testing.T) {
	r, err := New(mustParse(t, `
[[reducer]]
name = "increment"
kind = "increment"
key = "n"

[[step]]
reduce = "incremnt"
`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Run(context.Background())
	if !errors.Is(err, globalstate.ErrUnknownReducer) {
		t.Fatalf("Run() error = %v, want ErrUnknownReducer", err)
	}
	if !strings.Contains(err.Error(), `did you mean "increment"?`) {
		t.Errorf("error %q has no suggestion", err)
	}
}

func TestClosest(t *testing.T) {
	names := []string{"flip", "increment", "rename"}
	tests := map[string]string{
		"flip":     "flip",
		"flp":      "flip",
		"renam":    "rename",
		"decrease": "",
	}
	for in, want := range tests {
		if got := closest(in, names); got != want {
			t.Errorf("closest(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunContinueOnError(t *testing.T) {
	r, err := New(mustParse(t, `
stop_on_error = false

[[reducer]]
name = "inc"
kind = "increment"
key = "label"

[state]
label = "text"

[[step]]
reduce = "inc"

[[step]]
set = { a = 1 }
`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(report.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(report.Steps))
	}
	if report.Steps[0].Error == "" {
		t.Error("increment of a string should fail")
	}
	if report.State["a"] != int64(1) || report.State["label"] != "text" {
		t.Errorf("state = %v", report.State)
	}
}

func TestRunOnceAndAsyncSubscribers(t *testing.T) {
	r, err := New(mustParse(t, `
[[subscriber]]
name = "first"
keys = ["x"]
once = true

[[subscriber]]
name = "worker"
keys = ["x"]
async = true

[[step]]
set = { x = 1 }

[[step]]
set = { x = 2 }
`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	first := map[string]bool{}
	for _, name := range report.Steps[0].Notified {
		first[name] = true
	}
	if !first["first"] || !first["worker"] || len(report.Steps[0].Notified) != 2 {
		t.Errorf("step 1 notified = %v", report.Steps[0].Notified)
	}
	if got := report.Steps[1].Notified; !reflect.DeepEqual(got, []string{"worker"}) {
		t.Errorf("step 2 notified = %v, want [worker]", got)
	}
	if r.Manager().Len() != 1 {
		t.Errorf("Len() = %d, want 1 after once subscriber fired", r.Manager().Len())
	}
}

func TestNewOptionsOverride(t *testing.T) {
	r, err := New(mustParse(t, `name = "file"`), globalstate.WithName("override"))
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Manager().Name(); got != "override" {
		t.Errorf("Name() = %q, want override", got)
	}
}

func TestNewRejectsInvalidScript(t *testing.T) {
	s := config.Default()
	s.Reducers = []config.Reducer{{Name: "x", Kind: "square", Key: "k"}}
	if _, err := New(s); !errors.Is(err, config.ErrInvalidScript) {
		t.Fatalf("New() error = %v, want ErrInvalidScript", err)
	}
}

func TestNewReducer(t *testing.T) {
	tests := []struct {
		name    string
		decl    config.Reducer
		state   globalstate.State
		args    []any
		want    globalstate.State
		wantErr bool
	}{
		{"toggle missing", config.Reducer{Kind: config.KindToggle, Key: "on"}, globalstate.State{}, nil, globalstate.State{"on": true}, false},
		{"toggle true", config.Reducer{Kind: config.KindToggle, Key: "on"}, globalstate.State{"on": true}, nil, globalstate.State{"on": false}, false},
		{"increment default", config.Reducer{Kind: config.KindIncrement, Key: "n", By: int64(1)}, globalstate.State{"n": int64(4)}, nil, globalstate.State{"n": int64(5)}, false},
		{"increment arg", config.Reducer{Kind: config.KindIncrement, Key: "n", By: int64(1)}, globalstate.State{"n": int64(4)}, []any{int64(3)}, globalstate.State{"n": int64(7)}, false},
		{"increment float", config.Reducer{Kind: config.KindIncrement, Key: "n", By: 0.5}, globalstate.State{"n": int64(1)}, nil, globalstate.State{"n": 1.5}, false},
		{"increment missing key", config.Reducer{Kind: config.KindIncrement, Key: "n", By: int64(2)}, globalstate.State{}, nil, globalstate.State{"n": int64(2)}, false},
		{"increment string", config.Reducer{Kind: config.KindIncrement, Key: "n", By: int64(1)}, globalstate.State{"n": "x"}, nil, nil, true},
		{"assign", config.Reducer{Kind: config.KindAssign, Key: "t"}, globalstate.State{}, []any{"hi"}, globalstate.State{"t": "hi"}, false},
		{"assign no args", config.Reducer{Kind: config.KindAssign, Key: "t"}, globalstate.State{}, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := NewReducer(tt.decl)
			if err != nil {
				t.Fatalf("NewReducer() error: %v", err)
			}
			got, err := fn(tt.state, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("reducer error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("reducer = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := NewReducer(config.Reducer{Kind: "square"}); err == nil {
		t.Error("expected error for unsupported kind")
	}
}
