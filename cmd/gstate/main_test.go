package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jilio/globalstate"
	"github.com/jilio/globalstate/internal/script"
	"github.com/rs/zerolog"
)

const counterScript = `
name = "counter"

[state]
count = 0

[[reducer]]
name = "inc"
kind = "increment"
key = "count"

[[subscriber]]
name = "badge"
keys = ["count"]

[[step]]
reduce = "inc"
args = [4]

[[step]]
set = { label = "four" }
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunScriptText(t *testing.T) {
	var out bytes.Buffer
	err := runScript(context.Background(), &out, zerolog.Nop(), writeScript(t, counterScript), runOptions{})
	if err != nil {
		t.Fatalf("runScript() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"script counter",
		"step 1: reduce inc",
		"~ count: 0 -> 4",
		"notified: badge",
		"step 2: set",
		"+ label = four",
		`"count": 4`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunScriptJSON(t *testing.T) {
	var out bytes.Buffer
	err := runScript(context.Background(), &out, zerolog.Nop(), writeScript(t, counterScript), runOptions{json: true})
	if err != nil {
		t.Fatalf("runScript() error: %v", err)
	}

	var report script.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, out.String())
	}
	if report.Name != "counter" || len(report.Steps) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if c := report.Steps[0].Changes; len(c) != 1 || c[0].Op != globalstate.OpUpdate {
		t.Errorf("step 1 changes = %+v", c)
	}
}

func TestRunScriptMetrics(t *testing.T) {
	var out bytes.Buffer
	err := runScript(context.Background(), &out, zerolog.Nop(), writeScript(t, counterScript), runOptions{metrics: true})
	if err != nil {
		t.Fatalf("runScript() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"# TYPE globalstate_sets_total counter",
		`globalstate_sets_total{kind="reducer",status="success",store="counter"} 1`,
		`globalstate_dispatches_total{async="false",store="counter"} 1`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("metrics output missing %q:\n%s", want, got)
		}
	}
}

func TestRunScriptTrace(t *testing.T) {
	var out bytes.Buffer
	err := runScript(context.Background(), &out, zerolog.Nop(), writeScript(t, counterScript), runOptions{trace: true})
	if err != nil {
		t.Fatalf("runScript() error: %v", err)
	}

	got := out.String()
	for _, want := range []string{`"Name": "globalstate.set: reducer"`, `"Name": "globalstate.dispatch"`} {
		if !strings.Contains(got, want) {
			t.Errorf("trace output missing %q", want)
		}
	}
}

func TestRunScriptFailingStep(t *testing.T) {
	var out bytes.Buffer
	path := writeScript(t, `
[[step]]
reduce = "missing"
`)
	err := runScript(context.Background(), &out, zerolog.Nop(), path, runOptions{})
	if !errors.Is(err, globalstate.ErrUnknownReducer) {
		t.Fatalf("runScript() error = %v, want ErrUnknownReducer", err)
	}
	if !strings.Contains(out.String(), "error:") {
		t.Errorf("failing step not printed:\n%s", out.String())
	}
}

func TestRunScriptMissingFile(t *testing.T) {
	err := runScript(context.Background(), io.Discard, zerolog.Nop(), filepath.Join(t.TempDir(), "nope.toml"), runOptions{})
	if err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestRunCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"run", writeScript(t, counterScript), "--json"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.String(), `"name": "counter"`) {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "script loaded") {
		t.Errorf("log output missing:\n%s", errOut.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version = %q, want %q", got, version)
	}
}
