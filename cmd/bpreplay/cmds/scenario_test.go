package cmds

import (
	"bytes"
	"strings"
	"testing"
)

func assertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("failed assertion %s: %v", s, err)
	}
}

func TestParseStep(t *testing.T) {
	st, err := ParseStep(`cond bp1 "x > 5 and y == 'a b'"`)
	assertNoError(err, t, "ParseStep")
	if st.Verb != "cond" || len(st.Args) != 2 || st.Args[1] != "x > 5 and y == 'a b'" {
		t.Fatalf("unexpected step %#v", st)
	}

	for _, in := range []string{"", "jump 1", "hit 1 p.A", "load", `cond bp1 "x`} {
		if _, err := ParseStep(in); err == nil {
			t.Errorf("%q: expected an error", in)
		}
	}
}

func TestParseScenarioErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":  "typez: []\n",
		"duplicate name": "breakpoints:\n  - {name: a, type: p.A, line: 1}\n  - {name: a, type: p.A, line: 2}\n",
		"missing name":   "breakpoints:\n  - {type: p.A, line: 1}\n",
		"bad step":       "steps:\n  - fly away\n",
	}
	for name, in := range tests {
		if _, err := ParseScenario([]byte(in)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestReplayBasic(t *testing.T) {
	sc, err := LoadScenario("testdata/basic.yml")
	assertNoError(err, t, "LoadScenario")
	cfg, err := sc.Config.EngineConfig()
	assertNoError(err, t, "EngineConfig")

	var buf bytes.Buffer
	r, err := newReplayer(sc, cfg, &buf, false)
	assertNoError(err, t, "newReplayer")
	assertNoError(r.run(), t, "run")

	out := buf.String()
	t.Log(out)
	for _, name := range []string{"b1", "cond", "w", "ex"} {
		if n := strings.Count(out, "suspended by "+name+":"); n != 1 {
			t.Errorf("%s suspended %d times", name, n)
		}
	}
	for _, want := range []string{
		"b1\tline\texpired",
		"w\twatchpoint\tdisabled",
		"removed ex",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q", want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colored output on a non terminal writer")
	}
}

func TestReplayUnknownBreakpoint(t *testing.T) {
	sc, err := ParseScenario([]byte("steps:\n  - disable nope\n"))
	assertNoError(err, t, "ParseScenario")
	cfg, err := sc.Config.EngineConfig()
	assertNoError(err, t, "EngineConfig")
	var buf bytes.Buffer
	r, err := newReplayer(sc, cfg, &buf, false)
	assertNoError(err, t, "newReplayer")
	if err := r.run(); err == nil || !strings.Contains(err.Error(), "unknown breakpoint nope") {
		t.Fatalf("unexpected error %v", err)
	}
}
