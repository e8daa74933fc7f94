package config

import (
	"strings"
	"testing"
	"time"

	"github.com/go-delve/bpengine/pkg/target"
)

func TestParseEngineConfig(t *testing.T) {
	c, err := Parse([]byte(`
eval-timeout: 2s
eval-tick: 100ms
condition-cache-size: 16
nested-type-search: false
default-suspend-policy: all
suspend-on-condition-error: false
`))
	if err != nil {
		t.Fatal(err)
	}
	ec, err := c.EngineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if ec.EvalTimeout != 2*time.Second || ec.EvalTick != 100*time.Millisecond {
		t.Fatalf("bad durations: %v %v", ec.EvalTimeout, ec.EvalTick)
	}
	if ec.ConditionCacheSize != 16 || ec.NestedTypeSearch || ec.SuspendOnConditionError {
		t.Fatalf("bad values: %+v", ec)
	}
	if ec.DefaultSuspendPolicy != target.SuspendAll {
		t.Fatalf("bad suspend policy %v", ec.DefaultSuspendPolicy)
	}
}

func TestEngineConfigDefaults(t *testing.T) {
	c, err := Parse([]byte("# nothing\n"))
	if err != nil {
		t.Fatal(err)
	}
	ec, err := c.EngineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if ec.EvalTimeout != 5*time.Second || ec.ConditionCacheSize != 256 || !ec.NestedTypeSearch || !ec.SuspendOnConditionError {
		t.Fatalf("unexpected defaults %+v", ec)
	}
}

func TestEngineConfigErrors(t *testing.T) {
	for _, in := range []string{
		"eval-timeout: soon",
		"condition-cache-size: 0",
		"default-suspend-policy: vm",
	} {
		c, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if _, err := c.EngineConfig(); err == nil {
			t.Errorf("%q: expected an error", in)
		}
	}
}

func TestDefaultConfigParses(t *testing.T) {
	var sb strings.Builder
	if err := writeDefaultConfig(&sb); err != nil {
		t.Fatal(err)
	}
	c, err := Parse([]byte(sb.String()))
	if err != nil {
		t.Fatal(err)
	}
	if *c != (Config{}) {
		t.Fatalf("default config is not empty: %+v", c)
	}
}
