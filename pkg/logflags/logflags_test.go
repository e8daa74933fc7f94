package logflags

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func resetFlags() {
	engine, install, dispatch, condition, dap = false, false, false, false, false
}

func TestLoggerFactoryReceivesLevelAndFields(t *testing.T) {
	defer func() { loggerFactory = nil }()
	out := &bufferWriter{}
	logOut = out
	defer func() { logOut = nil }()

	want := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, w io.Writer) Logger {
		if level != logrus.DebugLevel {
			t.Fatalf("expected level %v, got %v", logrus.DebugLevel, level)
		}
		if fields["layer"] != "dispatch" {
			t.Fatalf("unexpected fields %v", fields)
		}
		if w != out {
			t.Fatalf("expected output %v, got %v", out, w)
		}
		return want
	})

	if got := makeFlaggableLogger(true, Fields{"layer": "dispatch"}); got != want {
		t.Fatalf("factory logger not returned: %v", got)
	}
}

func TestDisabledLayerOnlyReportsErrors(t *testing.T) {
	resetFlags()
	l := InstallLogger().(*logrusLogger)
	if l.Entry.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected error level, got %v", l.Entry.Logger.Level)
	}
	if l.Entry.Data["layer"] != "install" {
		t.Fatalf("unexpected data %v", l.Entry.Data)
	}
	if l.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("unexpected formatter %v", l.Entry.Logger.Formatter)
	}
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	resetFlags()
	if err := Setup(false, "dispatch", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}

	resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Engine() || Dispatch() {
		t.Fatalf("default log output should only enable the engine layer")
	}

	resetFlags()
	if err := Setup(true, "install,dispatch,condition,dap", ""); err != nil {
		t.Fatal(err)
	}
	if Engine() || !Install() || !Dispatch() || !Condition() || !DAP() {
		t.Fatalf("wrong layers enabled: engine=%v install=%v dispatch=%v condition=%v dap=%v", Engine(), Install(), Dispatch(), Condition(), DAP())
	}
	l := DispatchLogger().(*logrusLogger)
	if l.Entry.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", l.Entry.Logger.Level)
	}
}

func TestTextFormatter(t *testing.T) {
	out := &bufferWriter{}
	logOut = out
	defer func() { logOut = nil }()

	makeLogger(logrus.DebugLevel, Fields{"layer": "engine"}).Infof("attached %s", "t1")
	s := out.String()
	if !strings.Contains(s, "info layer=engine attached t1") {
		t.Fatalf("unexpected log line %q", s)
	}
}
