package monitoring

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestRegisterAndConfigure(t *testing.T) {
	saved := configurers
	savedCurrent := current
	defer func() {
		configurers = saved
		current = savedCurrent
	}()
	configurers = nil
	current = LogWriters{}

	var gotOps, gotTrace io.Writer
	calls := 0
	Register(func(ops, diag, trace io.Writer) {
		calls++
		gotOps, gotTrace = ops, trace
	})
	if calls != 1 {
		t.Fatalf("Register should apply current writers immediately, calls=%d", calls)
	}

	var ops bytes.Buffer
	Configure(LogWriters{Ops: &ops})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if gotOps != &ops {
		t.Error("ops writer not forwarded")
	}
	if gotTrace != nil {
		t.Error("trace writer should be nil")
	}
	if Current().Ops != &ops {
		t.Error("Current() did not return configured writers")
	}

	Register(nil)
	if len(configurers) != 1 {
		t.Errorf("nil configurer should be ignored, have %d", len(configurers))
	}
}

func TestOpenTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	f, err := OpenTraceFile(path)
	if err != nil {
		t.Fatalf("OpenTraceFile: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("x\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := OpenTraceFile(filepath.Join(t.TempDir(), "missing", "trace.log")); err == nil {
		t.Error("expected error for missing directory")
	}
}
