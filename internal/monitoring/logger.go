// Package monitoring holds the process-wide logging configuration. Each
// package owns its own ops/diag/trace loggers; this package fans a single
// LogWriters bundle out to all of them.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
// A nil writer disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Configurer is the signature of a package-level SetLogWriters function.
type Configurer func(ops, diag, trace io.Writer)

var (
	mu          sync.Mutex
	configurers []Configurer
	current     LogWriters
)

// Logf is the process-level ops logger used by commands. It defaults to
// log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Register adds a package configurer. It is immediately applied with the
// current writers so late registration does not miss a Configure call.
func Register(c Configurer) {
	if c == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	configurers = append(configurers, c)
	c(current.Ops, current.Diag, current.Trace)
}

// Configure applies w to every registered package.
func Configure(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	current = w
	for _, c := range configurers {
		c(w.Ops, w.Diag, w.Trace)
	}
}

// Current returns the writers last passed to Configure.
func Current() LogWriters {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// OpenTraceFile opens path for appending trace output. The caller closes it.
func OpenTraceFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log %s: %w", path, err)
	}
	return f, nil
}
