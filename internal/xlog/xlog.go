// Package xlog hands out component-tagged loggers over the standard
// library's log package, the way the original client tagged each
// subsystem's stderr output with a bracketed name.
package xlog

import (
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	mu    sync.Mutex
	runID string
)

// SetRunID tags every logger created after this call with a run
// correlation id, so lines from separate process invocations against
// the same log sink (or a shared snapshot log) can be told apart. It
// is meant to be called once, early in main.
func SetRunID(id string) {
	mu.Lock()
	defer mu.Unlock()
	runID = id
}

// NewRunID generates a fresh correlation id suitable for SetRunID.
func NewRunID() string {
	return uuid.NewString()
}

// New returns a *log.Logger prefixed with "[component] " (or
// "[component run=<id>] " once SetRunID has been called), writing to
// stderr with a timestamp. The CLI creates one each for main, the shell,
// and the supervisor; the supervisor's logger is shared with the ack
// pump and monitor it starts.
func New(component string) *log.Logger {
	mu.Lock()
	id := runID
	mu.Unlock()

	prefix := "[" + component + "] "
	if id != "" {
		prefix = "[" + component + " run=" + id + "] "
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
