// Package snapshotlog appends human-readable diagnostic snapshots of the
// monitor's watch set to a text file.
package snapshotlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/orgixmh/lgmpclient/internal/monitor"
)

// Writer appends snapshot blocks to one UTF-8 text file.
type Writer struct {
	path string
	mu   sync.Mutex
}

// Open ensures the parent directory exists and returns a Writer over
// path. The file itself is created lazily on the first Write.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Writer{path: path}, nil
}

// Write appends one snapshot block. label is NFC-normalized before
// formatting so operator-supplied text (often pasted from another
// keyboard layout or IME) compares and sorts consistently across tools.
func (w *Writer) Write(now time.Time, label string, cls monitor.Classification, fps float64, flagOff, flagMask uint32, entries []monitor.WatchEntry) error {
	label = norm.NFC.String(label)

	var b strings.Builder
	header := fmt.Sprintf("=== SNAPSHOT %s", now.Format("2006-01-02 15:04:05"))
	if label != "" {
		header += fmt.Sprintf(" [%s]", label)
	}
	header += " ==="
	b.WriteString(header + "\n")

	b.WriteString(fmt.Sprintf("status=%s (%s); fps=%.1f\n", cls.Status, cls.Reason, fps))

	var flagRaw uint32
	for _, e := range entries {
		if e.Offset == flagOff {
			flagRaw = e.Current
			break
		}
	}
	b.WriteString(fmt.Sprintf("flag 0x%08X & 0x%08X => 0x%08X (raw=0x%08X)\n", flagOff, flagMask, flagRaw&flagMask, flagRaw))

	for _, e := range entries {
		if !e.HasPredicate {
			continue
		}
		verdict := "FAIL"
		if e.PredicateOK {
			verdict = "OK"
		}
		b.WriteString(fmt.Sprintf("pred  0x%08X: cur=0x%08X, require %s -> %s\n", e.Offset, e.Current, e.PredicateDesc, verdict))
	}

	for _, e := range entries {
		b.WriteString(fmt.Sprintf("addr 0x%08X: current=0x%08X\n", e.Offset, e.Current))
		for i, s := range e.History {
			b.WriteString(fmt.Sprintf("  -#%d 0x%08X @ %s\n", i+1, s.Value, s.Time.Format("15:04:05.000")))
		}
	}
	b.WriteString("\n")

	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
