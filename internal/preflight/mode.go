package preflight

import (
	"time"

	"github.com/orgixmh/lgmpclient/internal/segment"
)

// Mode is one of the three fixed ACK write-sequence templates.
type Mode string

const (
	ModeInc32   Mode = "inc32"
	ModeMirror  Mode = "mirror"
	ModeToggle1 Mode = "toggle1"
)

// Modes lists every mode in the fixed scan order used for scoring.
var Modes = []Mode{ModeInc32, ModeMirror, ModeToggle1}

const dwell = 1500 * time.Microsecond

// ApplyMode runs one iteration of mode's write sequence against off, keyed
// on the producer index idx. counter is the caller-owned monotonically
// incrementing state inc32 folds into its fourth write; pass the same
// pointer across calls from the same writer (preflight scoring, or the
// ack pump) so it keeps advancing.
func ApplyMode(seg *segment.Segment, off uint32, mode Mode, idx uint32, counter *uint32) error {
	switch mode {
	case ModeInc32:
		*counter++
		lcg := idx*1103515245 + 12345
		for _, v := range [...]uint32{lcg, idx, idx + 1, *counter} {
			if err := seg.WriteU32(off, v); err != nil {
				return err
			}
			time.Sleep(dwell)
		}
	case ModeMirror:
		for _, v := range [...]uint32{idx, idx + 1, idx} {
			if err := seg.WriteU32(off, v); err != nil {
				return err
			}
			time.Sleep(dwell)
		}
	case ModeToggle1:
		v := uint32(0x55555555)
		if idx&1 == 0 {
			v = 0xAAAAAAAA
		}
		if err := seg.WriteU32(off, v); err != nil {
			return err
		}
		time.Sleep(dwell)
	}
	return nil
}
