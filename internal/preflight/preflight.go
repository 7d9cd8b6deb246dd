// Package preflight discovers the acknowledgement word and write mode a
// producer needs to see before it will advance its frame index. It
// never touches the producer's index word itself.
package preflight

import (
	"context"
	"errors"
	"time"

	"github.com/orgixmh/lgmpclient/internal/profile"
	"github.com/orgixmh/lgmpclient/internal/segment"
)

// ErrAckNotFound is returned when no candidate in the ranges nor the
// bounded fallback beats the producer's idle drift by at least Margin.
var ErrAckNotFound = errors.New("preflight: no ack candidate passed the margin test")

// Config parameterizes one preflight run. Zero-value fields that matter
// for correctness (Margin, durations) should come from DefaultConfig.
type Config struct {
	IdxOff   uint32
	FlagOff  uint32
	FlagMask uint32
	SetBits  map[uint32]uint32
	Ranges   []profile.Range
	Fallback profile.Range

	Margin       uint32
	PumpDuration time.Duration
	Interval     time.Duration
	QuietWindow  time.Duration
	PulseWindow  time.Duration
	PollStep     time.Duration
}

// DefaultConfig returns the built-in discovery defaults.
func DefaultConfig() Config {
	return Config{
		IdxOff:       profile.IdxOffDefault,
		FlagOff:      profile.FlagOffDefault,
		FlagMask:     profile.FlagMaskDefault,
		SetBits:      profile.SetBits,
		Ranges:       profile.AckRangesDefault,
		Fallback:     profile.AckFallbackDefault,
		Margin:       2,
		PumpDuration: 2 * time.Second,
		Interval:     20 * time.Millisecond,
		QuietWindow:  45 * time.Millisecond,
		PulseWindow:  45 * time.Millisecond,
		PollStep:     5 * time.Millisecond,
	}
}

// Result is what a successful preflight run hands to the ack pump.
type Result struct {
	AckOff      uint32
	Mode        Mode
	MarginScore uint32
}

// WarmBootAndFindAck runs the full sequence: assert connected, apply the
// stable set-bits, scan for the ack word, then warm-pump it briefly.
func WarmBootAndFindAck(ctx context.Context, seg *segment.Segment, cfg Config) (Result, error) {
	if err := ensureConnected(seg, cfg.FlagOff, cfg.FlagMask); err != nil {
		return Result{}, err
	}
	applySetBits(seg, cfg.SetBits, cfg.IdxOff)

	ackOff, mode, score, err := findAck(ctx, seg, cfg)
	if err != nil {
		return Result{}, err
	}

	if err := warmPump(ctx, seg, cfg.IdxOff, ackOff, mode, cfg.PumpDuration, cfg.Interval); err != nil {
		return Result{}, err
	}

	return Result{AckOff: ackOff, Mode: mode, MarginScore: score}, nil
}

func ensureConnected(seg *segment.Segment, flagOff, flagMask uint32) error {
	cur, err := seg.ReadU32(flagOff)
	if err != nil {
		return err
	}
	if cur&flagMask == 0 {
		return seg.WriteU32(flagOff, cur|flagMask)
	}
	return nil
}

// applySetBits is idempotent: a second call is a no-op because the OR
// mask is already present after the first.
func applySetBits(seg *segment.Segment, bits map[uint32]uint32, idxOff uint32) {
	for off, mask := range bits {
		if off == idxOff {
			continue
		}
		cur, err := seg.ReadU32(off)
		if err != nil {
			continue
		}
		if newv := cur | mask; newv != cur {
			_ = seg.WriteU32(off, newv)
		}
	}
}

func findAck(ctx context.Context, seg *segment.Segment, cfg Config) (off uint32, mode Mode, score uint32, err error) {
	tried := make(map[uint32]bool)

	scan := func(offsets []uint32) (uint32, Mode, uint32, bool, error) {
		for _, candidate := range offsets {
			if candidate == cfg.IdxOff || tried[candidate] {
				continue
			}
			tried[candidate] = true

			if ctx.Err() != nil {
				return 0, "", 0, false, ctx.Err()
			}

			dq, bestMode, dp, serr := scoreCandidate(ctx, seg, candidate, cfg)
			if serr != nil {
				if errors.Is(serr, context.Canceled) || errors.Is(serr, context.DeadlineExceeded) {
					return 0, "", 0, false, serr
				}
				continue
			}
			if dp >= dq+cfg.Margin {
				return candidate, bestMode, dp, true, nil
			}
		}
		return 0, "", 0, false, nil
	}

	for _, r := range cfg.Ranges {
		candidateOff, candidateMode, candidateScore, ok, serr := scan(r.Offsets())
		if serr != nil {
			return 0, "", 0, serr
		}
		if ok {
			return candidateOff, candidateMode, candidateScore, nil
		}
	}

	candidateOff, candidateMode, candidateScore, ok, serr := scan(cfg.Fallback.Offsets())
	if serr != nil {
		return 0, "", 0, serr
	}
	if ok {
		return candidateOff, candidateMode, candidateScore, nil
	}

	return 0, "", 0, ErrAckNotFound
}

// scoreCandidate measures the quiet-window drift of the producer index
// against the best pulse-window acceleration this offset can produce
// across all three modes, scanned in Modes order.
func scoreCandidate(ctx context.Context, seg *segment.Segment, off uint32, cfg Config) (dq uint32, bestMode Mode, bestDp uint32, err error) {
	dq, err = idxDelta(ctx, seg, cfg.IdxOff, cfg.QuietWindow, cfg.PollStep)
	if err != nil {
		return 0, "", 0, err
	}

	first := true
	for _, mode := range Modes {
		dp, perr := pulseOne(ctx, seg, off, mode, cfg.IdxOff, cfg.PulseWindow)
		if perr != nil {
			return dq, "", 0, perr
		}
		if first || dp > bestDp {
			bestDp, bestMode, first = dp, mode, false
		}
	}
	return dq, bestMode, bestDp, nil
}

// pulseOne drives a single (offset, mode) candidate for window and
// reports how far the producer's index moved. Shared by scoreCandidate
// (which tries every mode) and VerifyCached (which tries exactly one).
func pulseOne(ctx context.Context, seg *segment.Segment, off uint32, mode Mode, idxOff uint32, window time.Duration) (uint32, error) {
	p0, err := seg.ReadU32(idxOff)
	if err != nil {
		return 0, err
	}

	var counter uint32
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		idx, rerr := seg.ReadU32(idxOff)
		if rerr != nil {
			idx = p0
		}
		if werr := ApplyMode(seg, off, mode, idx, &counter); werr != nil {
			return 0, werr
		}
	}

	p1, rerr := seg.ReadU32(idxOff)
	if rerr != nil {
		p1 = p0
	}
	return p1 - p0, nil
}

// VerifyCached re-scores exactly one (offset, mode) candidate — the one
// a cache hit proposes — against the same quiet/pulse margin test a
// full scan uses, instead of trusting the cached row unconditionally.
// A producer that restarted with a different build or profile since the
// row was written will fail this check and the caller should fall
// through to a full WarmBootAndFindAck scan.
func VerifyCached(ctx context.Context, seg *segment.Segment, off uint32, mode Mode, cfg Config) (Result, bool, error) {
	if err := ensureConnected(seg, cfg.FlagOff, cfg.FlagMask); err != nil {
		return Result{}, false, err
	}
	applySetBits(seg, cfg.SetBits, cfg.IdxOff)

	dq, err := idxDelta(ctx, seg, cfg.IdxOff, cfg.QuietWindow, cfg.PollStep)
	if err != nil {
		return Result{}, false, err
	}
	dp, err := pulseOne(ctx, seg, off, mode, cfg.IdxOff, cfg.PulseWindow)
	if err != nil {
		return Result{}, false, err
	}
	if dp >= dq+cfg.Margin {
		return Result{AckOff: off, Mode: mode, MarginScore: dp}, true, nil
	}
	return Result{}, false, nil
}

func idxDelta(ctx context.Context, seg *segment.Segment, idxOff uint32, window, step time.Duration) (uint32, error) {
	start, err := seg.ReadU32(idxOff)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleepFor := step
		if remaining < sleepFor {
			sleepFor = remaining
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(sleepFor):
		}
	}

	end, err := seg.ReadU32(idxOff)
	if err != nil {
		end = start
	}
	return end - start, nil
}

func warmPump(ctx context.Context, seg *segment.Segment, idxOff, ackOff uint32, mode Mode, duration, interval time.Duration) error {
	var counter uint32
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			idx, err := seg.ReadU32(idxOff)
			if err != nil {
				continue
			}
			if err := ApplyMode(seg, ackOff, mode, idx, &counter); err != nil {
				return err
			}
		}
	}
	return nil
}
