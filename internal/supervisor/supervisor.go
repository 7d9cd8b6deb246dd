// Package supervisor owns the lifecycle of preflight, the ack pump, and
// the signal monitor: it runs preflight once at startup (or from a cache
// hit), keeps the pump fed with whatever preflight found, and reruns
// preflight whenever the monitor reports a recovery transition.
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orgixmh/lgmpclient/internal/ackpump"
	"github.com/orgixmh/lgmpclient/internal/monitor"
	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/segment"
	"github.com/orgixmh/lgmpclient/internal/store"
)

// Supervisor wires preflight, the ack pump, and the monitor together over
// one shared segment.
type Supervisor struct {
	seg           *segment.Segment
	pflCfg        preflight.Config
	pumpInterval  time.Duration
	monCfg        monitor.Config
	st            *store.Store
	fingerprint   string
	skipPreflight bool
	logger        *log.Logger

	sf singleflight.Group

	mu         sync.Mutex
	pump       *ackpump.Pump
	pumpCancel context.CancelFunc
	mon        *monitor.Monitor
	monCancel  context.CancelFunc
}

// New builds a Supervisor. st may be nil to disable the ack-offset
// cache. skipPreflight mirrors the CLI's --no-preflight: when set, Run
// never scans for the ack offset, trusting a cache hit outright or
// idling with the pump stopped if there is none.
func New(seg *segment.Segment, pflCfg preflight.Config, pumpInterval time.Duration, monCfg monitor.Config, st *store.Store, fingerprint string, skipPreflight bool, logger *log.Logger) *Supervisor {
	return &Supervisor{
		seg:           seg,
		pflCfg:        pflCfg,
		pumpInterval:  pumpInterval,
		monCfg:        monCfg,
		st:            st,
		fingerprint:   fingerprint,
		skipPreflight: skipPreflight,
		logger:        logger,
	}
}

// Run brings the link up (cache hit or preflight), starts the monitor,
// and blocks until ctx is cancelled, tearing everything down on the way
// out.
func (sv *Supervisor) Run(ctx context.Context) error {
	if sv.skipPreflight {
		if !sv.tryCachedAck(ctx, false) && sv.logger != nil {
			sv.logger.Printf("no-preflight set and no cached ack available; idling without a pump")
		}
	} else if !sv.tryCachedAck(ctx, true) {
		if _, err := sv.runPreflight(ctx); err != nil {
			return err
		}
	}

	sv.startMonitor(ctx)
	<-ctx.Done()

	sv.stopPump()
	sv.stopMonitor()
	return ctx.Err()
}

// tryCachedAck looks up a cached ack offset for the current fingerprint.
// With verify set it re-scores the cached candidate with
// preflight.VerifyCached before trusting it, so a stale row from a
// producer that changed shape falls through to a full scan instead of
// being pumped unverified. Without verify (the --no-preflight path,
// which skips scanning the segment altogether) it trusts the cache
// outright.
func (sv *Supervisor) tryCachedAck(ctx context.Context, verify bool) bool {
	if sv.st == nil {
		return false
	}
	e, ok, err := sv.st.Lookup(ctx, sv.fingerprint)
	if err != nil || !ok {
		return false
	}

	res := preflight.Result{AckOff: e.AckOff, Mode: e.Mode, MarginScore: e.MarginScore}
	if verify {
		verified, passed, verr := preflight.VerifyCached(ctx, sv.seg, e.AckOff, e.Mode, sv.pflCfg)
		if verr != nil || !passed {
			if sv.logger != nil {
				sv.logger.Printf("ack cache entry failed verification, falling through to full scan")
			}
			return false
		}
		res = verified
		if sv.st != nil {
			if serr := sv.st.Save(ctx, sv.fingerprint, res, time.Now()); serr != nil && sv.logger != nil {
				sv.logger.Printf("ack cache save: %v", serr)
			}
		}
	}

	sv.startPump(ctx, res.AckOff, res.Mode)
	if sv.logger != nil {
		sv.logger.Printf("ack cache hit: off=0x%x mode=%s", res.AckOff, res.Mode)
	}
	return true
}

// runPreflight deduplicates concurrent callers (a manual retry racing a
// monitor-triggered restart) so only one scan runs against the segment
// at a time.
func (sv *Supervisor) runPreflight(ctx context.Context) (preflight.Result, error) {
	v, err, _ := sv.sf.Do("preflight", func() (interface{}, error) {
		sv.stopPump()

		res, err := preflight.WarmBootAndFindAck(ctx, sv.seg, sv.pflCfg)
		if err != nil {
			return nil, err
		}
		if sv.st != nil {
			if serr := sv.st.Save(ctx, sv.fingerprint, res, time.Now()); serr != nil && sv.logger != nil {
				sv.logger.Printf("ack cache save: %v", serr)
			}
		}
		sv.startPump(ctx, res.AckOff, res.Mode)
		return res, nil
	})
	if err != nil {
		return preflight.Result{}, err
	}
	return v.(preflight.Result), nil
}

func (sv *Supervisor) startPump(ctx context.Context, ackOff uint32, mode preflight.Mode) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(ctx)
	sv.pump = ackpump.New(sv.seg, sv.pflCfg.IdxOff, ackOff, mode, sv.pumpInterval, sv.logger)
	sv.pumpCancel = cancel
	go sv.pump.Run(pumpCtx)
}

func (sv *Supervisor) stopPump() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.pumpCancel != nil {
		sv.pumpCancel()
		sv.pumpCancel = nil
		sv.pump = nil
	}
}

func (sv *Supervisor) startMonitor(ctx context.Context) {
	sv.mu.Lock()
	monCtx, cancel := context.WithCancel(ctx)
	sv.mon = monitor.New(sv.seg, sv.monCfg, sv.onTransition, sv.logger)
	sv.monCancel = cancel
	mon := sv.mon
	sv.mu.Unlock()

	go mon.Run(monCtx)
}

func (sv *Supervisor) stopMonitor() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.monCancel != nil {
		sv.monCancel()
		sv.monCancel = nil
	}
}

// Monitor returns the running signal monitor, or nil before Run starts
// one. Callers use it for diagnostics (snapshot export).
func (sv *Supervisor) Monitor() *monitor.Monitor {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.mon
}

// onTransition reruns preflight on a recovery sequence: a transition
// from dead or problematic back to ok warrants re-validating the ack
// offset before the pump resumes unattended.
func (sv *Supervisor) onTransition(prev, curr monitor.Status) {
	if sv.logger != nil {
		sv.logger.Printf("health transition: %s -> %s", prev, curr)
	}
	if curr != monitor.StatusOK || prev == monitor.StatusOK {
		return
	}
	go func() {
		if _, err := sv.runPreflight(context.Background()); err != nil && sv.logger != nil {
			sv.logger.Printf("recovery preflight failed: %v", err)
		}
	}()
}
