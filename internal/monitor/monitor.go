// Package monitor samples the watch set, computes producer rate over a
// sliding window, evaluates predicates against the sample history, and
// classifies link health.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/orgixmh/lgmpclient/internal/predicate"
	"github.com/orgixmh/lgmpclient/internal/profile"
	"github.com/orgixmh/lgmpclient/internal/segment"
)

// Status is the tri-state health verdict.
type Status string

const (
	StatusOK          Status = "ok"
	StatusProblematic Status = "problematic"
	StatusDead        Status = "dead"
)

// Classification is one verdict at a point in time.
type Classification struct {
	Status Status
	Reason string
	At     time.Time
}

// TransitionFunc is invoked whenever classification changes. Panics inside
// it are recovered and logged; they never stop the monitor.
type TransitionFunc func(prev, curr Status)

// Config parameterizes a Monitor. See DefaultConfig for the built-in defaults.
type Config struct {
	IdxOff     uint32
	FlagOff    uint32
	FlagMask   uint32
	Predicates []profile.PredicateEntry

	PollPeriod     time.Duration
	ClassifyPeriod time.Duration
	RateHorizon    time.Duration
	FPSOk          float64
	FPSDead        float64
	Relaxed        bool
}

// DefaultConfig returns the built-in classification defaults, wired to
// the standard health predicate table.
func DefaultConfig() Config {
	return Config{
		IdxOff:         profile.IdxOffDefault,
		FlagOff:        profile.FlagOffDefault,
		FlagMask:       profile.FlagMaskDefault,
		Predicates:     profile.Predicates(),
		PollPeriod:     10 * time.Millisecond,
		ClassifyPeriod: 200 * time.Millisecond,
		RateHorizon:    time.Second,
		FPSOk:          30,
		FPSDead:        0.5,
	}
}

// Monitor owns the poll task's mutable state and the classify task that
// reads it. A single mutex guards both; the classify task never blocks
// polling for more than one sample period.
type Monitor struct {
	seg    *segment.Segment
	cfg    Config
	watch  []uint32
	preds  map[uint32]predicate.Predicate
	onTr   TransitionFunc
	logger *log.Logger

	mu      sync.Mutex
	rate    *RateMeter
	last    map[uint32]uint32
	have    map[uint32]bool
	hist    map[uint32]*historyRing
	current Classification
}

// New builds a Monitor. onTransition may be nil.
func New(seg *segment.Segment, cfg Config, onTransition TransitionFunc, logger *log.Logger) *Monitor {
	preds := make(map[uint32]predicate.Predicate, len(cfg.Predicates))
	for _, e := range cfg.Predicates {
		preds[e.Offset] = e.Pred
	}

	watch := make([]uint32, 0, 2+len(cfg.Predicates))
	seen := make(map[uint32]bool)
	add := func(off uint32) {
		if !seen[off] {
			seen[off] = true
			watch = append(watch, off)
		}
	}
	add(cfg.IdxOff)
	add(cfg.FlagOff)
	for _, e := range cfg.Predicates {
		add(e.Offset)
	}

	hist := make(map[uint32]*historyRing, len(watch))
	for _, off := range watch {
		hist[off] = newHistoryRing()
	}

	return &Monitor{
		seg:    seg,
		cfg:    cfg,
		watch:  watch,
		preds:  preds,
		onTr:   onTransition,
		logger: logger,
		rate:   NewRateMeter(cfg.RateHorizon),
		last:   make(map[uint32]uint32, len(watch)),
		have:   make(map[uint32]bool, len(watch)),
		hist:   hist,

		current: Classification{Status: StatusDead},
	}
}

// WatchSet returns the ordered, deduplicated offsets this monitor samples.
func (m *Monitor) WatchSet() []uint32 {
	out := make([]uint32, len(m.watch))
	copy(out, m.watch)
	return out
}

// Current returns the most recently computed classification. Before the
// first classify tick it reports dead, so the first transition a healthy
// producer triggers is dead->ok.
func (m *Monitor) Current() Classification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// FPS returns the producer rate over the configured horizon as of now.
func (m *Monitor) FPS(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate.FPS(now)
}

// Run starts the poll and classify loops and blocks until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.pollLoop(ctx) }()
	go func() { defer wg.Done(); m.classifyLoop(ctx) }()
	wg.Wait()
}

func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(time.Now())
		}
	}
}

func (m *Monitor) classifyLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ClassifyPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.classifyAndNotify(time.Now())
		}
	}
}

// Poll performs one sample of the watch set.
func (m *Monitor) Poll(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.seg.ReadU32(m.cfg.IdxOff)
	if err == nil {
		m.rate.Push(now, idx)
		m.last[m.cfg.IdxOff] = idx
		m.have[m.cfg.IdxOff] = true
	}

	for _, off := range m.watch {
		if off == m.cfg.IdxOff {
			continue
		}
		v, err := m.seg.ReadU32(off)
		if err != nil {
			continue
		}
		prev, had := m.last[off]
		if !had || v != prev {
			m.hist[off].push(predicate.Sample{Time: now, Value: v})
		}
		m.last[off] = v
		m.have[off] = true
	}
}

// Classify computes the current verdict from the monitor's snapshot
// without mutating it. Deterministic given (snapshot, history,
// thresholds, relaxed).
func (m *Monitor) Classify(now time.Time) Classification {
	m.mu.Lock()
	fps := m.rate.FPS(now)
	flagVal, haveFlag := m.last[m.cfg.FlagOff]
	_ = haveFlag

	type predState struct {
		off  uint32
		cur  uint32
		hist []predicate.Sample
	}
	states := make([]predState, 0, len(m.cfg.Predicates))
	for _, e := range m.cfg.Predicates {
		states = append(states, predState{off: e.Offset, cur: m.last[e.Offset], hist: m.hist[e.Offset].samples()})
	}
	m.mu.Unlock()

	masked := m.cfg.FlagMask == 0 || (flagVal&m.cfg.FlagMask) != 0

	predsOK := true
	var failed []string
	for _, st := range states {
		pred := m.preds[st.off]
		if !pred.Check(now, st.cur, st.hist) {
			predsOK = false
			failed = append(failed, fmt.Sprintf("0x%03X%s", st.off, pred.Describe()))
		}
	}

	var status Status
	var reason string
	switch {
	case fps <= m.cfg.FPSDead:
		status = StatusDead
		reason = fmt.Sprintf("fps=%.2f, idx stalled", fps)
	case fps >= m.cfg.FPSOk && masked && predsOK:
		status = StatusOK
	default:
		status = StatusProblematic
		var reasons []string
		if fps < m.cfg.FPSOk {
			reasons = append(reasons, fmt.Sprintf("low fps=%.2f", fps))
		}
		if !masked {
			reasons = append(reasons, "mask bit off")
		}
		if !predsOK {
			reasons = append(reasons, "predicates failed: "+strings.Join(failed, ","))
		}
		reason = strings.Join(reasons, "; ")
	}

	if m.cfg.Relaxed && status != StatusDead && fps >= 0.9*m.cfg.FPSOk {
		status = StatusOK
		reason = ""
	}

	return Classification{Status: status, Reason: reason, At: now}
}

func (m *Monitor) classifyAndNotify(now time.Time) {
	curr := m.Classify(now)

	m.mu.Lock()
	prev := m.current
	changed := prev.Status != curr.Status
	m.current = curr
	m.mu.Unlock()

	if changed && m.onTr != nil {
		m.safeNotify(prev.Status, curr.Status)
	}
}

func (m *Monitor) safeNotify(prev, curr Status) {
	defer func() {
		if r := recover(); r != nil {
			if m.logger != nil {
				m.logger.Printf("transition callback panicked: %v", r)
			}
		}
	}()
	m.onTr(prev, curr)
}

// WatchEntry is one row of a diagnostic snapshot.
type WatchEntry struct {
	Offset        uint32
	Current       uint32
	HasPredicate  bool
	PredicateOK   bool
	PredicateDesc string
	History       []predicate.Sample
}

// Snapshot captures the watch set's current state for export, e.g. to
// snapshotlog.
func (m *Monitor) Snapshot(now time.Time) []WatchEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WatchEntry, 0, len(m.watch))
	for _, off := range m.watch {
		e := WatchEntry{Offset: off, Current: m.last[off], History: m.hist[off].samples()}
		if pred, ok := m.preds[off]; ok {
			e.HasPredicate = true
			e.PredicateOK = pred.Check(now, m.last[off], m.hist[off].samples())
			e.PredicateDesc = pred.Describe()
		}
		out = append(out, e)
	}
	return out
}
