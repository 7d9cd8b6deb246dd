// Package ackpump keeps writing the ack word preflight discovered so the
// producer never sees it go quiet.
package ackpump

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/segment"
)

// Pump periodically re-applies a discovered ack mode. The target can be
// swapped with SetTarget while Run is in flight, e.g. after the supervisor reruns
// preflight and finds a new offset or mode.
type Pump struct {
	seg      *segment.Segment
	idxOff   uint32
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	ackOff  uint32
	mode    preflight.Mode
	counter uint32
}

// New builds a Pump targeting ackOff/mode at the given idx offset and
// interval. Call SetTarget later to retarget without restarting Run.
func New(seg *segment.Segment, idxOff, ackOff uint32, mode preflight.Mode, interval time.Duration, logger *log.Logger) *Pump {
	return &Pump{
		seg:      seg,
		idxOff:   idxOff,
		interval: interval,
		logger:   logger,
		ackOff:   ackOff,
		mode:     mode,
	}
}

// SetTarget retargets the pump. The next tick picks it up; counter resets
// since inc32's fourth write is only meaningful relative to a fixed ack
// offset.
func (p *Pump) SetTarget(ackOff uint32, mode preflight.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ackOff = ackOff
	p.mode = mode
	p.counter = 0
}

// Target returns the offset and mode currently being pumped.
func (p *Pump) Target() (ackOff uint32, mode preflight.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ackOff, p.mode
}

// Run ticks until ctx is cancelled, applying the current target's write
// sequence each interval. Read/write failures are logged and skipped —
// a single bad tick never stops the pump, since the segment may recover
// on the next read.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pump) tick() {
	idx, err := p.seg.ReadU32(p.idxOff)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("read idx: %v", err)
		}
		return
	}

	p.mu.Lock()
	ackOff, mode, counter := p.ackOff, p.mode, p.counter
	err = preflight.ApplyMode(p.seg, ackOff, mode, idx, &counter)
	p.counter = counter
	p.mu.Unlock()

	if err != nil && p.logger != nil {
		p.logger.Printf("ack write at 0x%x: %v", ackOff, err)
	}
}
