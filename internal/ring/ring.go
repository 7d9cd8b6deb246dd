// Package ring decodes a single framebuffer slot out of the shared segment
// and repacks pitched rows into a tight RGB/BGRA buffer for the renderer.
package ring

import (
	"errors"
	"fmt"

	"github.com/orgixmh/lgmpclient/internal/segment"
)

var ErrInvalidGeometry = errors.New("ring: invalid geometry")

// Geometry is the immutable framebuffer layout of one ring slot.
// Construct it once; RingReader never mutates it.
type Geometry struct {
	FBWidth  uint32
	FBHeight uint32
	Pitch    uint32
	BPP      uint32
	IdxOff   uint32
	SlotBase uint32
	NBuf     uint32

	// ForceOffset, when non-nil, pins slot 0 to an absolute byte offset and
	// makes CurrentSlot always return ForceSlot, bypassing the producer
	// index entirely. The CLI's --slot override sets both.
	ForceOffset *uint32
	ForceSlot   uint32
}

// Validate checks the geometry is internally consistent.
func (g Geometry) Validate() error {
	if g.FBWidth == 0 || g.FBHeight == 0 {
		return fmt.Errorf("%w: fb_w and fb_h must be positive", ErrInvalidGeometry)
	}
	if g.BPP != 3 && g.BPP != 4 {
		return fmt.Errorf("%w: bpp must be 3 or 4, got %d", ErrInvalidGeometry, g.BPP)
	}
	if g.Pitch < g.FBWidth*g.BPP {
		return fmt.Errorf("%w: pitch %d < fb_w*bpp %d", ErrInvalidGeometry, g.Pitch, g.FBWidth*g.BPP)
	}
	if g.NBuf == 0 {
		return fmt.Errorf("%w: nbuf must be >= 1", ErrInvalidGeometry)
	}
	return nil
}

// SlotSize is the byte extent of one slot.
func (g Geometry) SlotSize() uint32 { return g.Pitch * g.FBHeight }

// FrameSize is the length of a tight output buffer.
func (g Geometry) FrameSize() int { return int(g.FBWidth * g.FBHeight * g.BPP) }

func (g Geometry) slotOffset(k uint32) uint32 {
	base := g.SlotBase
	if g.ForceOffset != nil {
		base = *g.ForceOffset
	}
	return base + k*g.SlotSize()
}

// RingReader exposes the current producer slot and tight frame decoding.
type RingReader struct {
	seg *segment.Segment
	geo Geometry
}

// New constructs a RingReader over an already-validated Geometry.
func New(seg *segment.Segment, geo Geometry) (*RingReader, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &RingReader{seg: seg, geo: geo}, nil
}

// Geometry returns the reader's immutable layout.
func (r *RingReader) Geometry() Geometry { return r.geo }

// CurrentSlot resolves which slot the renderer should read next.
func (r *RingReader) CurrentSlot() (uint32, error) {
	if r.geo.ForceOffset != nil {
		return r.geo.ForceSlot, nil
	}
	if r.geo.NBuf <= 1 {
		return 0, nil
	}
	idx, err := r.seg.ReadU32(r.geo.IdxOff)
	if err != nil {
		return 0, err
	}
	return idx % r.geo.NBuf, nil
}

// ReadFrameTight returns a freshly allocated, tightly packed copy of slot
// k, or ok=false if the slot's extent would run past the segment — a
// transient condition the caller treats as a frame skip, never a fatal
// error.
func (r *RingReader) ReadFrameTight(k uint32) (frame []byte, ok bool) {
	off := r.geo.slotOffset(k)
	size := r.geo.SlotSize()
	tightRow := r.geo.FBWidth * r.geo.BPP

	if r.geo.Pitch == tightRow {
		src, err := r.seg.Slice(off, size)
		if err != nil {
			return nil, false
		}
		out := make([]byte, len(src))
		copy(out, src)
		return out, true
	}

	out := make([]byte, r.geo.FrameSize())
	dst := uint32(0)
	for row := uint32(0); row < r.geo.FBHeight; row++ {
		src, err := r.seg.Slice(off+row*r.geo.Pitch, tightRow)
		if err != nil {
			return nil, false
		}
		copy(out[dst:dst+tightRow], src)
		dst += tightRow
	}
	return out, true
}
