// Package profile holds the protocol-level constants shared with the
// producer: the index/flag word offsets, the idempotent configuration
// set-bits table, the ACK candidate search space, and the health
// predicate table. These are compile-time data, not
// runtime-discovered state, and MUST NOT change shape across versions of
// the shared transport.
package profile

import "github.com/orgixmh/lgmpclient/internal/predicate"

// Range is a half-open word range [Lo, Hi) scanned at 4-byte stride.
type Range struct {
	Lo, Hi uint32
}

// Offsets scans the range at 4-byte stride.
func (r Range) Offsets() []uint32 {
	if r.Hi <= r.Lo {
		return nil
	}
	out := make([]uint32, 0, (r.Hi-r.Lo)/4)
	for off := r.Lo; off < r.Hi; off += 4 {
		out = append(out, off)
	}
	return out
}

// PredicateEntry pairs a watched offset with its guard, in the fixed
// declaration order of §6 so diagnostic output is reproducible.
type PredicateEntry struct {
	Offset uint32
	Pred   predicate.Predicate
}

const (
	// IdxOffDefault is the producer's monotonic frame index word.
	IdxOffDefault uint32 = 0x10
	// FlagOffDefault is the connection flag word.
	FlagOffDefault uint32 = 0x13C
	// FlagMaskDefault is the bit preflight must see set to call the link up.
	FlagMaskDefault uint32 = 0x00000004
)

// SetBits is the idempotent configuration table preflight OR-masks into
// the segment. The index-offset word is never a member of this table; the
// caller additionally double-checks that at apply time.
var SetBits = map[uint32]uint32{
	0x028: 0x00000001,
	0x138: 0x436C6125,
	0x1C4: 0x00000001,
	0x4A8: 0x00000001,
	0x5B0: 0x436C6125,
	0x63C: 0x00000001,
	0x640: 0x00000001,
	0x648: 0x000101F4,
}

// AckRangesDefault lists the fast ACK search windows, scanned in order.
var AckRangesDefault = []Range{
	{Lo: 0x014, Hi: 0x200},
	{Lo: 0x200, Hi: 0x400},
}

// AckFallbackDefault is the bounded fallback scanned only after every
// range above has been exhausted without a passing candidate.
var AckFallbackDefault = Range{Lo: 0x040, Hi: 0x20000}

// Predicates is the health-predicate table from §6, in declaration order.
func Predicates() []PredicateEntry {
	return []PredicateEntry{
		{Offset: 0x138, Pred: predicate.Eq(0xEBEEEBAF)},
		{Offset: 0x1C4, Pred: predicate.NZ()},
		{Offset: 0x63C, Pred: predicate.NZ()},
		{Offset: 0x648, Pred: predicate.NZ()},
		{Offset: 0x640, Pred: predicate.OneOf(0x1, 0x2)},
		{Offset: 0x4A8, Pred: predicate.OneOf(0x0, 0x14)},
	}
}
