// Package predicate implements the declarative guards the signal monitor
// evaluates against a watched word's current value and bounded history.
package predicate

import "time"

// Sample is one historical (timestamp, value) record for a watched offset.
type Sample struct {
	Time  time.Time
	Value uint32
}

// Kind tags which variant a Predicate holds, avoiding virtual dispatch while
// keeping the declarative construction style (Eq, NZ, OneOf, RecentEq).
type Kind int

const (
	KindEq Kind = iota
	KindNZ
	KindOneOf
	KindRecentEq
)

// Predicate is a tagged union over the four guard variants. Zero value is
// not meaningful; build one with the constructors below.
type Predicate struct {
	kind   Kind
	val    uint32
	set    map[uint32]struct{}
	window time.Duration
	desc   string
}

// Eq holds when the current value equals v exactly.
func Eq(v uint32) Predicate {
	return Predicate{kind: KindEq, val: v}
}

// NZ holds when the current value is non-zero.
func NZ() Predicate {
	return Predicate{kind: KindNZ}
}

// OneOf holds when the current value is a member of vals.
func OneOf(vals ...uint32) Predicate {
	set := make(map[uint32]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return Predicate{kind: KindOneOf, set: set}
}

// RecentEq holds when some historical sample within window of now equals v.
func RecentEq(v uint32, window time.Duration) Predicate {
	return Predicate{kind: KindRecentEq, val: v, window: window}
}

// Check evaluates the predicate against the current value and its bounded
// history (most recent last). now is injected so callers stay deterministic
// in tests instead of this package reaching for time.Now itself.
func (p Predicate) Check(now time.Time, cur uint32, history []Sample) bool {
	switch p.kind {
	case KindEq:
		return cur == p.val
	case KindNZ:
		return cur != 0
	case KindOneOf:
		_, ok := p.set[cur]
		return ok
	case KindRecentEq:
		for i := len(history) - 1; i >= 0; i-- {
			if now.Sub(history[i].Time) > p.window {
				continue
			}
			if history[i].Value == p.val {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Describe renders a short human-readable form of the guard, used in
// snapshot diagnostics (e.g. "==0xEBEEEBAF", "!=0",
// "oneof{0x00000001,0x00000002}").
func (p Predicate) Describe() string {
	switch p.kind {
	case KindEq:
		return formatEq(p.val)
	case KindNZ:
		return "!=0"
	case KindOneOf:
		return formatOneOf(p.set)
	case KindRecentEq:
		return formatRecentEq(p.val, p.window)
	default:
		return ""
	}
}
