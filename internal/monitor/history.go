package monitor

import "github.com/orgixmh/lgmpclient/internal/predicate"

// historyRing is a fixed three-element ring of the most recent distinct
// values observed at one watch offset. No heap growth after construction.
type historyRing struct {
	buf [3]predicate.Sample
	len int
	next int
}

func newHistoryRing() *historyRing {
	return &historyRing{}
}

func (r *historyRing) push(s predicate.Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.len < len(r.buf) {
		r.len++
	}
}

// samples returns up to three recorded samples in chronological order,
// oldest first, matching the order predicate.Check expects.
func (r *historyRing) samples() []predicate.Sample {
	out := make([]predicate.Sample, 0, r.len)
	start := r.next - r.len
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.len; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
