package predicate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

func formatEq(v uint32) string {
	return fmt.Sprintf("==0x%08X", v)
}

func formatOneOf(set map[uint32]struct{}) string {
	vals := make([]uint32, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("0x%08X", v)
	}
	return "oneof{" + strings.Join(parts, ",") + "}"
}

func formatRecentEq(v uint32, window time.Duration) string {
	return fmt.Sprintf("recent==0x%08X in %dms", v, window.Milliseconds())
}
