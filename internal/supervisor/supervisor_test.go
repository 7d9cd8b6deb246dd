package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orgixmh/lgmpclient/internal/monitor"
	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/profile"
	"github.com/orgixmh/lgmpclient/internal/segment"
	"github.com/orgixmh/lgmpclient/internal/store"
)

func openFixture(t *testing.T, size int) *segment.Segment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lgmp")
	buf := make([]byte, size)
	copy(buf, segment.MagicTag)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	seg, err := segment.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func fastPreflightConfig(idxOff, flagOff uint32, ranges []profile.Range, fallback profile.Range) preflight.Config {
	return preflight.Config{
		IdxOff:       idxOff,
		FlagOff:      flagOff,
		FlagMask:     0x1,
		SetBits:      map[uint32]uint32{},
		Ranges:       ranges,
		Fallback:     fallback,
		Margin:       2,
		PumpDuration: 5 * time.Millisecond,
		Interval:     2 * time.Millisecond,
		QuietWindow:  4 * time.Millisecond,
		PulseWindow:  6 * time.Millisecond,
		PollStep:     time.Millisecond,
	}
}

func fastMonitorConfig(idxOff, flagOff uint32) monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.IdxOff = idxOff
	cfg.FlagOff = flagOff
	cfg.Predicates = nil
	cfg.PollPeriod = time.Millisecond
	cfg.ClassifyPeriod = 5 * time.Millisecond
	cfg.RateHorizon = 30 * time.Millisecond
	return cfg
}

// reactiveProducer ticks idxOff forward whenever it observes ackOff's
// value change, the same stand-in the preflight package's own tests use
// to simulate a producer that reacts to the ack pump.
func reactiveProducer(t *testing.T, seg *segment.Segment, idxOff, ackOff uint32) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		var last, idx uint32
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				cur, err := seg.ReadU32(ackOff)
				if err != nil {
					continue
				}
				if cur != last {
					last = cur
					idx++
					_ = seg.WriteU32(idxOff, idx)
				}
			}
		}
	}()
	return func() { close(done) }
}

func TestTryCachedAckVerifiesAndSkipsFullScan(t *testing.T) {
	seg := openFixture(t, 0x1000)
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	const idxOff, ackOff = 0x10, 0x300
	stop := reactiveProducer(t, seg, idxOff, ackOff)
	defer stop()

	fingerprint := "geom-x"
	cached := preflight.Result{AckOff: ackOff, Mode: preflight.ModeMirror, MarginScore: 5}
	if err := st.Save(context.Background(), fingerprint, cached, time.Now()); err != nil {
		t.Fatal(err)
	}

	pflCfg := fastPreflightConfig(idxOff, 0x14, nil, profile.Range{Lo: 0x20, Hi: 0x24})
	sv := New(seg, pflCfg, time.Millisecond, fastMonitorConfig(idxOff, 0x14), st, fingerprint, false, nil)

	ctx := context.Background()
	if !sv.tryCachedAck(ctx, true) {
		t.Fatal("expected the cache entry to pass verification")
	}
	sv.mu.Lock()
	off, mode := sv.pump.Target()
	sv.mu.Unlock()
	if off != cached.AckOff || mode != cached.Mode {
		t.Fatalf("pump targeted (0x%x, %s), want (0x%x, %s)", off, mode, cached.AckOff, cached.Mode)
	}
	sv.stopPump()
}

func TestTryCachedAckRejectsStaleEntry(t *testing.T) {
	seg := openFixture(t, 0x1000)
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	// No producer reacts to anything at this offset: the pulse test can
	// never beat the quiet-window margin, so a stale cached offset must
	// fail verification.
	const idxOff = 0x10
	fingerprint := "geom-y"
	cached := preflight.Result{AckOff: 0x340, Mode: preflight.ModeMirror, MarginScore: 5}
	if err := st.Save(context.Background(), fingerprint, cached, time.Now()); err != nil {
		t.Fatal(err)
	}

	pflCfg := fastPreflightConfig(idxOff, 0x14, nil, profile.Range{Lo: 0x20, Hi: 0x24})
	sv := New(seg, pflCfg, time.Millisecond, fastMonitorConfig(idxOff, 0x14), st, fingerprint, false, nil)

	ctx := context.Background()
	if sv.tryCachedAck(ctx, true) {
		t.Fatal("expected a stale cache entry to fail verification")
	}
}

func TestTryCachedAckSkipPreflightTrustsCacheUnverified(t *testing.T) {
	seg := openFixture(t, 0x1000)
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	// No reactive producer: under --no-preflight the cache is trusted
	// without a pulse test, so this must still report a hit.
	const idxOff = 0x10
	fingerprint := "geom-z"
	cached := preflight.Result{AckOff: 0x380, Mode: preflight.ModeToggle1, MarginScore: 3}
	if err := st.Save(context.Background(), fingerprint, cached, time.Now()); err != nil {
		t.Fatal(err)
	}

	pflCfg := fastPreflightConfig(idxOff, 0x14, nil, profile.Range{Lo: 0x20, Hi: 0x24})
	sv := New(seg, pflCfg, time.Millisecond, fastMonitorConfig(idxOff, 0x14), st, fingerprint, true, nil)

	ctx := context.Background()
	if !sv.tryCachedAck(ctx, false) {
		t.Fatal("expected --no-preflight to trust the cache without verification")
	}
	sv.mu.Lock()
	off, mode := sv.pump.Target()
	sv.mu.Unlock()
	if off != cached.AckOff || mode != cached.Mode {
		t.Fatalf("pump targeted (0x%x, %s), want (0x%x, %s)", off, mode, cached.AckOff, cached.Mode)
	}
	sv.stopPump()
}

func TestRunPerformsPreflightWithoutCache(t *testing.T) {
	seg := openFixture(t, 0x1000)
	const idxOff, ackOff = 0x10, 0x200

	stop := reactiveProducer(t, seg, idxOff, ackOff)
	defer stop()

	ranges := []profile.Range{{Lo: 0x1F8, Hi: 0x208}}
	fallback := profile.Range{Lo: 0x208, Hi: 0x20C}
	pflCfg := fastPreflightConfig(idxOff, 0x14, ranges, fallback)
	sv := New(seg, pflCfg, time.Millisecond, fastMonitorConfig(idxOff, 0x14), nil, "", false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := sv.runPreflight(ctx)
	if err != nil {
		t.Fatalf("runPreflight: %v", err)
	}
	if res.AckOff != ackOff {
		t.Fatalf("AckOff = 0x%x, want 0x%x", res.AckOff, ackOff)
	}
	sv.stopPump()
}
