package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/ring"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFingerprintDistinguishesGeometry(t *testing.T) {
	a := ring.Geometry{FBWidth: 1920, FBHeight: 1080, Pitch: 7680, BPP: 4, SlotBase: 0x1000}
	b := a
	b.Pitch = 7690

	if Fingerprint(a, 0x10) == Fingerprint(b, 0x10) {
		t.Fatal("different pitch must produce different fingerprints")
	}
	if Fingerprint(a, 0x10) == Fingerprint(a, 0x14) {
		t.Fatal("different idx_off must produce different fingerprints")
	}
}

func TestSaveAndLookupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fp := "geom-a"

	if _, ok, err := s.Lookup(ctx, fp); err != nil || ok {
		t.Fatalf("expected a miss before Save, got ok=%v err=%v", ok, err)
	}

	res := preflight.Result{AckOff: 0x200, Mode: preflight.ModeInc32, MarginScore: 7}
	if err := s.Save(ctx, fp, res, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Lookup(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("Lookup after Save: ok=%v err=%v", ok, err)
	}
	if got.AckOff != res.AckOff || got.Mode != res.Mode || got.MarginScore != res.MarginScore {
		t.Fatalf("Lookup = %+v, want %+v", got, res)
	}
}

func TestSaveUpsertsExistingFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fp := "geom-b"

	first := preflight.Result{AckOff: 0x200, Mode: preflight.ModeMirror, MarginScore: 3}
	if err := s.Save(ctx, fp, first, time.Unix(1, 0)); err != nil {
		t.Fatal(err)
	}
	second := preflight.Result{AckOff: 0x300, Mode: preflight.ModeToggle1, MarginScore: 9}
	if err := s.Save(ctx, fp, second, time.Unix(2, 0)); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Lookup(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if got.AckOff != second.AckOff || got.Mode != second.Mode {
		t.Fatalf("Lookup after update = %+v, want %+v", got, second)
	}
}
