package ackpump

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/segment"
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

func TestPumpWritesAtInterval(t *testing.T) {
	seg := openFixture(t, 0x100)
	const idxOff, ackOff = 0x10, 0x20

	p := New(seg, idxOff, ackOff, preflight.ModeToggle1, 2*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	v, err := seg.ReadU32(ackOff)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xAAAAAAAA && v != 0x55555555 {
		t.Fatalf("ack word = 0x%x, want one of toggle1's two values", v)
	}
}

func TestPumpSetTargetRetargetsAndResetsCounter(t *testing.T) {
	seg := openFixture(t, 0x100)
	p := New(seg, 0x10, 0x20, preflight.ModeInc32, time.Hour, nil)
	p.counter = 7 // as if inc32 had already ticked at the old target

	p.SetTarget(0x30, preflight.ModeMirror)
	off, mode := p.Target()
	if off != 0x30 || mode != preflight.ModeMirror {
		t.Fatalf("Target() = (0x%x, %s), want (0x30, mirror)", off, mode)
	}
	if p.counter != 0 {
		t.Fatalf("counter after SetTarget = %d, want 0", p.counter)
	}

	p.tick()
	v, err := seg.ReadU32(0x30)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("mirror's last write for idx=0 should leave 0, got 0x%x", v)
	}
	v20, err := seg.ReadU32(0x20)
	if err != nil {
		t.Fatal(err)
	}
	if v20 != 0 {
		t.Fatal("old target must not be written after retargeting")
	}
}
