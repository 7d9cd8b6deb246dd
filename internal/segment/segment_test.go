package segment

import (
	"os"
	"path/filepath"
	"testing"
)

func makeSegmentFile(t *testing.T, size int, body map[uint32][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lgmp")
	buf := make([]byte, size)
	copy(buf, MagicTag)
	for off, b := range body {
		copy(buf[off:], b)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestOpenRejectsMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected an error for a missing segment")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad")
	if err := os.WriteFile(path, []byte("NOPE0000"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil {
		t.Fatal("expected ErrNotLGMP")
	}
}

func TestReadWriteU32RoundTrip(t *testing.T) {
	path := makeSegmentFile(t, 0x1000, nil)
	seg, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	if err := seg.WriteU32(0x100, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	v, err := seg.ReadU32(0x100)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("got 0x%x, want 0xDEADBEEF", v)
	}
}

func TestOutOfBounds(t *testing.T) {
	path := makeSegmentFile(t, 0x10, nil)
	seg, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	if _, err := seg.ReadU32(0x20); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if err := seg.WriteU32(0x20, 1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if _, err := seg.Slice(0x8, 0x10); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestCloseIsIdempotentAndPoisonsAccess(t *testing.T) {
	path := makeSegmentFile(t, 0x10, nil)
	seg, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if _, err := seg.ReadU32(0); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
