// Package segment attaches to the shared-memory segment a co-resident
// producer writes frames into, and exposes only word-granular 32-bit
// load/store plus a raw byte borrow. Keeping the API to that surface is
// what makes the "unsynchronized volatile load, plain store" contract
// enforceable: nothing outside this package can do anything fancier
// than a 4-byte read or write against the mapping.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// MagicTag is the 4-byte ASCII header every LGMP segment must carry.
	MagicTag = "LGMP"
	tagLen   = 4
)

var (
	ErrNotFound   = errors.New("segment: not found")
	ErrNotLGMP    = errors.New("segment: missing LGMP magic tag")
	ErrMapFailed  = errors.New("segment: mmap failed")
	ErrOutOfBounds = errors.New("segment: access out of bounds")
	ErrClosed     = errors.New("segment: use of closed segment")
)

// Segment is a memory-mapped, word-addressable view of the shared region.
// It outlives every other object built on top of it.
type Segment struct {
	path   string
	fd     int
	data   []byte
	closed bool
}

// Open maps path read-write and verifies the LGMP magic tag.
func Open(path string) (*Segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("segment: open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("segment: stat %s: %w", path, err)
	}
	size := int(st.Size)
	if size < tagLen {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s", ErrNotLGMP, path)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %v", ErrMapFailed, path, err)
	}

	if string(data[:tagLen]) != MagicTag {
		_ = unix.Munmap(data)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s", ErrNotLGMP, path)
	}

	return &Segment{path: path, fd: fd, data: data}, nil
}

// Path returns the filesystem path this segment was opened from.
func (s *Segment) Path() string { return s.path }

// Size returns the mapped size in bytes.
func (s *Segment) Size() int { return len(s.data) }

// ReadU32 performs an unaligned-safe little-endian load.
func (s *Segment) ReadU32(off uint32) (uint32, error) {
	if s.closed {
		return 0, ErrClosed
	}
	end := uint64(off) + 4
	if end > uint64(len(s.data)) {
		return 0, fmt.Errorf("%w: read off=0x%x len=4 size=%d", ErrOutOfBounds, off, len(s.data))
	}
	return binary.LittleEndian.Uint32(s.data[off:end]), nil
}

// WriteU32 performs an unaligned-safe little-endian store. It is a plain
// store with no fence: the transport's producer polls, and the only
// invariant this package's callers must hold is that they never target the
// producer's frame-index word (enforced by the preflight and ack-pump
// layers, not here, since this package has no notion of which word that is).
func (s *Segment) WriteU32(off uint32, v uint32) error {
	if s.closed {
		return ErrClosed
	}
	end := uint64(off) + 4
	if end > uint64(len(s.data)) {
		return fmt.Errorf("%w: write off=0x%x len=4 size=%d", ErrOutOfBounds, off, len(s.data))
	}
	binary.LittleEndian.PutUint32(s.data[off:end], v)
	return nil
}

// Slice borrows an immutable byte range. The caller must not retain it past
// the next mutation of the underlying mapping by the producer.
func (s *Segment) Slice(off, length uint32) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	end := uint64(off) + uint64(length)
	if end > uint64(len(s.data)) {
		return nil, fmt.Errorf("%w: slice off=0x%x len=%d size=%d", ErrOutOfBounds, off, length, len(s.data))
	}
	return s.data[off:end:end], nil
}

// Close releases the mapping and the backing file descriptor. It is safe to
// call more than once; every other method on a closed Segment is a usage
// error and returns ErrClosed rather than touching freed memory.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.data != nil {
		err = unix.Munmap(s.data)
		s.data = nil
	}
	if cerr := unix.Close(s.fd); err == nil {
		err = cerr
	}
	return err
}
