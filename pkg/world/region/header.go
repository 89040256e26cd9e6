package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the fixed region header; the data area starts right after it.
	HeaderSize = 1024
	// Version is the region format version written by this package.
	Version = 0
	// ChunksPerSide is the number of chunks along one side of a region.
	ChunksPerSide = 8
	// Entries is the number of chunk slots in a region directory.
	Entries = ChunksPerSide * ChunksPerSide

	// Absent marks a directory entry with no stored chunk.
	Absent = ^uint64(0)

	magic          = "LambdaMapRegion "
	versionOffset  = 16
	sepOffset      = 18
	xOffset        = 19
	zOffset        = 23
	directoryStart = 32
)

// ErrBadHeader is returned when a region file does not start with a valid header.
var ErrBadHeader = errors.New("bad region header")

// header is the in-memory copy of the first HeaderSize bytes of a region file.
// All integers are big-endian.
type header struct {
	version uint16
	x, z    int32
	entries [Entries]uint64
}

func newHeader(x, z int32) *header {
	h := &header{x: x, z: z}
	for i := range h.entries {
		h.entries[i] = Absent
	}
	return h
}

// Index returns the directory slot of a chunk; absolute chunk coordinates are masked.
func Index(x, z int) int {
	return (z&(ChunksPerSide-1))*ChunksPerSide + (x & (ChunksPerSide - 1))
}

func (h *header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, magic)
	binary.BigEndian.PutUint16(buf[versionOffset:], Version)
	buf[sepOffset] = ' '
	binary.BigEndian.PutUint32(buf[xOffset:], uint32(h.x))
	binary.BigEndian.PutUint32(buf[zOffset:], uint32(h.z))
	for i, off := range h.entries {
		binary.BigEndian.PutUint64(buf[directoryStart+i*8:], off)
	}
	return buf
}

func readHeader(r io.ReaderAt) (*header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if !bytes.Equal(buf[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, buf[:len(magic)])
	}

	h := &header{
		version: binary.BigEndian.Uint16(buf[versionOffset:]),
		x:       int32(binary.BigEndian.Uint32(buf[xOffset:])),
		z:       int32(binary.BigEndian.Uint32(buf[zOffset:])),
	}
	if h.version > Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, h.version)
	}
	for i := range h.entries {
		h.entries[i] = binary.BigEndian.Uint64(buf[directoryStart+i*8:])
	}
	return h, nil
}
