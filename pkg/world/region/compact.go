package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Entries returns a copy of the directory.
func (r *File) Entries() [Entries]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hdr.entries
}

// Compact rewrites the region file in dir with its readable records packed
// back to back in directory order, dropping bytes left behind by shrinking
// writes and orphaned records. The region must not be open elsewhere.
// It returns the number of bytes reclaimed.
func Compact(dir string, x, z int, log *slog.Logger) (int64, error) {
	if log == nil {
		log = slog.Default()
	}

	src, err := Load(dir, x, z, log)
	if err != nil {
		return 0, err
	}
	if src == nil {
		return 0, fmt.Errorf("compact region (%d,%d): %w", x, z, os.ErrNotExist)
	}
	oldSize, err := src.size()
	if err != nil {
		src.Close()
		return 0, err
	}

	// Copy every readable record into a contiguous data area.
	hdr := newHeader(int32(x), int32(z))
	var data bytes.Buffer
	for i := 0; i < Entries; i++ {
		payload, err := src.ReadRecord(i%ChunksPerSide, i/ChunksPerSide)
		switch {
		case errors.Is(err, ErrCorruptChunk):
			log.Warn("dropping corrupt chunk record", "slot", i, "region", src.path, "error", err)
			continue
		case err != nil:
			src.Close()
			return 0, err
		case payload == nil:
			continue
		}

		hdr.entries[i] = uint64(data.Len())
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		data.Write(prefix[:])
		data.Write(payload)
	}
	if err := src.Close(); err != nil {
		return 0, err
	}

	// Write the file atomically.
	path := filepath.Join(dir, FileName(x, z))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp region file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	if _, err := f.Write(hdr.marshal()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	if _, err := f.Write(data.Bytes()); err != nil {
		return 0, fmt.Errorf("write chunk data: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close region file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename region file: %w", err)
	}

	newSize := int64(HeaderSize + data.Len())
	log.Info("compacted region", "x", x, "z", z, "before", oldSize, "after", newSize)
	return oldSize - newSize, nil
}
