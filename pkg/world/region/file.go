package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"
)

// shiftBlock bounds the buffer used to move data forward when a record grows.
const shiftBlock = 64 << 10

var (
	// ErrCorruptChunk is returned when a stored record has an invalid length or is truncated.
	ErrCorruptChunk = errors.New("corrupt chunk record")
	// ErrClosed is returned by operations on a closed region file.
	ErrClosed = errors.New("region file closed")
)

// IOError reports a failed file operation on a region.
type IOError struct {
	Op   string
	X, Z int32
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("region (%d,%d): %s: %v", e.X, e.Z, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Chunk is the in-memory side of a stored chunk slot.
type Chunk interface {
	// Pos returns the chunk coordinates; they are masked to the region.
	Pos() (x, z int)
	// Snapshot returns a copy of the content to persist, or nil if there is nothing to save.
	Snapshot() *cellrecord.Record
	// Saved is called with the outcome of writing the last snapshot.
	Saved(err error)
}

// FileName returns the name of the file holding region (x, z).
func FileName(x, z int) string {
	return fmt.Sprintf("region_%d_%d.lmr", x, z)
}

// File is an open region file holding up to Entries chunk records.
// All file I/O is serialized by one mutex.
type File struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	hdr     *header
	loaded  int
	closed  bool
	onClose func(*File)
	log     *slog.Logger
}

// Load opens the region file in dir if it exists. It returns (nil, nil) when there is none.
func Load(dir string, x, z int, log *slog.Logger) (*File, error) {
	path := filepath.Join(dir, FileName(x, z))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "stat", X: int32(x), Z: int32(z), Err: err}
	}
	return open(path, x, z, log)
}

// LoadOrCreate opens the region file in dir, creating it with an empty directory if needed.
func LoadOrCreate(dir string, x, z int, log *slog.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "create region dir", X: int32(x), Z: int32(z), Err: err}
	}
	return open(filepath.Join(dir, FileName(x, z)), x, z, log)
}

func open(path string, x, z int, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open", X: int32(x), Z: int32(z), Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "stat", X: int32(x), Z: int32(z), Err: err}
	}

	rf := &File{f: f, path: path, log: log}
	if info.Size() == 0 {
		rf.hdr = newHeader(int32(x), int32(z))
		if err := rf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		log.Debug("created region file", "x", x, "z", z, "path", path)
		return rf, nil
	}

	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "read header", X: int32(x), Z: int32(z), Err: err}
	}
	if hdr.x != int32(x) || hdr.z != int32(z) {
		log.Warn("region header coordinates mismatch",
			"x", x, "z", z, "headerX", hdr.x, "headerZ", hdr.z, "path", path)
		hdr.x, hdr.z = int32(x), int32(z)
	}
	rf.hdr = hdr
	return rf, nil
}

// X returns the region X coordinate.
func (r *File) X() int { return int(r.hdr.x) }

// Z returns the region Z coordinate.
func (r *File) Z() int { return int(r.hdr.z) }

// Path returns the path of the backing file.
func (r *File) Path() string { return r.path }

// SetOnClose registers fn to be called once after the file closes.
func (r *File) SetOnClose(fn func(*File)) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Entry returns the directory entry of slot i: an offset relative to the end
// of the header, or Absent.
func (r *File) Entry(i int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hdr.entries[i]
}

// HasChunk reports whether the chunk has a directory entry.
func (r *File) HasChunk(x, z int) bool {
	return r.Entry(Index(x, z)) != Absent
}

// Loaded returns the number of chunks currently retained from this region.
func (r *File) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Closed reports whether the file has been closed.
func (r *File) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Retain counts one more loaded chunk. It returns false if the file is already closed.
func (r *File) Retain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.loaded++
	return true
}

// ReadRecord returns the raw payload stored for a chunk, or nil if the slot is absent.
func (r *File) ReadRecord(x, z int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.readRecordLocked(Index(x, z))
}

// LoadChunk reads and decodes a chunk. Absent, corrupt and unreadable records
// all yield nil; failures are logged.
func (r *File) LoadChunk(x, z int) *cellrecord.Record {
	data, err := r.ReadRecord(x, z)
	if err != nil {
		r.log.Error("load chunk", "x", x, "z", z, "region", r.path, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	rec, err := cellrecord.Decode(data)
	if err != nil {
		r.log.Error("decode chunk", "x", x, "z", z, "region", r.path, "error", err)
		return nil
	}
	rec.X, rec.Z = int32(x), int32(z)
	return rec
}

// WriteRecord stores payload in the chunk's slot, shifting later records when it grows.
func (r *File) WriteRecord(x, z int, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.writeRecordLocked(Index(x, z), payload)
}

// SaveChunk snapshots, encodes and writes c while holding the region lock.
func (r *File) SaveChunk(c Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.saveLocked(c)
}

// UnloadChunk saves c, then drops one loaded chunk. The file closes when the
// count reaches zero; both happen under the same lock.
func (r *File) UnloadChunk(c Chunk) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	var saveErr error
	if c != nil {
		saveErr = r.saveLocked(c)
	}
	r.loaded--

	var closeErr error
	closing := r.loaded <= 0
	if closing {
		closeErr = r.closeLocked()
	}
	onClose := r.onClose
	r.mu.Unlock()

	if closing && onClose != nil {
		onClose(r)
	}
	return errors.Join(saveErr, closeErr)
}

// Release drops a retain that did not produce a loaded chunk.
func (r *File) Release() error {
	return r.UnloadChunk(nil)
}

// Close flushes the header and closes the file. Closing twice is a no-op.
func (r *File) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	err := r.closeLocked()
	onClose := r.onClose
	r.mu.Unlock()

	if onClose != nil {
		onClose(r)
	}
	return err
}

func (r *File) closeLocked() error {
	r.closed = true
	hdrErr := r.writeHeader()
	if err := r.f.Close(); err != nil {
		return errors.Join(hdrErr, r.ioErr("close", err))
	}
	r.log.Debug("closed region file", "x", r.hdr.x, "z", r.hdr.z)
	return hdrErr
}

func (r *File) saveLocked(c Chunk) error {
	rec := c.Snapshot()
	if rec == nil {
		return nil
	}
	x, z := c.Pos()

	data, err := cellrecord.Encode(rec)
	if err == nil {
		err = r.writeRecordLocked(Index(x, z), data)
	}
	c.Saved(err)
	if err != nil {
		return fmt.Errorf("save chunk (%d,%d): %w", x, z, err)
	}
	return nil
}

func (r *File) ioErr(op string, err error) error {
	return &IOError{Op: op, X: r.hdr.x, Z: r.hdr.z, Err: err}
}

func (r *File) writeHeader() error {
	if _, err := r.f.WriteAt(r.hdr.marshal(), 0); err != nil {
		return r.ioErr("write header", err)
	}
	return nil
}

func (r *File) size() (int64, error) {
	info, err := r.f.Stat()
	if err != nil {
		return 0, r.ioErr("stat", err)
	}
	return info.Size(), nil
}

// recordLen returns the stored length of the record at pos, including its
// 4-byte prefix, after checking that it fits in the file.
func (r *File) recordLen(pos, size int64) (int64, error) {
	if pos+4 > size {
		return 0, fmt.Errorf("%w: offset %d past end of file %d", ErrCorruptChunk, pos, size)
	}
	var prefix [4]byte
	if _, err := r.f.ReadAt(prefix[:], pos); err != nil {
		return 0, r.ioErr("read record length", err)
	}
	n := int32(binary.BigEndian.Uint32(prefix[:]))
	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrCorruptChunk, n)
	}
	if pos+4+int64(n) > size {
		return 0, fmt.Errorf("%w: length %d runs past end of file", ErrCorruptChunk, n)
	}
	return int64(n) + 4, nil
}

func (r *File) readRecordLocked(idx int) ([]byte, error) {
	off := r.hdr.entries[idx]
	if off == Absent {
		return nil, nil
	}
	size, err := r.size()
	if err != nil {
		return nil, err
	}
	if off >= uint64(size) {
		return nil, fmt.Errorf("%w: offset %d past end of file %d", ErrCorruptChunk, off, size)
	}

	pos := HeaderSize + int64(off)
	n, err := r.recordLen(pos, size)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n-4)
	if _, err := r.f.ReadAt(data, pos+4); err != nil {
		return nil, fmt.Errorf("%w: short read: %v", ErrCorruptChunk, err)
	}
	return data, nil
}

func (r *File) writeRecordLocked(idx int, payload []byte) error {
	size, err := r.size()
	if err != nil {
		return err
	}
	newLen := int64(len(payload)) + 4

	pos := int64(-1)
	if off := r.hdr.entries[idx]; off != Absent && off < uint64(size) {
		pos = HeaderSize + int64(off)
		oldLen, err := r.recordLen(pos, size)
		switch {
		case errors.Is(err, ErrCorruptChunk):
			r.log.Warn("orphaning corrupt chunk record", "slot", idx, "region", r.path, "error", err)
			pos = -1
		case err != nil:
			return err
		default:
			if err := r.shiftLocked(pos, oldLen, newLen, size); err != nil {
				return err
			}
		}
	}
	if pos < 0 {
		pos = max(size, HeaderSize)
		r.hdr.entries[idx] = uint64(pos - HeaderSize)
	}

	buf := make([]byte, newLen)
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := r.f.WriteAt(buf, pos); err != nil {
		return r.ioErr("write record", err)
	}
	return r.writeHeader()
}

// shiftLocked makes room for a record at pos growing from oldLen to newLen
// bytes. Every byte after the old record moves forward by the difference and
// every directory entry pointing past pos follows it. A shrinking last record
// truncates the file instead; other shrinks leave unused bytes behind.
func (r *File) shiftLocked(pos, oldLen, newLen, size int64) error {
	delta := newLen - oldLen
	end := pos + oldLen

	if end == size {
		if delta < 0 {
			if err := r.f.Truncate(pos + newLen); err != nil {
				return r.ioErr("truncate", err)
			}
		}
		return nil
	}
	if delta <= 0 {
		return nil
	}

	buf := make([]byte, min(shiftBlock, size-end))
	for hi := size; hi > end; {
		lo := max(end, hi-int64(len(buf)))
		block := buf[:hi-lo]
		if _, err := r.f.ReadAt(block, lo); err != nil {
			return r.ioErr("read shifted data", err)
		}
		if _, err := r.f.WriteAt(block, lo+delta); err != nil {
			return r.ioErr("write shifted data", err)
		}
		hi = lo
	}

	for i, off := range r.hdr.entries {
		if off != Absent && pos < int64(off)+HeaderSize {
			r.hdr.entries[i] = off + uint64(delta)
		}
	}
	return nil
}
