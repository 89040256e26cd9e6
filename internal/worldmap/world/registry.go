package world

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

// Registry tracks the open region files of one map directory.
// Files remove themselves when their last chunk unloads.
type Registry struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	files map[RegionPos]*region.File
}

// NewRegistry creates a Registry for region files stored in dir.
func NewRegistry(dir string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		dir:   dir,
		log:   log,
		files: make(map[RegionPos]*region.File),
	}
}

// Dir returns the directory holding the region files.
func (r *Registry) Dir() string { return r.dir }

// Acquire returns the region file at pos retained for one chunk. With create
// unset it returns (nil, nil) when the file does not exist on disk; with
// create set a blank file is made.
func (r *Registry) Acquire(pos RegionPos, create bool) (*region.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[pos]; ok {
		if f.Retain() {
			return f, nil
		}
		// Closed after its last chunk unloaded; open a fresh handle.
		delete(r.files, pos)
	}

	var (
		f   *region.File
		err error
	)
	if create {
		f, err = region.LoadOrCreate(r.dir, pos.X, pos.Z, r.log)
	} else {
		f, err = region.Load(r.dir, pos.X, pos.Z, r.log)
	}
	if err != nil || f == nil {
		return nil, err
	}

	f.SetOnClose(r.remove)
	f.Retain()
	r.files[pos] = f
	r.log.Debug("opened region", "x", pos.X, "z", pos.Z)
	return f, nil
}

// Release drops a retain taken by Acquire that did not produce a chunk.
func (r *Registry) Release(f *region.File) {
	if err := f.Release(); err != nil {
		r.log.Error("release region", "x", f.X(), "z", f.Z(), "error", err)
	}
}

func (r *Registry) remove(f *region.File) {
	pos := RegionPos{X: f.X(), Z: f.Z()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files[pos] == f {
		delete(r.files, pos)
	}
}

// Len returns the number of open region files.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// CloseAll closes every open region file regardless of loaded chunks.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	files := make([]*region.File, 0, len(r.files))
	for _, f := range r.files {
		files = append(files, f)
	}
	r.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
