package world

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/schedule"
)

// Mode selects how far a chunk lookup may go to find a chunk.
type Mode int

const (
	// ModeGet only looks at chunks already in memory.
	ModeGet Mode = iota
	// ModeLoad also loads the chunk from disk.
	ModeLoad
	// ModeCreate also creates a blank chunk.
	ModeCreate
)

func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeLoad:
		return "load"
	case ModeCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Options configures a World.
type Options struct {
	// ViewRange is the half-size of the retention box around the view position.
	ViewRange        int
	AutosaveInterval time.Duration
	// SaveWorkers bounds how many regions are flushed in parallel.
	SaveWorkers int
	Filter      DetailFilter
	// Scheduler runs chunk autosaves. When nil the World runs its own ticker.
	Scheduler schedule.Scheduler
}

// World caches the map chunks around the observer and persists them to
// region files in one directory.
type World struct {
	log     *slog.Logger
	opts    Options
	regions *Registry
	ticker  *schedule.Ticker

	mu     sync.RWMutex
	chunks map[ChunkPos]*Chunk
	// evicting holds chunks removed by Tick whose unload has not finished;
	// the channel closes once they are on disk.
	evicting  map[ChunkPos]chan struct{}
	evictions uint64
	live      Pos
	view      Pos
	browsing  bool
}

// New creates a World storing its regions in dir.
func New(dir string, opts Options, log *slog.Logger) *World {
	if log == nil {
		log = slog.Default()
	}
	if opts.ViewRange <= 0 {
		opts.ViewRange = ViewRange
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	if opts.SaveWorkers <= 0 {
		opts.SaveWorkers = 4
	}
	if opts.Filter == nil {
		opts.Filter = DefaultDetailFilter
	}

	w := &World{
		log:      log,
		opts:     opts,
		regions:  NewRegistry(dir, log),
		chunks:   make(map[ChunkPos]*Chunk),
		evicting: make(map[ChunkPos]chan struct{}),
	}
	if w.opts.Scheduler == nil {
		w.ticker = schedule.NewTicker(context.Background())
		w.opts.Scheduler = w.ticker
	}
	return w
}

// Dir returns the map directory.
func (w *World) Dir() string { return w.regions.Dir() }

func (w *World) chunkOptions() ChunkOptions {
	return ChunkOptions{
		Filter:           w.opts.Filter,
		Scheduler:        w.opts.Scheduler,
		AutosaveInterval: w.opts.AutosaveInterval,
		Logger:           w.log,
	}
}

// RetentionDistance returns the retention distance in game chunks for a
// render distance.
func RetentionDistance(renderDistance int) int {
	return max(2, renderDistance-2)
}

// Get returns the chunk if it is in memory.
func (w *World) Get(x, z int) *Chunk {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chunks[ChunkPos{X: x, Z: z}]
}

// GetOrLoad returns the chunk from memory or disk, or nil when it was never saved.
func (w *World) GetOrLoad(x, z int) *Chunk {
	return w.getOrInsert(ChunkPos{X: x, Z: z}, false)
}

// GetOrCreate returns the chunk from memory or disk, creating a blank one if
// needed. When the region cannot be opened the chunk is transient and never
// saved; it never returns nil.
func (w *World) GetOrCreate(x, z int) *Chunk {
	return w.getOrInsert(ChunkPos{X: x, Z: z}, true)
}

// Chunk looks up a chunk with the given mode.
func (w *World) Chunk(mode Mode, x, z int) *Chunk {
	switch mode {
	case ModeLoad:
		return w.GetOrLoad(x, z)
	case ModeCreate:
		return w.GetOrCreate(x, z)
	default:
		return w.Get(x, z)
	}
}

func (w *World) getOrInsert(pos ChunkPos, create bool) *Chunk {
	for {
		w.mu.RLock()
		c, pending, gen := w.chunks[pos], w.evicting[pos], w.evictions
		w.mu.RUnlock()
		if c != nil {
			return c
		}
		if pending != nil {
			<-pending
			continue
		}

		c = w.loadChunk(pos, create)

		w.mu.Lock()
		// Double-check after acquiring write lock. A disk read that overlapped
		// an eviction may predate the evicted chunk's save, so it is retried.
		existing, ok := w.chunks[pos]
		stale := !ok && w.evictions != gen
		if c != nil && !ok && !stale {
			w.chunks[pos] = c
			w.mu.Unlock()
			return c
		}
		w.mu.Unlock()

		if c != nil {
			if err := c.Unload(); err != nil {
				w.log.Warn("discard duplicate chunk", "x", pos.X, "z", pos.Z, "error", err)
			}
		}
		switch {
		case ok:
			return existing
		case !stale:
			return nil
		}
	}
}

func (w *World) loadChunk(pos ChunkPos, create bool) *Chunk {
	rp := pos.Region()
	rf, err := w.regions.Acquire(rp, create)
	if err != nil {
		w.log.Error("open region", "x", rp.X, "z", rp.Z, "error", err)
		if create {
			return NewChunk(pos.X, pos.Z, nil, w.chunkOptions())
		}
		return nil
	}
	if rf == nil {
		return nil
	}

	if rec := rf.LoadChunk(pos.X, pos.Z); rec != nil {
		rec.X, rec.Z = int32(pos.X), int32(pos.Z)
		return chunkFromRecord(rec, rf, w.chunkOptions())
	}
	if !create {
		w.regions.Release(rf)
		return nil
	}
	return NewChunk(pos.X, pos.Z, rf, w.chunkOptions())
}

// GetCell returns the cell at absolute block coordinates. ok is false when no
// chunk with data is available under mode.
func (w *World) GetCell(x, z int, mode Mode) (cell Cell, ok bool) {
	c := w.Chunk(mode, BlockToChunk(x), BlockToChunk(z))
	if c == nil || c.Empty() {
		return Cell{}, false
	}
	return c.Cell(x, z), true
}

// PutCell stores a cell, creating its chunk if needed. It returns true if the
// cell changed.
func (w *World) PutCell(x, z int, cell Cell) bool {
	return w.GetOrCreate(BlockToChunk(x), BlockToChunk(z)).PutCell(x, z, cell)
}

// LivePos returns the observer position.
func (w *World) LivePos() Pos {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.live
}

// ViewPos returns the position the map is viewed from.
func (w *World) ViewPos() Pos {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view
}

// UpdateLivePos moves the observer. The view follows unless a browser is open.
// It returns true if the position changed.
func (w *World) UpdateLivePos(p Pos) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := w.live != p
	w.live = p
	if !w.browsing {
		w.view = p
	}
	return changed
}

// UpdateViewPos moves the view position. It returns true if it changed.
func (w *World) UpdateViewPos(p Pos) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := w.view != p
	w.view = p
	return changed
}

// SetBrowsing records whether a map browser is open. Closing it snaps the
// view back to the observer.
func (w *World) SetBrowsing(open bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.browsing = open
	if !open {
		w.view = w.live
	}
}

// Tick records the positions and unloads every chunk outside the retention
// boxes. distance is in 16-block game chunks. It returns the number of
// unloaded chunks.
//
// Evicted chunks leave the cache under the lock and are saved after it is
// released; loading one of them again waits for its save.
func (w *World) Tick(live, view Pos, distance int) int {
	w.mu.Lock()
	w.live, w.view = live, view

	// Live box, in map chunk coordinates.
	gx, gz := live.X>>4, live.Z>>4
	startX, startZ := (gx-distance)>>RegionShift, (gz-distance)>>RegionShift
	endX, endZ := (gx+distance)>>RegionShift, (gz+distance)>>RegionShift

	vr := w.opts.ViewRange
	hasViewer := live != view

	var evicted []*Chunk
	for pos, c := range w.chunks {
		if pos.X >= startX && pos.X <= endX && pos.Z >= startZ && pos.Z <= endZ {
			continue
		}
		if hasViewer && c.IsCenterInBox(view.X-vr, view.Z-vr, view.X+vr, view.Z+vr) {
			continue
		}
		evicted = append(evicted, c)
		delete(w.chunks, pos)
	}
	if len(evicted) == 0 {
		w.mu.Unlock()
		return 0
	}
	done := make(chan struct{})
	for _, c := range evicted {
		w.evicting[ChunkPos{X: c.x, Z: c.z}] = done
	}
	w.evictions++
	loaded := len(w.chunks)
	w.mu.Unlock()

	for _, c := range evicted {
		if err := c.Unload(); err != nil {
			w.log.Error("unload chunk", "x", c.x, "z", c.z, "error", err)
		}
	}

	w.mu.Lock()
	for _, c := range evicted {
		pos := ChunkPos{X: c.x, Z: c.z}
		if w.evicting[pos] == done {
			delete(w.evicting, pos)
		}
	}
	w.mu.Unlock()
	close(done)

	w.log.Debug("unloaded chunks", "count", len(evicted), "loaded", loaded)
	return len(evicted)
}

// LoadedChunks returns the number of chunks in memory.
func (w *World) LoadedChunks() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

// LoadedRegions returns the number of open region files.
func (w *World) LoadedRegions() int {
	return w.regions.Len()
}

func groupByRegion(chunks []*Chunk) map[RegionPos][]*Chunk {
	groups := make(map[RegionPos][]*Chunk)
	for _, c := range chunks {
		rp := ChunkPos{X: c.x, Z: c.z}.Region()
		groups[rp] = append(groups[rp], c)
	}
	return groups
}

// forEachRegion runs fn over the chunks of each region, one goroutine per
// region and chunks of a region in sequence. Failures are joined.
func (w *World) forEachRegion(ctx context.Context, chunks []*Chunk, fn func(*Chunk) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.SaveWorkers)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, group := range groupByRegion(chunks) {
		group := group
		g.Go(func() error {
			for _, c := range group {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(c); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SaveAll writes every dirty chunk without unloading it.
func (w *World) SaveAll(ctx context.Context) error {
	w.mu.RLock()
	chunks := make([]*Chunk, 0, len(w.chunks))
	for _, c := range w.chunks {
		chunks = append(chunks, c)
	}
	w.mu.RUnlock()

	return w.forEachRegion(ctx, chunks, (*Chunk).Save)
}

// Shutdown unloads every chunk, saving dirty ones, and closes every region
// file. The World is empty afterwards and may be used again. Chunks not yet
// reached when ctx is cancelled are dropped unsaved.
func (w *World) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	chunks := make([]*Chunk, 0, len(w.chunks))
	for _, c := range w.chunks {
		chunks = append(chunks, c)
	}
	clear(w.chunks)
	pending := make(map[chan struct{}]struct{})
	for _, done := range w.evicting {
		pending[done] = struct{}{}
	}
	w.mu.Unlock()

	err := w.forEachRegion(ctx, chunks, (*Chunk).Unload)
wait:
	for done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
			break wait
		}
	}
	err = errors.Join(err, w.regions.CloseAll())
	for _, c := range chunks {
		c.stop()
	}

	w.log.Info("world map saved", "chunks", len(chunks), "dir", w.Dir())
	return err
}

// Close shuts the World down and stops its own autosave ticker, if any.
func (w *World) Close(ctx context.Context) error {
	err := w.Shutdown(ctx)
	if w.ticker != nil {
		w.ticker.Close()
	}
	return err
}
