package world

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/schedule"
	"github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

// DefaultAutosaveInterval is how often a loaded chunk saves itself.
const DefaultAutosaveInterval = 6 * time.Minute

// DetailFilter reports whether a block is worth storing as a detail block.
type DetailFilter func(cellrecord.BlockRef) bool

// DefaultDetailFilter accepts the blocks whose colors vary with the biome.
func DefaultDetailFilter(ref cellrecord.BlockRef) bool {
	switch name := ref.Name(); name {
	case "minecraft:grass_block", "minecraft:grass", "minecraft:tall_grass", "minecraft:vine":
		return true
	default:
		return strings.HasSuffix(name, "_leaves")
	}
}

// AllowList builds a DetailFilter from block names. A name starting with '*'
// matches every block ending with the rest of it, e.g. "*_leaves".
func AllowList(names []string) DetailFilter {
	exact := make(map[string]bool, len(names))
	var suffixes []string
	for _, n := range names {
		if s, ok := strings.CutPrefix(n, "*"); ok {
			suffixes = append(suffixes, s)
		} else {
			exact[n] = true
		}
	}
	return func(ref cellrecord.BlockRef) bool {
		name := ref.Name()
		if exact[name] {
			return true
		}
		for _, s := range suffixes {
			if strings.HasSuffix(name, s) {
				return true
			}
		}
		return false
	}
}

// ChunkOptions configures chunks created by a World.
type ChunkOptions struct {
	Filter           DetailFilter
	Scheduler        schedule.Scheduler
	AutosaveInterval time.Duration
	Logger           *slog.Logger
}

// Chunk is one 128x128 tile of the map held in memory.
//
// Mutations are refused while the chunk is locked, which happens during a
// save and permanently once unloading starts. The mutex only protects the
// arrays and flags; file access is serialized by the owning region.
type Chunk struct {
	x, z   int
	region *region.File
	filter DetailFilter
	log    *slog.Logger

	mu        sync.Mutex
	colors    [cellrecord.Size]byte
	biomes    [cellrecord.Size]cellrecord.BiomeRef
	blocks    [cellrecord.Size]cellrecord.BlockRef
	dirty     bool
	empty     bool
	locked    bool
	unloading bool
	autosave  schedule.Handle
}

// NewChunk creates a blank chunk. rf must already be retained for it; a nil
// rf makes a transient chunk that is never saved.
func NewChunk(x, z int, rf *region.File, opts ChunkOptions) *Chunk {
	c := newChunk(x, z, rf, opts)
	c.startAutosave(opts)
	return c
}

func newChunk(x, z int, rf *region.File, opts ChunkOptions) *Chunk {
	if opts.Filter == nil {
		opts.Filter = DefaultDetailFilter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chunk{
		x:      x,
		z:      z,
		region: rf,
		filter: opts.Filter,
		log:    opts.Logger,
		empty:  true,
	}
}

// chunkFromRecord fills the arrays before the autosave can observe them.
func chunkFromRecord(rec *cellrecord.Record, rf *region.File, opts ChunkOptions) *Chunk {
	c := newChunk(int(rec.X), int(rec.Z), rf, opts)
	c.colors = rec.Colors
	c.biomes = rec.Biomes
	c.blocks = rec.Blocks
	for _, col := range c.colors {
		if col != 0 {
			c.empty = false
			break
		}
	}
	c.startAutosave(opts)
	return c
}

func (c *Chunk) startAutosave(opts ChunkOptions) {
	if c.region == nil || opts.Scheduler == nil {
		return
	}
	interval := opts.AutosaveInterval
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	h := opts.Scheduler.Every(interval, c.autosaveTick)

	c.mu.Lock()
	c.autosave = h
	c.mu.Unlock()
}

func (c *Chunk) autosaveTick() {
	if err := c.Save(); err != nil {
		c.log.Warn("autosave chunk", "x", c.x, "z", c.z, "error", err)
	}
}

// X returns the chunk X coordinate.
func (c *Chunk) X() int { return c.x }

// Z returns the chunk Z coordinate.
func (c *Chunk) Z() int { return c.z }

// Transient reports whether the chunk has no backing region.
func (c *Chunk) Transient() bool { return c.region == nil }

// StartX returns the block X coordinate of the chunk's west edge.
func (c *Chunk) StartX() int { return c.x << ChunkShift }

// StartZ returns the block Z coordinate of the chunk's north edge.
func (c *Chunk) StartZ() int { return c.z << ChunkShift }

// CenterX returns the block X coordinate of the chunk's center.
func (c *Chunk) CenterX() int { return c.StartX() + ChunkWidth/2 }

// CenterZ returns the block Z coordinate of the chunk's center.
func (c *Chunk) CenterZ() int { return c.StartZ() + ChunkWidth/2 }

// IsBlockIn reports whether the block lies in this chunk.
func (c *Chunk) IsBlockIn(x, z int) bool {
	sx, sz := c.StartX(), c.StartZ()
	return sx <= x && sz <= z && x < sx+ChunkWidth && z < sz+ChunkWidth
}

// IsCenterInBox reports whether the chunk center lies in [start, end) on both axes.
func (c *Chunk) IsCenterInBox(startX, startZ, endX, endZ int) bool {
	cx, cz := c.CenterX(), c.CenterZ()
	return startX <= cx && cx < endX && startZ <= cz && cz < endZ
}

// Empty reports whether no cell has a color yet.
func (c *Chunk) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.empty
}

// Dirty reports whether the chunk has changes not yet saved.
func (c *Chunk) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Locked reports whether mutations are currently refused.
func (c *Chunk) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Color returns the color byte of the cell at absolute block coordinates.
func (c *Chunk) Color(x, z int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.colors[cellrecord.Index(x, z)]
}

// PutColor sets a cell color. It returns false when locked or unchanged.
func (c *Chunk) PutColor(x, z int, color byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	return c.putColorLocked(cellrecord.Index(x, z), color)
}

func (c *Chunk) putColorLocked(i int, color byte) bool {
	if color != 0 {
		c.empty = false
	}
	if c.colors[i] == color {
		return false
	}
	c.colors[i] = color
	c.dirty = true
	return c.dirty
}

// Biome returns the biome of the cell, or "" when unknown.
func (c *Chunk) Biome(x, z int) cellrecord.BiomeRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.biomes[cellrecord.Index(x, z)]
}

// PutBiome sets a cell biome. It returns false when locked or unchanged.
func (c *Chunk) PutBiome(x, z int, biome cellrecord.BiomeRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	return c.putBiomeLocked(cellrecord.Index(x, z), biome)
}

func (c *Chunk) putBiomeLocked(i int, biome cellrecord.BiomeRef) bool {
	if c.biomes[i] == biome {
		return false
	}
	c.biomes[i] = biome
	c.dirty = true
	return c.dirty
}

// DetailBlock returns the detail block of the cell, or "" when there is none.
func (c *Chunk) DetailBlock(x, z int) cellrecord.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[cellrecord.Index(x, z)]
}

// PutDetailBlock sets a cell detail block. The ref is stored in canonical
// form; blocks rejected by the chunk's filter are stored as absent. It
// returns false when locked or unchanged.
func (c *Chunk) PutDetailBlock(x, z int, block cellrecord.BlockRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	return c.putBlockLocked(cellrecord.Index(x, z), block)
}

func (c *Chunk) putBlockLocked(i int, block cellrecord.BlockRef) bool {
	if block != "" {
		block = block.Canonical()
		if !c.filter(block) {
			block = ""
		}
	}
	if c.blocks[i] == block {
		return false
	}
	c.blocks[i] = block
	c.dirty = true
	return c.dirty
}

// Cell returns the full content of a cell.
func (c *Chunk) Cell(x, z int) Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := cellrecord.Index(x, z)
	return Cell{Color: c.colors[i], Biome: c.biomes[i], Block: c.blocks[i]}
}

// PutCell sets color, biome and detail block of a cell in one step.
// It returns true if anything changed.
func (c *Chunk) PutCell(x, z int, cell Cell) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	i := cellrecord.Index(x, z)
	changed := c.putColorLocked(i, cell.Color)
	changed = c.putBiomeLocked(i, cell.Biome) || changed
	changed = c.putBlockLocked(i, cell.Block) || changed
	return changed
}

// Pos implements region.Chunk.
func (c *Chunk) Pos() (x, z int) { return c.x, c.z }

// Snapshot implements region.Chunk. It returns nil for empty or clean chunks.
func (c *Chunk) Snapshot() *cellrecord.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.empty || !c.dirty {
		return nil
	}
	return &cellrecord.Record{
		X:      int32(c.x),
		Z:      int32(c.z),
		Colors: c.colors,
		Biomes: c.biomes,
		Blocks: c.blocks,
	}
}

// Saved implements region.Chunk.
func (c *Chunk) Saved(err error) {
	if err != nil {
		return
	}
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

// Save writes the chunk to its region if it has unsaved content. A failed
// save leaves the chunk dirty so the next attempt retries it.
func (c *Chunk) Save() error {
	c.mu.Lock()
	if c.empty || !c.dirty || c.region == nil || c.unloading {
		c.mu.Unlock()
		return nil
	}
	c.locked = true
	c.mu.Unlock()

	err := c.region.SaveChunk(c)

	c.mu.Lock()
	c.locked = c.unloading
	unloading := c.unloading
	c.mu.Unlock()

	if unloading && errors.Is(err, region.ErrClosed) {
		return nil
	}
	return err
}

// Unload locks the chunk for good, stops its autosave and hands it back to
// its region, which saves it and closes once no chunk of it remains.
// Calling Unload again is a no-op.
func (c *Chunk) Unload() error {
	if !c.stop() || c.region == nil {
		return nil
	}
	if err := c.region.UnloadChunk(c); err != nil {
		return fmt.Errorf("unload chunk (%d,%d): %w", c.x, c.z, err)
	}
	return nil
}

// stop locks the chunk and cancels its autosave. It returns false if the
// chunk was already stopped.
func (c *Chunk) stop() bool {
	c.mu.Lock()
	if c.unloading {
		c.mu.Unlock()
		return false
	}
	c.unloading = true
	c.locked = true
	h := c.autosave
	c.autosave = nil
	c.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	return true
}

func (c *Chunk) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("Chunk{x=%d, z=%d, locked=%t, empty=%t, dirty=%t}", c.x, c.z, c.locked, c.empty, c.dirty)
}
