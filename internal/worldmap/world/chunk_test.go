package world

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/worldmap/internal/worldmap/schedule"
	"github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"
	"github.com/OCharnyshevich/worldmap/pkg/world/region"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func openRegion(t *testing.T, dir string, x, z int) *region.File {
	t.Helper()
	rf, err := region.LoadOrCreate(dir, x, z, discard)
	require.NoError(t, err)
	require.True(t, rf.Retain())
	return rf
}

func TestChunkPutColor(t *testing.T) {
	c := NewChunk(0, 0, nil, ChunkOptions{Logger: discard})
	assert.True(t, c.Empty())
	assert.False(t, c.Dirty())

	assert.True(t, c.PutColor(130, 5, 0x15), "absolute coordinates are masked")
	assert.False(t, c.Empty())
	assert.True(t, c.Dirty())
	assert.Equal(t, byte(0x15), c.Color(2, 5))

	assert.False(t, c.PutColor(2, 5, 0x15), "unchanged")
}

func TestChunkLockedRefusesMutation(t *testing.T) {
	c := NewChunk(0, 0, nil, ChunkOptions{Logger: discard})
	c.locked = true

	assert.False(t, c.PutColor(1, 1, 4))
	assert.False(t, c.PutBiome(1, 1, "minecraft:plains"))
	assert.False(t, c.PutDetailBlock(1, 1, "minecraft:oak_leaves"))
	assert.False(t, c.PutCell(1, 1, Cell{Color: 4}))
	assert.True(t, c.Empty())
	assert.False(t, c.Dirty())
}

func TestChunkDetailFilter(t *testing.T) {
	c := NewChunk(0, 0, nil, ChunkOptions{Logger: discard})

	assert.True(t, c.PutDetailBlock(0, 0, "minecraft:oak_leaves[distance=1,persistent=false]"))
	assert.Equal(t, cellrecord.BlockRef("minecraft:oak_leaves[distance=1,persistent=false]"), c.DetailBlock(0, 0))

	assert.True(t, c.PutDetailBlock(0, 0, "minecraft:stone"), "replacing with a filtered block clears the cell")
	assert.Equal(t, cellrecord.BlockRef(""), c.DetailBlock(0, 0))
	assert.False(t, c.PutDetailBlock(1, 0, "minecraft:stone"))
}

func TestDefaultDetailFilter(t *testing.T) {
	tests := []struct {
		ref  cellrecord.BlockRef
		want bool
	}{
		{"minecraft:grass_block[snowy=false]", true},
		{"minecraft:grass", true},
		{"minecraft:tall_grass[half=lower]", true},
		{"minecraft:vine[east=true]", true},
		{"minecraft:birch_leaves", true},
		{"minecraft:stone", false},
		{"minecraft:water[level=0]", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultDetailFilter(tt.ref), string(tt.ref))
	}
}

func TestAllowList(t *testing.T) {
	f := AllowList([]string{"minecraft:vine", "*_leaves"})
	assert.True(t, f("minecraft:vine[up=true]"))
	assert.True(t, f("minecraft:jungle_leaves"))
	assert.False(t, f("minecraft:grass_block"))
}

func TestChunkPutCell(t *testing.T) {
	c := NewChunk(0, 0, nil, ChunkOptions{Logger: discard})
	cell := Cell{Color: 0x1d, Biome: "minecraft:forest", Block: "minecraft:grass_block[snowy=false]"}

	assert.True(t, c.PutCell(7, 9, cell))
	assert.Equal(t, cell, c.Cell(7, 9))
	assert.False(t, c.PutCell(7, 9, cell))

	cell.Biome = "minecraft:plains"
	assert.True(t, c.PutCell(7, 9, cell))
	assert.Equal(t, cell, c.Cell(7, 9))
}

func TestChunkGeometry(t *testing.T) {
	c := NewChunk(-1, 2, nil, ChunkOptions{Logger: discard})

	assert.Equal(t, -128, c.StartX())
	assert.Equal(t, 256, c.StartZ())
	assert.Equal(t, -64, c.CenterX())
	assert.Equal(t, 320, c.CenterZ())

	assert.True(t, c.IsBlockIn(-1, 256))
	assert.True(t, c.IsBlockIn(-128, 383))
	assert.False(t, c.IsBlockIn(0, 256))
	assert.False(t, c.IsBlockIn(-1, 384))

	assert.True(t, c.IsCenterInBox(-64, 320, -63, 321))
	assert.False(t, c.IsCenterInBox(-200, 0, -64, 1000), "end is exclusive")
}

func TestChunkSaveTransientIsNoop(t *testing.T) {
	c := NewChunk(0, 0, nil, ChunkOptions{Logger: discard})
	c.PutColor(0, 0, 4)

	require.NoError(t, c.Save())
	assert.True(t, c.Dirty())
	require.NoError(t, c.Unload())
}

func TestChunkSaveClearsDirty(t *testing.T) {
	dir := t.TempDir()
	rf := openRegion(t, dir, 0, 0)

	c := NewChunk(3, 4, rf, ChunkOptions{Logger: discard})
	require.NoError(t, c.Save(), "empty chunk")
	assert.False(t, rf.HasChunk(3, 4))

	c.PutColor(10, 10, 0x05)
	require.NoError(t, c.Save())
	assert.False(t, c.Dirty())
	assert.False(t, c.Locked())
	assert.True(t, rf.HasChunk(3, 4))

	rec := rf.LoadChunk(3, 4)
	require.NotNil(t, rec)
	assert.Equal(t, byte(0x05), rec.Colors[cellrecord.Index(10, 10)])

	require.NoError(t, c.Unload())
	assert.True(t, rf.Closed())
}

func TestChunkFailedSaveStaysDirty(t *testing.T) {
	rf := openRegion(t, t.TempDir(), 0, 0)
	c := NewChunk(0, 0, rf, ChunkOptions{Logger: discard})
	c.PutColor(0, 0, 4)

	require.NoError(t, rf.Close())
	err := c.Save()
	require.ErrorIs(t, err, region.ErrClosed)
	assert.True(t, c.Dirty())
	assert.False(t, c.Locked())
}

func TestChunkAutosave(t *testing.T) {
	rf := openRegion(t, t.TempDir(), 0, 0)
	sched := schedule.NewManual()

	c := NewChunk(1, 1, rf, ChunkOptions{Logger: discard, Scheduler: sched})
	assert.Equal(t, 1, sched.Len())

	c.PutColor(128, 128, 0x22)
	sched.Advance(DefaultAutosaveInterval - 1)
	assert.True(t, c.Dirty())

	sched.Advance(1)
	assert.False(t, c.Dirty())
	assert.True(t, rf.HasChunk(1, 1))

	require.NoError(t, c.Unload())
	assert.Equal(t, 0, sched.Len(), "unload cancels autosave")
}

func TestChunkUnload(t *testing.T) {
	dir := t.TempDir()
	rf := openRegion(t, dir, 0, 0)
	require.True(t, rf.Retain())

	a := NewChunk(0, 0, rf, ChunkOptions{Logger: discard})
	b := NewChunk(1, 0, rf, ChunkOptions{Logger: discard})
	a.PutColor(0, 0, 4)
	b.PutColor(128, 0, 8)

	require.NoError(t, a.Unload())
	assert.True(t, a.Locked())
	assert.False(t, a.PutColor(1, 1, 4))
	assert.False(t, rf.Closed(), "b still loaded")
	assert.True(t, rf.HasChunk(0, 0))

	require.NoError(t, b.Unload())
	assert.True(t, rf.Closed())
	require.NoError(t, b.Unload(), "second unload is a no-op")

	reopened, err := region.Load(dir, 0, 0, discard)
	require.NoError(t, err)
	defer reopened.Close()
	rec := reopened.LoadChunk(1, 0)
	require.NotNil(t, rec)
	assert.Equal(t, byte(8), rec.Colors[0])
}

func TestChunkDetailBlockCanonical(t *testing.T) {
	dir := t.TempDir()
	c := NewChunk(0, 0, openRegion(t, dir, 0, 0), ChunkOptions{Logger: discard})

	require.True(t, c.PutCell(0, 0, Cell{Color: 4, Block: "minecraft:vine[south=true,east=false]"}))
	assert.Equal(t, cellrecord.BlockRef("minecraft:vine[east=false,south=true]"), c.DetailBlock(0, 0))
	assert.False(t, c.PutDetailBlock(0, 0, "minecraft:vine[east=false,south=true]"), "same state")

	require.True(t, c.PutDetailBlock(1, 0, "minecraft:oak_leaves[weird]"))
	require.True(t, c.PutDetailBlock(2, 0, "minecraft:vine[]"))
	want := c.Snapshot().Blocks
	require.NoError(t, c.Unload())

	rf := openRegion(t, dir, 0, 0)
	defer rf.Close()
	rec := rf.LoadChunk(0, 0)
	require.NotNil(t, rec)
	assert.Equal(t, want, rec.Blocks)
}

func TestChunkFromRecordStartsAutosaveLast(t *testing.T) {
	rec := &cellrecord.Record{X: 1, Z: 2}
	rec.Colors[7] = 4

	sched := schedule.NewManual()
	c := chunkFromRecord(rec, openRegion(t, t.TempDir(), 0, 0), ChunkOptions{
		Scheduler:        sched,
		AutosaveInterval: time.Second,
		Logger:           discard,
	})
	assert.Equal(t, 1, sched.Len())
	assert.False(t, c.Empty())
	assert.False(t, c.Dirty())
	require.NoError(t, c.Unload())
	assert.Equal(t, 0, sched.Len())
}
