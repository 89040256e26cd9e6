package world

import "github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"

const (
	// ChunkShift converts block coordinates to map chunk coordinates.
	ChunkShift = 7
	// RegionShift converts map chunk coordinates to region coordinates.
	RegionShift = 3
	// ChunkWidth is the number of blocks along one side of a map chunk.
	ChunkWidth = cellrecord.Width
	// ViewRange is the half-size in blocks of the retention box around the view position.
	ViewRange = 12800
)

// Pos is an absolute block position on the horizontal plane.
type Pos struct {
	X, Z int
}

// Chunk returns the map chunk containing the position.
func (p Pos) Chunk() ChunkPos {
	return ChunkPos{X: BlockToChunk(p.X), Z: BlockToChunk(p.Z)}
}

// ChunkPos identifies a 128x128 map chunk.
type ChunkPos struct {
	X, Z int
}

// Region returns the region holding the chunk.
func (p ChunkPos) Region() RegionPos {
	return RegionPos{X: p.X >> RegionShift, Z: p.Z >> RegionShift}
}

// RegionPos identifies an 8x8 group of map chunks stored in one file.
type RegionPos struct {
	X, Z int
}

// BlockToChunk converts a block coordinate to a map chunk coordinate.
func BlockToChunk(c int) int {
	return c >> ChunkShift
}

// Cell is the content of one map cell.
type Cell struct {
	// Color is baseColorId*4 + shade; 0 means no data.
	Color byte
	Biome cellrecord.BiomeRef
	Block cellrecord.BlockRef
}
