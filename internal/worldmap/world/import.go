package world

import "github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"

// MapState is the image of a vanilla map item: 128x128 colors covering
// 128<<Scale blocks per side from its corner.
type MapState struct {
	CornerX, CornerZ int
	Scale            int
	Colors           [cellrecord.Size]byte
}

// NewMapState creates a MapState from the item's center and scale, the way
// the game stores them.
func NewMapState(centerX, centerZ, scale int, colors []byte) MapState {
	m := MapState{
		CornerX: centerX - 64<<scale,
		CornerZ: centerZ - 64<<scale,
		Scale:   scale,
	}
	copy(m.Colors[:], colors)
	return m
}

// ImportMapState copies a map item image into the world. Cells that already
// have a base color are kept. It returns the number of cells written.
func (w *World) ImportMapState(m MapState) int {
	scale := 1 << m.Scale
	side := ChunkWidth * scale

	written := 0
	for z := 0; z < side; z++ {
		row := (z / scale) * ChunkWidth
		bz := m.CornerZ + z
		for x := 0; x < side; x++ {
			color := m.Colors[row+x/scale]
			if color>>2 == 0 {
				continue
			}

			bx := m.CornerX + x
			c := w.GetOrCreate(BlockToChunk(bx), BlockToChunk(bz))
			if c.Color(bx, bz)>>2 == 0 && c.PutColor(bx, bz, color) {
				written++
			}
		}
	}
	return written
}
