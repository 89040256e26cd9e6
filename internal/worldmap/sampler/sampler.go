// Package sampler paints synthetic terrain into the map, standing in for a
// live game when exploring from the command line.
package sampler

import (
	"github.com/OCharnyshevich/worldmap/internal/worldmap/world"
	"github.com/OCharnyshevich/worldmap/pkg/world/cellrecord"
)

// Base map color ids.
const (
	ColorGrass   = 1
	ColorSand    = 2
	ColorFoliage = 7
	ColorSnow    = 8
	ColorStone   = 11
	ColorWater   = 12
)

// SeaLevel is the height below which terrain is flooded.
const SeaLevel = 62

const (
	grassBlock = cellrecord.BlockRef("minecraft:grass_block[snowy=false]")
	oakLeaves  = cellrecord.BlockRef("minecraft:oak_leaves[distance=1,persistent=false]")
)

// Terrain derives heights, biomes and trees from seeded noise.
type Terrain struct {
	// Radius limits the available game chunks to |x|, |z| <= Radius; 0 means unlimited.
	Radius int

	height *Noise
	temp   *Noise
	trees  *Noise
}

// NewTerrain creates a Terrain for seed.
func NewTerrain(seed int64) *Terrain {
	return &Terrain{
		height: NewNoise(seed),
		temp:   NewNoise(seed + 1),
		trees:  NewNoise(seed + 2),
	}
}

// HeightAt returns the surface height of a block column.
func (t *Terrain) HeightAt(x, z int) int {
	return SeaLevel + 2 + int(t.height.Octaves(float64(x)/256, float64(z)/256, 5, 0.5)*48)
}

func (t *Terrain) forested(x, z int) bool {
	return t.trees.At(float64(x)/24, float64(z)/24) > 0.25
}

// BiomeAt returns the biome of a block column.
func (t *Terrain) BiomeAt(x, z int) cellrecord.BiomeRef {
	h := t.HeightAt(x, z)
	temp := t.temp.Octaves(float64(x)/1024, float64(z)/1024, 2, 0.5)

	switch {
	case h < SeaLevel && temp > 0.4:
		return "minecraft:warm_ocean"
	case h < SeaLevel:
		return "minecraft:ocean"
	case h < SeaLevel+2:
		return "minecraft:beach"
	case temp > 0.35:
		return "minecraft:desert"
	case temp < -0.35:
		return "minecraft:snowy_plains"
	case h > 100:
		return "minecraft:stony_peaks"
	case t.forested(x, z):
		return "minecraft:forest"
	default:
		return "minecraft:plains"
	}
}

// CellAt computes the map cell of a block column.
func (t *Terrain) CellAt(x, z int) world.Cell {
	h := t.HeightAt(x, z)
	biome := t.BiomeAt(x, z)
	checker := float64((x + z) & 1)

	if h < SeaLevel {
		depth := float64(SeaLevel - h)
		shade := shadeFor(depth*0.1+checker*0.2, 0.5, 0.9, true)
		return world.Cell{Color: ColorWater*4 + shade, Biome: biome}
	}

	north := t.HeightAt(x, z-1)
	shade := shadeFor(float64(h-north)*4/5+(checker-0.5)*0.4, -0.6, 0.6, false)

	cell := world.Cell{Biome: biome}
	switch biome {
	case "minecraft:beach", "minecraft:desert":
		cell.Color = ColorSand*4 + shade
	case "minecraft:snowy_plains":
		cell.Color = ColorSnow*4 + shade
	case "minecraft:stony_peaks":
		cell.Color = ColorStone*4 + shade
	case "minecraft:forest":
		cell.Color = ColorFoliage*4 + shade
		cell.Block = oakLeaves
	default:
		cell.Color = ColorGrass*4 + shade
		cell.Block = grassBlock
	}
	return cell
}

// shadeFor maps a slope or depth test value to a shade: 1 by default, with
// lo and hi as the thresholds for the darker and lighter variants. Water
// shading is inverted: low values are lighter.
func shadeFor(v, lo, hi float64, water bool) byte {
	switch {
	case water && v < lo, !water && v > hi:
		return 2
	case water && v > hi, !water && v < lo:
		return 0
	default:
		return 1
	}
}

// Sample paints the 16x16 game chunk through put. It returns false when the
// chunk lies outside Radius.
func (t *Terrain) Sample(chunkX, chunkZ int, put func(x, z int, c world.Cell) bool) bool {
	if t.Radius > 0 && (abs(chunkX) > t.Radius || abs(chunkZ) > t.Radius) {
		return false
	}
	startX, startZ := chunkX<<4, chunkZ<<4
	for dz := 0; dz < 16; dz++ {
		for dx := 0; dx < 16; dx++ {
			x, z := startX+dx, startZ+dz
			put(x, z, t.CellAt(x, z))
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
