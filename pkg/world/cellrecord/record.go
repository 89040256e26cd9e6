package cellrecord

import (
	"sort"
	"strings"
)

const (
	// Width is the number of cells along one side of a map chunk.
	Width = 128
	// Size is the number of cells in a map chunk (128×128).
	Size = Width * Width
)

// BiomeRef identifies a biome, e.g. "minecraft:plains". The empty ref means absent.
type BiomeRef string

// BlockRef identifies a block state in canonical form: name followed by its
// properties sorted by key, e.g. "minecraft:oak_leaves[distance=1,persistent=false]".
// The empty ref means absent.
type BlockRef string

// NewBlockRef builds the canonical ref for a block name and its properties.
func NewBlockRef(name string, props map[string]string) BlockRef {
	if len(props) == 0 {
		return BlockRef(name)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
	}
	b.WriteByte(']')
	return BlockRef(b.String())
}

// Canonical returns r rebuilt from its name and properties, which is the form
// Decode produces: properties sorted by key, "x[]" becomes "x" and a bare
// "x[flag]" becomes "x[flag=]".
func (r BlockRef) Canonical() BlockRef {
	if r == "" {
		return r
	}
	return NewBlockRef(r.Name(), r.Properties())
}

// Name returns the block name without properties.
func (r BlockRef) Name() string {
	s := string(r)
	if i := strings.IndexByte(s, '['); i >= 0 {
		return s[:i]
	}
	return s
}

// Properties returns the block state properties, or nil if there are none.
func (r BlockRef) Properties() map[string]string {
	s := string(r)
	i := strings.IndexByte(s, '[')
	if i < 0 || !strings.HasSuffix(s, "]") {
		return nil
	}
	body := s[i+1 : len(s)-1]
	if body == "" {
		return nil
	}

	props := make(map[string]string)
	for _, kv := range strings.Split(body, ",") {
		k, v, _ := strings.Cut(kv, "=")
		props[k] = v
	}
	return props
}

// Record is the storable content of one map chunk: three parallel arrays of
// Size cells indexed by (x & 127) + (z & 127) * 128.
type Record struct {
	X, Z   int32
	Colors [Size]byte
	Biomes [Size]BiomeRef
	Blocks [Size]BlockRef
}

// Index returns the cell index of the given (possibly absolute) block coordinates.
func Index(x, z int) int {
	return (x & (Width - 1)) + (z&(Width-1))*Width
}
