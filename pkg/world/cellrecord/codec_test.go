package cellrecord

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Tnze/go-mc/nbt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBiomes = []BiomeRef{"minecraft:plains", "minecraft:ocean", "minecraft:forest", "minecraft:desert"}

func randomRecord(rng *rand.Rand, paletteSize int) *Record {
	r := &Record{X: rng.Int31n(100) - 50, Z: rng.Int31n(100) - 50}
	for i := 0; i < Size; i++ {
		r.Colors[i] = byte(rng.Intn(256))
		if n := rng.Intn(len(testBiomes) + 1); n < len(testBiomes) {
			r.Biomes[i] = testBiomes[n]
		}
		if paletteSize > 0 && rng.Intn(3) == 0 {
			r.Blocks[i] = NewBlockRef("minecraft:oak_leaves", map[string]string{
				"distance": fmt.Sprint(rng.Intn(paletteSize)),
			})
		}
	}
	return r
}

func decodeRaw(t *testing.T, data []byte) payload {
	t.Helper()
	raw, err := decoder.DecodeAll(data, nil)
	require.NoError(t, err)
	var p payload
	require.NoError(t, nbt.Unmarshal(raw, &p))
	return p
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, paletteSize := range []int{0, 1, 7, 40} {
		t.Run(fmt.Sprintf("palette=%d", paletteSize), func(t *testing.T) {
			want := randomRecord(rng, paletteSize)

			data, err := Encode(want)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, want.X, got.X)
			assert.Equal(t, want.Z, got.Z)
			assert.Equal(t, want.Colors, got.Colors)
			assert.Equal(t, want.Biomes, got.Biomes)
			assert.Equal(t, want.Blocks, got.Blocks)
		})
	}
}

func TestRoundTripEmptyRecord(t *testing.T) {
	data, err := Encode(&Record{X: 3, Z: 4})
	require.NoError(t, err)

	p := decodeRaw(t, data)
	assert.Empty(t, p.Biome)
	assert.Empty(t, p.Biomes)
	assert.Empty(t, p.Palette)
	assert.Empty(t, p.BlockStates)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &Record{X: 3, Z: 4}, got)
}

func TestUniformBiomeIsScalar(t *testing.T) {
	r := &Record{}
	for i := range r.Biomes {
		r.Biomes[i] = "minecraft:plains"
	}

	data, err := Encode(r)
	require.NoError(t, err)

	p := decodeRaw(t, data)
	assert.Equal(t, "minecraft:plains", p.Biome)
	assert.Empty(t, p.Biomes)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, r.Biomes, got.Biomes)
}

func TestBiomeMasksFirstSeenOrder(t *testing.T) {
	r := &Record{}
	r.Biomes[5] = "minecraft:ocean"
	r.Biomes[9] = "minecraft:plains"
	r.Biomes[Size-1] = "minecraft:ocean"

	data, err := Encode(r)
	require.NoError(t, err)

	p := decodeRaw(t, data)
	require.Len(t, p.Biomes, 2)
	assert.Equal(t, "minecraft:ocean", p.Biomes[0].Biome)
	assert.Equal(t, "minecraft:plains", p.Biomes[1].Biome)
	assert.Len(t, p.Biomes[0].Mask, maskBytes)
	assert.Equal(t, byte(1<<5), p.Biomes[0].Mask[0])
	assert.Equal(t, byte(0x80), p.Biomes[0].Mask[maskBytes-1])
}

func TestBitsFor(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 4},
		{1, 4},
		{15, 4},
		{16, 5},
		{255, 8},
		{256, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BitsFor(tt.size), "palette size %d", tt.size)
	}
}

func TestPackedWidthMatchesPalette(t *testing.T) {
	for _, size := range []int{1, 15, 16, 255, 256} {
		t.Run(fmt.Sprintf("palette=%d", size), func(t *testing.T) {
			r := &Record{}
			for i := 0; i < size; i++ {
				r.Blocks[i*7] = BlockRef(fmt.Sprintf("minecraft:block_%d", i))
			}

			data, err := Encode(r)
			require.NoError(t, err)

			p := decodeRaw(t, data)
			require.Len(t, p.Palette, size)
			perLong := 64 / BitsFor(size)
			assert.Len(t, p.BlockStates, (Size+perLong-1)/perLong)
			assert.Equal(t, "minecraft:block_0", p.Palette[0].Name)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, r.Blocks, got.Blocks)
		})
	}
}

func TestDecodeOlderSchema(t *testing.T) {
	legacy := struct {
		X      int32  `nbt:"x"`
		Z      int32  `nbt:"z"`
		Colors []byte `nbt:"colors"`
	}{X: 1, Z: 2, Colors: make([]byte, Size)}
	legacy.Colors[100] = 0x2d

	raw, err := nbt.Marshal(&legacy)
	require.NoError(t, err)

	got, err := Decode(encoder.EncodeAll(raw, nil))
	require.NoError(t, err)
	assert.Equal(t, byte(0x2d), got.Colors[100])
	for i := 0; i < Size; i++ {
		require.Empty(t, got.Biomes[i])
		require.Empty(t, got.Blocks[i])
	}
}

func TestDecodeShortMask(t *testing.T) {
	p := payload{
		Colors: make([]byte, Size),
		Biomes: []biomeMask{{Biome: "minecraft:ocean", Mask: []byte{0x03}}},
	}
	raw, err := nbt.Marshal(&p)
	require.NoError(t, err)

	got, err := Decode(encoder.EncodeAll(raw, nil))
	require.NoError(t, err)
	assert.Equal(t, BiomeRef("minecraft:ocean"), got.Biomes[0])
	assert.Equal(t, BiomeRef("minecraft:ocean"), got.Biomes[1])
	assert.Empty(t, got.Biomes[2])
}

func TestDecodeCorrupt(t *testing.T) {
	valid, err := Encode(randomRecord(rand.New(rand.NewSource(1)), 3))
	require.NoError(t, err)

	compress := func(p payload) []byte {
		raw, err := nbt.Marshal(&p)
		require.NoError(t, err)
		return encoder.EncodeAll(raw, nil)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a chunk record")},
		{"truncated", valid[:len(valid)/2]},
		{"short colors", compress(payload{Colors: make([]byte, 10)})},
		{"long mask", compress(payload{
			Colors: make([]byte, Size),
			Biomes: []biomeMask{{Biome: "minecraft:ocean", Mask: make([]byte, maskBytes+1)}},
		})},
		{"bad block_states length", compress(payload{
			Colors:      make([]byte, Size),
			Palette:     []paletteEntry{{Name: "minecraft:vine"}},
			BlockStates: make([]int64, 3),
		})},
		{"index past palette", compress(payload{
			Colors:      make([]byte, Size),
			Palette:     []paletteEntry{{Name: "minecraft:vine"}},
			BlockStates: append([]int64{0x5}, make([]int64, Size/16-1)...),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestBlockRef(t *testing.T) {
	ref := NewBlockRef("minecraft:vine", map[string]string{"south": "true", "east": "false"})
	assert.Equal(t, BlockRef("minecraft:vine[east=false,south=true]"), ref)
	assert.Equal(t, "minecraft:vine", ref.Name())
	assert.Equal(t, map[string]string{"east": "false", "south": "true"}, ref.Properties())

	plain := NewBlockRef("minecraft:grass", nil)
	assert.Equal(t, BlockRef("minecraft:grass"), plain)
	assert.Nil(t, plain.Properties())
}

func TestBlockRefCanonical(t *testing.T) {
	tests := []struct {
		in, want BlockRef
	}{
		{"", ""},
		{"minecraft:vine", "minecraft:vine"},
		{"minecraft:vine[south=true,east=false]", "minecraft:vine[east=false,south=true]"},
		{"minecraft:vine[]", "minecraft:vine"},
		{"minecraft:oak_leaves[weird]", "minecraft:oak_leaves[weird=]"},
		{"minecraft:oak_leaves[distance=1,persistent=false]", "minecraft:oak_leaves[distance=1,persistent=false]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got := tt.in.Canonical()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, got.Canonical())
		})
	}
}

func TestEncodeCanonicalizesBlocks(t *testing.T) {
	r := &Record{}
	r.Colors[0] = 4
	r.Blocks[0] = "minecraft:vine[south=true,east=false]"
	r.Blocks[1] = "minecraft:vine[east=false,south=true]"
	r.Blocks[2] = "minecraft:vine[]"
	r.Blocks[3] = "minecraft:oak_leaves[weird]"

	data, err := Encode(r)
	require.NoError(t, err)
	assert.Len(t, decodeRaw(t, data).Palette, 3, "spellings of one state share a slot")

	got, err := Decode(data)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, r.Blocks[i].Canonical(), got.Blocks[i], "cell %d", i)
	}

	// Canonical records come back unchanged.
	again, err := Encode(got)
	require.NoError(t, err)
	back, err := Decode(again)
	require.NoError(t, err)
	assert.Equal(t, got.Blocks, back.Blocks)
}

func manyBiomes(n int) *Record {
	r := &Record{}
	for i := range r.Biomes {
		r.Colors[i] = 4
		r.Biomes[i] = BiomeRef(fmt.Sprintf("test:biome_%d", i%n))
	}
	return r
}

func TestEncodeSizeLimit(t *testing.T) {
	data, err := Encode(manyBiomes(1024))
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, BiomeRef("test:biome_1023"), got.Biomes[1023])

	for _, n := range []int{2100, Size} {
		_, err := Encode(manyBiomes(n))
		assert.ErrorIs(t, err, ErrTooLarge, "%d biomes", n)
	}
}
