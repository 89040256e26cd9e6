package cellrecord

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrCorrupt is returned by Decode for malformed or truncated payloads.
	ErrCorrupt = errors.New("corrupt chunk record")
	// ErrTooLarge is returned by Encode for records Decode would refuse.
	ErrTooLarge = errors.New("chunk record too large")
)

const (
	maskBytes   = Size / 8
	minBits     = 4
	maxDecoded  = 4 << 20
	maxBitWidth = 32
)

var (
	encoder = mustEncoder()
	decoder = mustDecoder()
)

func mustEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("create zstd encoder: %v", err))
	}
	return enc
}

func mustDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		panic(fmt.Sprintf("create zstd decoder: %v", err))
	}
	return dec
}

// payload is the NBT layout of a record. Optional sections are omitted when
// empty, and records written before a section existed decode with it absent.
type payload struct {
	X           int32          `nbt:"x"`
	Z           int32          `nbt:"z"`
	Colors      []byte         `nbt:"colors"`
	Biome       string         `nbt:"biome,omitempty"`
	Biomes      []biomeMask    `nbt:"biomes,omitempty"`
	Palette     []paletteEntry `nbt:"palette,omitempty"`
	BlockStates []int64        `nbt:"block_states,omitempty"`
}

type biomeMask struct {
	Biome string `nbt:"biome"`
	Mask  []byte `nbt:"mask"`
}

type paletteEntry struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties,omitempty"`
}

// BitsFor returns the width of a packed detail-block index for a palette of
// the given size: max(4, ceil(log2(size+1))).
func BitsFor(paletteSize int) int {
	// ceil(log2(n+1)) is the bit length of n.
	return max(minBits, bits.Len(uint(paletteSize)))
}

// Encode serializes r into a compressed payload. Detail blocks are written in
// canonical form. Records whose uncompressed payload exceeds the Decode limit
// fail with ErrTooLarge.
func Encode(r *Record) ([]byte, error) {
	p := payload{
		X:      r.X,
		Z:      r.Z,
		Colors: r.Colors[:],
	}
	encodeBiomes(r, &p)
	encodeBlocks(r, &p)

	raw, err := nbt.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk (%d,%d): %w", r.X, r.Z, err)
	}
	if len(raw) > maxDecoded {
		return nil, fmt.Errorf("%w: chunk (%d,%d) is %d bytes, limit %d", ErrTooLarge, r.X, r.Z, len(raw), maxDecoded)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

func encodeBiomes(r *Record, p *payload) {
	var order []BiomeRef
	groups := make(map[BiomeRef][]byte)
	uniform := true

	for i, b := range r.Biomes {
		if b != r.Biomes[0] {
			uniform = false
		}
		if b == "" {
			continue
		}
		mask, ok := groups[b]
		if !ok {
			mask = make([]byte, maskBytes)
			groups[b] = mask
			order = append(order, b)
		}
		mask[i/8] |= 1 << (i % 8)
	}

	if uniform {
		p.Biome = string(r.Biomes[0])
		return
	}
	for _, b := range order {
		p.Biomes = append(p.Biomes, biomeMask{Biome: string(b), Mask: groups[b]})
	}
}

func encodeBlocks(r *Record, p *payload) {
	// Spellings of one state share a palette slot.
	ids := make(map[BlockRef]int)
	index := make(map[BlockRef]int)
	for _, b := range r.Blocks {
		if b == "" {
			continue
		}
		if _, ok := ids[b]; ok {
			continue
		}
		canon := b.Canonical()
		id, ok := index[canon]
		if !ok {
			id = len(p.Palette) + 1
			index[canon] = id
			p.Palette = append(p.Palette, paletteEntry{Name: canon.Name(), Properties: canon.Properties()})
		}
		ids[b] = id
	}
	if len(p.Palette) == 0 {
		return
	}

	storage := level.NewBitStorage(BitsFor(len(p.Palette)), Size, nil)
	for i, b := range r.Blocks {
		if b != "" {
			storage.Set(i, ids[b])
		}
	}

	packed := storage.Raw()
	p.BlockStates = make([]int64, len(packed))
	for i, v := range packed {
		p.BlockStates[i] = int64(v)
	}
}

// Decode parses a payload produced by Encode. Failures wrap ErrCorrupt.
func Decode(data []byte) (r *Record, err error) {
	// Malformed NBT must never take the caller down.
	defer func() {
		if v := recover(); v != nil {
			r, err = nil, fmt.Errorf("%w: %v", ErrCorrupt, v)
		}
	}()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}

	var p payload
	if err := nbt.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrCorrupt, err)
	}
	if len(p.Colors) != Size {
		return nil, fmt.Errorf("%w: colors length %d", ErrCorrupt, len(p.Colors))
	}

	r = &Record{X: p.X, Z: p.Z}
	copy(r.Colors[:], p.Colors)

	if err := decodeBiomes(&p, r); err != nil {
		return nil, err
	}
	if err := decodeBlocks(&p, r); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeBiomes(p *payload, r *Record) error {
	if p.Biome != "" {
		for i := range r.Biomes {
			r.Biomes[i] = BiomeRef(p.Biome)
		}
		return nil
	}

	for _, g := range p.Biomes {
		if len(g.Mask) > maskBytes {
			return fmt.Errorf("%w: biome mask length %d", ErrCorrupt, len(g.Mask))
		}
		if g.Biome == "" {
			continue
		}
		b := BiomeRef(g.Biome)
		for i, m := range g.Mask {
			for bit := 0; m != 0; bit++ {
				if m&1 != 0 {
					r.Biomes[i*8+bit] = b
				}
				m >>= 1
			}
		}
	}
	return nil
}

func decodeBlocks(p *payload, r *Record) error {
	if len(p.BlockStates) == 0 {
		return nil
	}

	width := BitsFor(len(p.Palette))
	if width > maxBitWidth {
		return fmt.Errorf("%w: palette size %d", ErrCorrupt, len(p.Palette))
	}
	perLong := 64 / width
	if want := (Size + perLong - 1) / perLong; len(p.BlockStates) != want {
		return fmt.Errorf("%w: block_states length %d, want %d", ErrCorrupt, len(p.BlockStates), want)
	}

	packed := make([]uint64, len(p.BlockStates))
	for i, v := range p.BlockStates {
		packed[i] = uint64(v)
	}

	palette := make([]BlockRef, len(p.Palette))
	for i, e := range p.Palette {
		palette[i] = NewBlockRef(e.Name, e.Properties)
	}

	storage := level.NewBitStorage(width, Size, packed)
	for i := range r.Blocks {
		id := storage.Get(i)
		if id == 0 {
			continue
		}
		if id > len(palette) {
			return fmt.Errorf("%w: palette index %d out of %d", ErrCorrupt, id, len(palette))
		}
		r.Blocks[i] = palette[id-1]
	}
	return nil
}
