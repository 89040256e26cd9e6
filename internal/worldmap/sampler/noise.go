package sampler

// 2D simplex noise. Values lie in [-1, 1].

var gradients = [8][2]float64{
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
}

// Noise produces deterministic simplex noise from a seed.
type Noise struct {
	perm [512]uint8
}

// NewNoise creates a Noise with a permutation table shuffled from seed.
func NewNoise(seed int64) *Noise {
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}

	// Fisher-Yates driven by an LCG.
	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s >> 33) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}

	n := &Noise{}
	for i := range n.perm {
		n.perm[i] = p[i&255]
	}
	return n
}

// At returns the noise value at (x, z).
func (n *Noise) At(x, z float64) float64 {
	const (
		skew   = 0.36602540378443864676 // (sqrt(3) - 1) / 2
		unskew = 0.21132486540518711775 // (3 - sqrt(3)) / 6
	)

	s := (x + z) * skew
	i, j := floor(x+s), floor(z+s)

	t := float64(i+j) * unskew
	x0 := x - (float64(i) - t)
	z0 := z - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > z0 {
		i1, j1 = 1, 0
	}

	x1, z1 := x0-float64(i1)+unskew, z0-float64(j1)+unskew
	x2, z2 := x0-1+2*unskew, z0-1+2*unskew

	ii, jj := i&255, j&255
	return 70 * (n.corner(ii+int(n.perm[jj]), x0, z0) +
		n.corner(ii+i1+int(n.perm[jj+j1]), x1, z1) +
		n.corner(ii+1+int(n.perm[jj+1]), x2, z2))
}

func (n *Noise) corner(h int, x, z float64) float64 {
	t := 0.5 - x*x - z*z
	if t < 0 {
		return 0
	}
	g := gradients[n.perm[h]&7]
	t *= t
	return t * t * (g[0]*x + g[1]*z)
}

// Octaves layers noise at doubling frequencies, each weighted by persistence
// relative to the previous one. The result stays in [-1, 1].
func (n *Noise) Octaves(x, z float64, octaves int, persistence float64) float64 {
	var total, norm float64
	amp, freq := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		total += n.At(x*freq, z*freq) * amp
		norm += amp
		amp *= persistence
		freq *= 2
	}
	return total / norm
}

func floor(x float64) int {
	xi := int(x)
	if x < float64(xi) {
		return xi - 1
	}
	return xi
}
