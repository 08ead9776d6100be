package rand

import (
	mrand "math/rand"

	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
)

// A Generator is a seeded Mersenne twister with the draws the samplers need.
// A Generator is not safe for concurrent use: every chain owns its own.
type Generator struct {
	mt   *mt19937.MT19937
	norm *mrand.Rand
}

func newGenerator(mt *mt19937.MT19937) *Generator {
	return &Generator{
		mt:   mt,
		norm: mrand.New(mt),
	}
}

// NewGenerator creates a generator seeded with the given value
func NewGenerator(seed int64) (*Generator, error) {
	mt := mt19937.New()
	mt.Seed(seed)
	return newGenerator(mt), nil
}

// NewGeneratorSlice creates a generator seeded with the reference MT19937-64
// init_by_array procedure. At least one seed value is required.
func NewGeneratorSlice(seed []uint64) (*Generator, error) {
	if len(seed) < 1 {
		return nil, errors.Errorf("At least one seed value is required")
	}
	mt := mt19937.New()
	mt.SeedFromSlice(seed)
	return newGenerator(mt), nil
}

// Int63 provides the same interface as Go's math/rand
func (g *Generator) Int63() int64 {
	return g.mt.Int63()
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Float64 returns a uniform draw in [0, 1)
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}

// NormFloat64 returns a standard normal draw
func (g *Generator) NormFloat64() float64 {
	return g.norm.NormFloat64()
}

// Normals fills dst with standard normal draws and returns it
func (g *Generator) Normals(dst []float64) []float64 {
	for i := range dst {
		dst[i] = g.NormFloat64()
	}
	return dst
}
