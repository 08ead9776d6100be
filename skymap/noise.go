package skymap

import (
	"math"

	"github.com/pkg/errors"
)

// FlatNoise builds a spatially constant inverse noise covariance of shape
// [nfreq, ncomp, ncomp] from per-frequency white noise levels. Each
// frequency gets I/sigma^2.
func FlatNoise(g Geometry, ncomp int, sigmas []float64) (*Map, error) {
	res := NewMap(g, len(sigmas), ncomp, ncomp)
	for f, s := range sigmas {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errors.Errorf("Noise level %d must be positive, got %g", f, s)
		}
		for c := 0; c < ncomp; c++ {
			plane := res.Plane(res.Index(f, c, c))
			for i := range plane {
				plane[i] = 1 / (s * s)
			}
		}
	}
	return res, nil
}

// CheckNoise verifies that an inverse noise map matches a [nfreq, ncomp]
// signal map.
func CheckNoise(iN *Map, maps *Map) error {
	if len(maps.Shape) != 2 {
		return errors.Errorf("Signal maps must have 4 axes, got %d", maps.Ndim())
	}
	if len(iN.Shape) != 3 {
		return errors.Errorf("Noise must have 5 axes, got %d", iN.Ndim())
	}
	nfreq, ncomp := maps.Shape[0], maps.Shape[1]
	if iN.Shape[0] != nfreq {
		return errors.Errorf("Number of noise maps (%d) != number of signal maps (%d)", iN.Shape[0], nfreq)
	}
	if iN.Shape[1] != ncomp || iN.Shape[2] != ncomp {
		return errors.Errorf("Noise components %dx%d do not match %d signal components", iN.Shape[1], iN.Shape[2], ncomp)
	}
	if iN.Geom.Ny != maps.Geom.Ny || iN.Geom.Nx != maps.Geom.Nx {
		return errors.Errorf("Noise and maps have inconsistent shape: %dx%d vs %dx%d",
			iN.Geom.Ny, iN.Geom.Nx, maps.Geom.Ny, maps.Geom.Nx)
	}
	return nil
}

// MulNoise applies a per-pixel [nfreq, ncomp, ncomp] matrix to a
// [nfreq, ncomp] map.
func MulNoise(iN *Map, m *Map) *Map {
	nfreq, ncomp := m.Shape[0], m.Shape[1]
	res := m.ZerosLike()
	for f := 0; f < nfreq; f++ {
		for c := 0; c < ncomp; c++ {
			dst := res.Plane(f*ncomp + c)
			for d := 0; d < ncomp; d++ {
				w := iN.Plane((f*ncomp+c)*ncomp + d)
				src := m.Plane(f*ncomp + d)
				for i, v := range src {
					dst[i] += w[i] * v
				}
			}
		}
	}
	return res
}

// NoisePow raises the per-pixel noise matrices to a power, see MatPow
func NoisePow(iN *Map, exp float64) *Map {
	nfreq, ncomp := iN.Shape[0], iN.Shape[1]
	res := iN.ZerosLike()
	npix := iN.Geom.NPix()
	buf := make([]float64, ncomp*ncomp)
	for f := 0; f < nfreq; f++ {
		for i := 0; i < npix; i++ {
			for k := range buf {
				buf[k] = iN.Plane(f*ncomp*ncomp + k)[i]
			}
			p := MatPow(buf, ncomp, exp)
			for k, v := range p {
				res.Plane(f*ncomp*ncomp + k)[i] = v
			}
		}
	}
	return res
}

// WhiteLevel is the sum over frequencies of the pixel mean of the inverse
// noise, an ncomp x ncomp matrix.
func WhiteLevel(iN *Map) []float64 {
	nfreq, ncomp := iN.Shape[0], iN.Shape[1]
	res := make([]float64, ncomp*ncomp)
	npix := float64(iN.Geom.NPix())
	for f := 0; f < nfreq; f++ {
		for k := range res {
			var sum float64
			for _, v := range iN.Plane(f*ncomp*ncomp + k) {
				sum += v
			}
			res[k] += sum / npix
		}
	}
	return res
}

// ApodizeStep zeroes every plane within rad radians of the map edge. Applied
// to an inverse noise map this gives the edge infinite noise, which hides
// the non-periodic boundary of a cutout from the harmonic prior.
func ApodizeStep(m *Map, rad float64) *Map {
	g := m.Geom
	keep := func(i, n int, step float64) bool {
		d := float64(i) * math.Abs(step)
		e := float64(n-1-i) * math.Abs(step)
		return d > rad && e > rad
	}
	res := m.Copy()
	for p := 0; p < m.NPre(); p++ {
		plane := res.Plane(p)
		for y := 0; y < g.Ny; y++ {
			ky := keep(y, g.Ny, g.DDec)
			for x := 0; x < g.Nx; x++ {
				if !ky || !keep(x, g.Nx, g.DRA) {
					plane[y*g.Nx+x] = 0
				}
			}
		}
	}
	return res
}
