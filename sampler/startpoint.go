package sampler

import (
	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/skymap"
)

// StartPoint finds a better starting position for a source near the centre
// of its cutout. It removes a constrained realization of the CMB, smooths
// with the fiducial beam and returns the position of the pixel with the
// largest squared residual (summed over frequencies and components) within
// radPix pixels of the centre.
func StartPoint(cfg Config, maps *skymap.Map, iN *skymap.Map, spec *skymap.Spectrum, radPix int, rng *rand.Generator) (skymap.Pos, error) {
	if radPix < 1 {
		return skymap.Pos{}, errors.Errorf("Invalid search radius %d", radPix)
	}
	cmbSampler, err := NewCMBSampler(cfg, maps, iN, spec)
	if err != nil {
		return skymap.Pos{}, err
	}
	var state SolverState
	cmb, _, err := cmbSampler.Sample(&state, rng)
	if err != nil {
		return skymap.Pos{}, errors.Wrap(err, "Could not filter CMB")
	}

	residual := maps.Sub(cmb.Broadcast(maps.Shape[0]))
	residual = skymap.SmoothGauss(residual, cfg.BeamSigma())

	g := maps.Geom
	cy, cx := g.Ny/2, g.Nx/2
	clip := func(v, n int) int {
		if v < 0 {
			return 0
		}
		if v > n {
			return n
		}
		return v
	}
	y0, y1 := clip(cy-radPix, g.Ny), clip(cy+radPix, g.Ny)
	x0, x1 := clip(cx-radPix, g.Nx), clip(cx+radPix, g.Nx)

	best, by, bx := -1.0, cy, cx
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			var sum float64
			for p := 0; p < residual.NPre(); p++ {
				v := residual.Plane(p)[y*g.Nx+x]
				sum += v * v
			}
			if sum > best {
				best, by, bx = sum, y, x
			}
		}
	}
	return g.Pix2Pos(float64(by), float64(bx)), nil
}
