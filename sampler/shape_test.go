package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/skymap"
)

func newTestShapeSampler(t *testing.T, p *testProblem, amps []float64, pos skymap.Pos) *ShapeSampler {
	mod, err := model.NewPtsrcModel(p.geom, p.maps.Shape[0], p.maps.Shape[1])
	require.NoError(t, err)
	s, err := NewShapeSampler(p.cfg, mod, p.maps, p.iN, amps, pos, pos, p.cfg.FiducialShape(), p.rng)
	require.NoError(t, err)
	return s
}

func TestAcceptProb(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1.0, AcceptProb(10, 5))
	assert.InDelta(math.Exp(-2), AcceptProb(3, 5), 1e-15)
	assert.Equal(0.0, AcceptProb(3, math.Inf(1)))
	assert.Equal(0.0, AcceptProb(math.NaN(), 1))
}

func TestShapeCostRejectsBadShapes(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 2, 1, 32, flatCl)
	center := p.geom.Pix2Pos(16, 16)
	s := newTestShapeSampler(t, p, []float64{100, 100}, center)

	amps := s.Amps
	assert.False(math.IsInf(s.Cost(amps, center, p.cfg.FiducialShape()), 1))

	// Not positive definite
	assert.True(math.IsInf(s.Cost(amps, center, model.Shape{XX: 1, YY: 1, XY: 2}), 1))
	assert.True(math.IsInf(s.Cost(amps, center, model.Shape{XX: -1, YY: 4, XY: 0}), 1))
	assert.Equal(0.0, AcceptProb(s.CurrentCost(), s.Cost(amps, center, model.Shape{XX: 1, YY: 1, XY: 1})))

	// Too small, too large, too elongated
	lo, hi := p.cfg.BeamSigmaRange()
	assert.True(math.IsInf(s.Cost(amps, center, model.CircularShape(0.5*lo)), 1))
	assert.True(math.IsInf(s.Cost(amps, center, model.CircularShape(2*hi)), 1))
	sig := p.cfg.BeamSigma()
	long := model.ShapeFromBeam(model.Beam{SigmaMajor: 1.4 * sig, SigmaMinor: 0.6 * sig, Phi: 0.4})
	assert.True(math.IsInf(s.Cost(amps, center, long), 1))
}

func TestShapeStepAcceptance(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 1, 1, 32, flatCl)
	center := p.geom.Pix2Pos(16, 16)
	s := newTestShapeSampler(t, p, []float64{100}, center)
	cur := s.CurrentCost()

	bad := s.Cost(s.Amps, center, model.Shape{XX: 1, YY: 1, XY: 2})
	for i := 0; i < 2*p.cfg.AcceptWindow; i++ {
		assert.False(s.step(MoveShape, bad))
	}
	assert.Equal(0.0, s.Acceptance()[MoveShape])
	assert.Equal(cur, s.CurrentCost())

	assert.True(s.step(MovePos, cur-1))
	assert.Equal(cur-1, s.CurrentCost())

	// exp(-ln 4) of uphill moves get through
	hits := 0
	for i := 0; i < 4096; i++ {
		s.cost = cur
		if s.step(MoveAmp, cur+math.Log(4)) {
			hits++
		}
	}
	assert.InEpsilon(0.25, float64(hits)/4096.0, 0.15)
}

func TestShapeCostPenalty(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 1, 1, 32, flatCl)
	center := p.geom.Pix2Pos(16, 16)
	s := newTestShapeSampler(t, p, []float64{100}, center)

	// On empty data the chi-square does not depend on the (pixel aligned)
	// position, so the cost ratio is the penalty. Two MaxDist away gives
	// 1 + (2-1)^2.
	shape := p.cfg.FiducialShape()
	near := s.Cost(s.Amps, p.geom.Pix2Pos(16, 18), shape)
	far := s.Cost(s.Amps, p.geom.Pix2Pos(16, 22), shape)
	base := s.Cost(s.Amps, center, shape)
	assert.InEpsilon(base, near, 1e-9)
	assert.InEpsilon(2*base, far, 1e-6)
}

func TestShapeSamplerRecoversSource(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 2, 1, 32, flatCl)
	truth := p.geom.Pix2Pos(16, 16)
	p.inject(t, []float64{500, 300}, truth, p.cfg.FiducialShape())

	s := newTestShapeSampler(t, p, []float64{450, 330}, truth.Add(skymap.Pos{0.2 * Arcmin, 0}))
	start := s.CurrentCost()
	for i := 0; i < 10; i++ {
		s.Sample()
	}
	assert.True(s.CurrentCost() < start)
	assert.InEpsilon(500, s.Amps[0], 0.05)
	assert.InEpsilon(300, s.Amps[1], 0.05)
	assert.True(s.Pos.Sub(truth).Norm() < 0.2*Arcmin)

	acc := s.Acceptance()
	for k, a := range acc {
		assert.True(a >= 0 && a <= 1, "%s acceptance %g", MoveNames[k], a)
	}
}

func TestShapeSamplerMulti(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 1, 1, 32, flatCl)
	shape := p.cfg.FiducialShape()
	a, b := p.geom.Pix2Pos(14, 14), p.geom.Pix2Pos(18, 19)
	p.inject(t, []float64{400}, a, shape)
	p.inject(t, []float64{250}, b, shape)

	mod, err := model.NewPtsrcModel(p.geom, 1, 1)
	require.NoError(t, err)

	_, err = NewShapeSamplerMulti(p.cfg, mod, p.maps, p.iN, [][]float64{{0}}, []skymap.Pos{a, b},
		[]skymap.Pos{a, b}, []model.Shape{shape, shape}, p.rng)
	assert.Error(err)

	sm, err := NewShapeSamplerMulti(p.cfg, mod, p.maps, p.iN, [][]float64{{380}, {270}}, []skymap.Pos{a, b},
		[]skymap.Pos{a, b}, []model.Shape{shape, shape}, p.rng)
	require.NoError(t, err)

	var amps [][]float64
	var pos []skymap.Pos
	for i := 0; i < 10; i++ {
		amps, pos, _ = sm.Sample()
	}
	assert.Len(amps, 2)
	assert.InEpsilon(400, amps[0][0], 0.05)
	assert.InEpsilon(250, amps[1][0], 0.05)
	assert.True(pos[0].Sub(a).Norm() < 0.3*Arcmin)
	assert.True(pos[1].Sub(b).Norm() < 0.3*Arcmin)

	// Each member sees the data with the other member removed
	other := sm.othersRemoved(0)
	assert.True(other.Plane(0)[18*32+19] < p.maps.Plane(0)[18*32+19]-100)
}

func TestShapeSamplerMultiSingle(t *testing.T) {
	assert := assert.New(t)
	p := newTestProblem(t, 1, 1, 32, flatCl)
	shape := p.cfg.FiducialShape()
	center := p.geom.Pix2Pos(16, 16)
	p.inject(t, []float64{300}, center, shape)

	mod, err := model.NewPtsrcModel(p.geom, 1, 1)
	require.NoError(t, err)

	rngA, err := rand.NewGenerator(7)
	require.NoError(t, err)
	sm, err := NewShapeSamplerMulti(p.cfg, mod, p.maps, p.iN, [][]float64{{280}}, []skymap.Pos{center},
		[]skymap.Pos{center}, []model.Shape{shape}, rngA)
	require.NoError(t, err)

	rngB, err := rand.NewGenerator(7)
	require.NoError(t, err)
	alone, err := NewShapeSampler(p.cfg, mod, p.maps, p.iN, []float64{280}, center, center, shape, rngB)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		amps, pos, shapes := sm.Sample()
		for r := 0; r < p.cfg.MultiShapeSteps; r++ {
			alone.Subsample()
		}
		assert.Equal(alone.Amps, amps[0])
		assert.Equal(alone.Pos, pos[0])
		assert.Equal(alone.Shape, shapes[0])
	}

	// A lone member keeps the full data and a cost that matches its state
	sub := sm.Samplers[0]
	assert.Same(p.maps, sub.data)
	assert.InDelta(sub.Cost(sub.Amps, sub.Pos, sub.Shape), sub.CurrentCost(), 1e-9)
}
