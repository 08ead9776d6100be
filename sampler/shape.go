package sampler

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/CraigKelly/ptgibbs/buffer"
	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/skymap"
)

// Move kinds of a Metropolis sub-step
const (
	MovePos = iota
	MoveShape
	MoveAmp
	numMoves
)

// MoveNames are used when reporting acceptance rates
var MoveNames = [numMoves]string{"pos", "shape", "amp"}

// AcceptProb is the Metropolis acceptance probability min(1, exp(cur-new))
// for costs (negative log likelihoods). It is zero when the new cost is
// infinite or either cost is NaN.
func AcceptProb(curCost, newCost float64) float64 {
	if math.IsInf(newCost, 1) || math.IsNaN(newCost) || math.IsNaN(curCost) {
		return 0
	}
	return math.Min(1, math.Exp(curCost-newCost))
}

// ShapeSampler is a random walk Metropolis sampler of the position, shape
// and amplitudes of one source given the CMB-free data.
type ShapeSampler struct {
	cfg   Config
	model *model.PtsrcModel
	data  *skymap.Map // [nfreq, ncomp]
	iN    *skymap.Map // [nfreq, ncomp, ncomp]
	rng   *rand.Generator

	Amps  []float64
	Pos   skymap.Pos
	Pos0  skymap.Pos
	Shape model.Shape
	cost  float64

	sigMin, sigMax float64
	accept         [numMoves]*buffer.CircularFloat
}

// NewShapeSampler starts a chain at (amps, pos, shape). pos0 is the
// catalogue position the position prior is centred on.
func NewShapeSampler(cfg Config, mod *model.PtsrcModel, data *skymap.Map, iN *skymap.Map,
	amps []float64, pos, pos0 skymap.Pos, shape model.Shape, rng *rand.Generator) (*ShapeSampler, error) {
	if len(amps) != mod.NParam() {
		return nil, errors.Errorf("Source needs %d amplitudes, got %d", mod.NParam(), len(amps))
	}
	if len(data.Shape) != 2 || data.Shape[0] != mod.NFreq || data.Shape[1] != mod.NComp {
		return nil, errors.Errorf("Data shape %v does not match model %dx%d", data.Shape, mod.NFreq, mod.NComp)
	}
	if err := skymap.CheckNoise(iN, data); err != nil {
		return nil, errors.Wrap(err, "Invalid shape sampler input")
	}

	s := &ShapeSampler{
		cfg:   cfg,
		model: mod,
		data:  data,
		iN:    iN,
		rng:   rng,
		Amps:  append([]float64(nil), amps...),
		Pos:   pos,
		Pos0:  pos0,
		Shape: shape,
	}
	s.sigMin, s.sigMax = cfg.BeamSigmaRange()
	for i := range s.accept {
		s.accept[i] = buffer.NewCircularFloat(cfg.AcceptWindow)
	}
	s.cost = s.Cost(s.Amps, s.Pos, s.Shape)
	return s, nil
}

// SetData swaps the data the source is fit to and updates the current cost
func (s *ShapeSampler) SetData(data *skymap.Map) {
	s.data = data
	s.cost = s.Cost(s.Amps, s.Pos, s.Shape)
}

// CurrentCost is the cost of the current state
func (s *ShapeSampler) CurrentCost() float64 {
	return s.cost
}

// Cost is the negative log likelihood 0.5 r'N^-1 r of the residual
// r = data - model, times a penalty for straying more than MaxDist from the
// catalogue position. Shapes that are not positive definite, or whose beam
// is outside the allowed size and asymmetry range, have infinite cost.
func (s *ShapeSampler) Cost(amps []float64, pos skymap.Pos, shape model.Shape) float64 {
	if shape.XX < 0 || shape.YY < 0 || shape.Det() <= 0 {
		return math.Inf(1)
	}
	beam, err := model.ExpandBeam(shape)
	if err != nil {
		return math.Inf(1)
	}
	if beam.SigmaMinor < s.sigMin || beam.SigmaMajor > s.sigMax || beam.Asymmetry() > s.cfg.BeamMaxAsym {
		return math.Inf(1)
	}

	residual := s.data.Copy()
	s.model.AddModel(residual, -1, amps, pos, shape)
	chisq := floats.Dot(skymap.MulNoise(s.iN, residual).Data, residual.Data)

	dev := pos.Sub(s.Pos0).Norm() / s.cfg.MaxDistRad()
	penalty := 1 + math.Pow(math.Max(dev-1, 0), 2)
	return 0.5 * chisq * penalty
}

func (s *ShapeSampler) newPos(pos skymap.Pos) skymap.Pos {
	step := s.cfg.StepSize
	if s.rng.Float64() < s.cfg.BigStepProb {
		// Occasional long jumps get the chain out of local minima
		step *= s.cfg.BigStepFactor
	}
	scale := s.cfg.BeamSigma() * step
	return pos.Add(skymap.Pos{s.rng.NormFloat64() * scale, s.rng.NormFloat64() * scale})
}

func (s *ShapeSampler) newShape(shape model.Shape) model.Shape {
	sig := s.cfg.BeamSigma()
	scale := 0.5 * s.cfg.StepSize / (sig * sig)
	return shape.Add(model.Shape{
		XX: s.rng.NormFloat64() * scale,
		YY: s.rng.NormFloat64() * scale,
		XY: s.rng.NormFloat64() * scale,
	})
}

func (s *ShapeSampler) newAmps(amps []float64) []float64 {
	scale := s.cfg.AmpStep * s.cfg.StepSize
	res := make([]float64, len(amps))
	for i, a := range amps {
		res[i] = a + s.rng.NormFloat64()*scale
	}
	return res
}

// step records a proposal outcome and reports whether it was accepted
func (s *ShapeSampler) step(kind int, newCost float64) bool {
	ok := s.rng.Float64() < AcceptProb(s.cost, newCost)
	if ok {
		s.cost = newCost
		s.accept[kind].Add(1)
	} else {
		s.accept[kind].Add(0)
	}
	return ok
}

// Subsample proposes a position, then a shape, then amplitudes, each
// accepted or rejected given the current values of the others.
func (s *ShapeSampler) Subsample() {
	pos := s.newPos(s.Pos)
	if s.step(MovePos, s.Cost(s.Amps, pos, s.Shape)) {
		s.Pos = pos
	}

	shape := s.newShape(s.Shape)
	if s.step(MoveShape, s.Cost(s.Amps, s.Pos, shape)) {
		s.Shape = shape
	}

	amps := s.newAmps(s.Amps)
	if s.step(MoveAmp, s.Cost(amps, s.Pos, s.Shape)) {
		s.Amps = amps
	}
}

// Sample runs ShapeSteps sub-steps and returns the final state
func (s *ShapeSampler) Sample() ([]float64, skymap.Pos, model.Shape) {
	for i := 0; i < s.cfg.ShapeSteps; i++ {
		s.Subsample()
	}
	return append([]float64(nil), s.Amps...), s.Pos, s.Shape
}

// Acceptance is the windowed acceptance rate of each move kind
func (s *ShapeSampler) Acceptance() [numMoves]float64 {
	var res [numMoves]float64
	for i, buf := range s.accept {
		res[i] = buf.Mean()
	}
	return res
}

// ShapeSamplerMulti samples several nearby sources. Each round gives every
// member one sub-step against the data minus the current models of the
// other members.
type ShapeSamplerMulti struct {
	cfg      Config
	model    *model.PtsrcModel
	data     *skymap.Map
	Samplers []*ShapeSampler
}

// NewShapeSamplerMulti builds one member sampler per source
func NewShapeSamplerMulti(cfg Config, mod *model.PtsrcModel, data *skymap.Map, iN *skymap.Map,
	amps [][]float64, pos, pos0 []skymap.Pos, shapes []model.Shape, rng *rand.Generator) (*ShapeSamplerMulti, error) {
	n := len(pos)
	if len(amps) != n || len(pos0) != n || len(shapes) != n {
		return nil, errors.Errorf("Inconsistent source counts: %d amps, %d pos, %d pos0, %d shapes",
			len(amps), n, len(pos0), len(shapes))
	}
	if n < 1 {
		return nil, errors.New("Need at least one source")
	}

	sm := &ShapeSamplerMulti{
		cfg:      cfg,
		model:    mod,
		data:     data,
		Samplers: make([]*ShapeSampler, n),
	}
	for i := range sm.Samplers {
		sub, err := NewShapeSampler(cfg, mod, data, iN, amps[i], pos[i], pos0[i], shapes[i], rng)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not create sampler for source %d", i)
		}
		sm.Samplers[i] = sub
	}
	return sm, nil
}

// othersRemoved is the data minus the current models of all members but i
func (sm *ShapeSamplerMulti) othersRemoved(i int) *skymap.Map {
	res := sm.data.Copy()
	for j, sub := range sm.Samplers {
		if j != i {
			sm.model.AddModel(res, -1, sub.Amps, sub.Pos, sub.Shape)
		}
	}
	return res
}

// Sample runs MultiShapeSteps rounds and returns the member states
func (sm *ShapeSamplerMulti) Sample() ([][]float64, []skymap.Pos, []model.Shape) {
	for r := 0; r < sm.cfg.MultiShapeSteps; r++ {
		for i, sub := range sm.Samplers {
			// a lone source keeps the data and cost it already has
			if len(sm.Samplers) > 1 {
				sub.SetData(sm.othersRemoved(i))
			}
			sub.Subsample()
		}
	}

	n := len(sm.Samplers)
	amps := make([][]float64, n)
	pos := make([]skymap.Pos, n)
	shapes := make([]model.Shape, n)
	for i, sub := range sm.Samplers {
		amps[i] = append([]float64(nil), sub.Amps...)
		pos[i] = sub.Pos
		shapes[i] = sub.Shape
	}
	return amps, pos, shapes
}

// Acceptance averages the member acceptance rates
func (sm *ShapeSamplerMulti) Acceptance() [numMoves]float64 {
	var res [numMoves]float64
	for _, sub := range sm.Samplers {
		a := sub.Acceptance()
		for k := range res {
			res[k] += a[k] / float64(len(sm.Samplers))
		}
	}
	return res
}
