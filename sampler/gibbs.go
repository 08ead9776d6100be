package sampler

import (
	"io"

	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/skymap"
)

// GibbsSamplerMulti alternates the two conditional draws for a group of
// sources sharing one cutout:
//
//	cmb, amps   <- P(cmb, amps | data, pos, shape)   (CG)
//	pos, shape  <- P(pos, shape, amps | data, cmb)   (Metropolis)
type GibbsSamplerMulti struct {
	cfg    Config
	maps   *skymap.Map
	iN     *skymap.Map
	model  *model.PtsrcModel
	cmb    *CMBSampler
	rng    *rand.Generator
	pos0   []skymap.Pos
	state  State
	solver SolverState
	accept [numMoves]float64
}

// NewGibbsSamplerMulti starts a chain at the given amplitudes, shapes and CMB
// map. pos0 are both the starting and the prior positions.
func NewGibbsSamplerMulti(cfg Config, maps *skymap.Map, iN *skymap.Map, spec *skymap.Spectrum,
	pos0 []skymap.Pos, amps [][]float64, shapes []model.Shape, cmb *skymap.Map, rng *rand.Generator) (*GibbsSamplerMulti, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pos0) < 1 {
		return nil, errors.New("Gibbs sampler needs at least one source")
	}
	if len(amps) != len(pos0) || len(shapes) != len(pos0) {
		return nil, errors.Errorf("Inconsistent source counts: %d pos, %d amps, %d shapes", len(pos0), len(amps), len(shapes))
	}

	cmbSampler, err := NewCMBSampler(cfg, maps, iN, spec)
	if err != nil {
		return nil, err
	}
	mod, err := model.NewPtsrcModel(maps.Geom, maps.Shape[0], maps.Shape[1])
	if err != nil {
		return nil, err
	}
	for i, a := range amps {
		if len(a) != mod.NParam() {
			return nil, errors.Errorf("Source %d has %d amplitudes, need %d", i, len(a), mod.NParam())
		}
	}
	if cmb == nil || len(cmb.Shape) != 1 || cmb.Shape[0] != maps.Shape[1] || cmb.Geom.NPix() != maps.Geom.NPix() {
		return nil, errors.New("Initial CMB map must have shape [ncomp] on the map geometry")
	}

	g := &GibbsSamplerMulti{
		cfg:   cfg,
		maps:  maps,
		iN:    iN,
		model: mod,
		cmb:   cmbSampler,
		rng:   rng,
		pos0:  append([]skymap.Pos(nil), pos0...),
		state: State{
			CMB:    cmb,
			Amps:   amps,
			Pos:    pos0,
			Shapes: shapes,
		}.Copy(),
	}
	return g, nil
}

// SetTrace sends the CG iteration log to w (nil disables it)
func (g *GibbsSamplerMulti) SetTrace(w io.Writer) {
	g.cmb.Trace = w
}

// Model is the template model of the group cutout
func (g *GibbsSamplerMulti) Model() *model.PtsrcModel {
	return g.model
}

// Current returns a copy of the current state
func (g *GibbsSamplerMulti) Current() State {
	return g.state.Copy()
}

// Solver reports the last CG solve
func (g *GibbsSamplerMulti) Solver() SolverState {
	return g.solver
}

// Acceptance is the member averaged acceptance rate per move kind over the
// last shape draw.
func (g *GibbsSamplerMulti) Acceptance() [numMoves]float64 {
	return g.accept
}

// Sample performs one Gibbs sweep: the linear draw, then the shape draw
func (g *GibbsSamplerMulti) Sample() (State, error) {
	if err := g.cmb.SetTemplates(g.model.MultiTemplates(g.state.Pos, g.state.Shapes)); err != nil {
		return State{}, err
	}
	cmb, amps, err := g.cmb.Sample(&g.solver, g.rng)
	if err != nil {
		return State{}, err
	}
	split, err := g.model.SplitAmps(amps)
	if err != nil {
		return State{}, err
	}
	g.state.CMB = cmb
	g.state.Amps = split

	nocmb := g.maps.Copy()
	for f := 0; f < g.model.NFreq; f++ {
		plane := nocmb.Data[f*cmb.Size() : (f+1)*cmb.Size()]
		for i, v := range cmb.Data {
			plane[i] -= v
		}
	}

	shapes, err := NewShapeSamplerMulti(g.cfg, g.model, nocmb, g.iN, g.state.Amps, g.state.Pos, g.pos0, g.state.Shapes, g.rng)
	if err != nil {
		return State{}, err
	}
	g.state.Amps, g.state.Pos, g.state.Shapes = shapes.Sample()
	g.accept = shapes.Acceptance()

	return g.state.Copy(), nil
}

// GibbsSampler is the single source case of GibbsSamplerMulti
type GibbsSampler struct {
	*GibbsSamplerMulti
}

// NewGibbsSampler starts a single source chain
func NewGibbsSampler(cfg Config, maps *skymap.Map, iN *skymap.Map, spec *skymap.Spectrum,
	pos0 skymap.Pos, amps []float64, shape model.Shape, cmb *skymap.Map, rng *rand.Generator) (*GibbsSampler, error) {
	// A single source runs the full ShapeSteps per sweep
	single := cfg
	single.MultiShapeSteps = cfg.ShapeSteps
	m, err := NewGibbsSamplerMulti(single, maps, iN, spec, []skymap.Pos{pos0}, [][]float64{amps}, []model.Shape{shape}, cmb, rng)
	if err != nil {
		return nil, err
	}
	return &GibbsSampler{m}, nil
}
