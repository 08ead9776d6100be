package sampler

import (
	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/skymap"
)

// A Sampler draws one joint (CMB, amplitude, position, shape) sample per call
type Sampler interface {
	Sample() (State, error)
}

// State is one Gibbs sample of a group of sources
type State struct {
	CMB    *skymap.Map // [ncomp]
	Amps   [][]float64 // [nsrc][nfreq*ncomp]
	Pos    []skymap.Pos
	Shapes []model.Shape
}

// Copy returns a deep copy so samplers may keep mutating their own state
func (s State) Copy() State {
	res := State{
		Amps:   make([][]float64, len(s.Amps)),
		Pos:    append([]skymap.Pos(nil), s.Pos...),
		Shapes: append([]model.Shape(nil), s.Shapes...),
	}
	if s.CMB != nil {
		res.CMB = s.CMB.Copy()
	}
	for i, a := range s.Amps {
		res.Amps[i] = append([]float64(nil), a...)
	}
	return res
}

// NSrc is the number of sources in the state
func (s State) NSrc() int {
	return len(s.Pos)
}

// SolverState is the warm start vector threaded through successive CG
// solves of one chain.
type SolverState struct {
	X          []float64
	Iterations int
	Err        float64
}
