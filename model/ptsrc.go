package model

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/skymap"
)

// PtsrcModel converts point source positions and shapes into amplitude
// basis functions. The basis is the identity over (freq, comp): amplitude k
// multiplies the source profile in frequency k/ncomp and component
// k%ncomp only.
type PtsrcModel struct {
	Geom  skymap.Geometry
	NFreq int
	NComp int
	dec   []float64
	ra    []float64
}

// NewPtsrcModel creates a model for maps of shape [nfreq, ncomp] on geom
func NewPtsrcModel(geom skymap.Geometry, nfreq, ncomp int) (*PtsrcModel, error) {
	if nfreq < 1 || ncomp < 1 {
		return nil, errors.Errorf("Invalid model shape %dx%d", nfreq, ncomp)
	}
	if geom.Empty() {
		return nil, errors.New("Model geometry has no pixels")
	}
	dec, ra := geom.PosMap()
	return &PtsrcModel{
		Geom:  geom,
		NFreq: nfreq,
		NComp: ncomp,
		dec:   dec,
		ra:    ra,
	}, nil
}

// NParam is the number of amplitudes per source
func (p *PtsrcModel) NParam() int {
	return p.NFreq * p.NComp
}

// Profile evaluates exp(-x'Wx/2) on every pixel, where x is the offset from
// pos wrapped to [-pi, pi) and W the shape matrix.
func (p *PtsrcModel) Profile(pos skymap.Pos, s Shape) []float64 {
	prof := make([]float64, len(p.dec))
	for i := range prof {
		dy := skymap.Rewind(p.dec[i] - pos[0])
		dx := skymap.Rewind(p.ra[i] - pos[1])
		xWx := s.XX*dy*dy + 2*s.XY*dy*dx + s.YY*dx*dx
		prof[i] = math.Exp(-0.5 * xWx)
	}
	return prof
}

// Templates returns the NParam basis maps of one source, each of shape
// [nfreq, ncomp].
func (p *PtsrcModel) Templates(pos skymap.Pos, s Shape) []*skymap.Map {
	prof := p.Profile(pos, s)
	res := make([]*skymap.Map, p.NParam())
	for k := range res {
		t := skymap.NewMap(p.Geom, p.NFreq, p.NComp)
		copy(t.Plane(k), prof)
		res[k] = t
	}
	return res
}

// Model contracts the amplitudes with the templates of one source
func (p *PtsrcModel) Model(amps []float64, pos skymap.Pos, s Shape) *skymap.Map {
	res := skymap.NewMap(p.Geom, p.NFreq, p.NComp)
	p.AddModel(res, 1, amps, pos, s)
	return res
}

// AddModel adds scale times the model of one source to dst
func (p *PtsrcModel) AddModel(dst *skymap.Map, scale float64, amps []float64, pos skymap.Pos, s Shape) {
	prof := p.Profile(pos, s)
	for k, a := range amps {
		if a == 0 {
			continue
		}
		plane := dst.Plane(k)
		for i, v := range prof {
			plane[i] += scale * a * v
		}
	}
}

// MultiTemplates concatenates the templates of several sources in order
func (p *PtsrcModel) MultiTemplates(pos []skymap.Pos, shapes []Shape) []*skymap.Map {
	res := make([]*skymap.Map, 0, len(pos)*p.NParam())
	for i := range pos {
		res = append(res, p.Templates(pos[i], shapes[i])...)
	}
	return res
}

// SplitAmps splits a joint amplitude vector into one slice per source
func (p *PtsrcModel) SplitAmps(amps []float64) ([][]float64, error) {
	n := p.NParam()
	if len(amps)%n != 0 {
		return nil, errors.Errorf("Amplitude vector of length %d is not a multiple of %d", len(amps), n)
	}
	res := make([][]float64, len(amps)/n)
	for i := range res {
		res[i] = append([]float64(nil), amps[i*n:(i+1)*n]...)
	}
	return res, nil
}
