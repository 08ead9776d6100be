package sampler

import (
	"io"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/ptgibbs/cg"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/skymap"
)

// CMBSampler draws (s, a) from P(s, a | d, C_l, N, T): the CMB map s and
// the amplitudes a of a set of templates T, given data d with inverse noise
// covariance iN and CMB power spectrum C_l. The draw solves
//
//	(S^-1 + P'N^-1P) x = P'N^-1 d + S^-1/2 w1 + P'N^-1/2 w2
//
// with preconditioned CG, where P(s, a) = s + sum_k a_k T_k. Vectors handed
// to the operators are laid out as [s (ncomp planes) | a (one per template)].
type CMBSampler struct {
	cfg   Config
	geom  skymap.Geometry
	nfreq int
	ncomp int
	ns    int

	d   *skymap.Map // [nfreq, ncomp]
	iN  *skymap.Map // [nfreq, ncomp, ncomp]
	hN  *skymap.Map
	iNd *skymap.Map

	iS    *skymap.HarmMatrix
	hS    *skymap.HarmMatrix
	sPrec *skymap.HarmMatrix
	harm  *skymap.Harmonic

	T      []*skymap.Map
	ttChol *mat.Cholesky

	// Trace receives one line per CG iteration when not nil
	Trace io.Writer
}

// NewCMBSampler prepares the operators for maps of shape [nfreq, ncomp]
// with a [nfreq, ncomp, ncomp] inverse noise map. It starts with no
// templates.
func NewCMBSampler(cfg Config, maps *skymap.Map, iN *skymap.Map, spec *skymap.Spectrum) (*CMBSampler, error) {
	if err := skymap.CheckNoise(iN, maps); err != nil {
		return nil, errors.Wrap(err, "Invalid CMB sampler input")
	}
	if maps.Geom.Empty() {
		return nil, errors.New("Cannot sample an empty map")
	}
	nfreq, ncomp := maps.Shape[0], maps.Shape[1]
	if spec.NComp != ncomp {
		return nil, errors.Errorf("Spectrum has %d components, maps have %d", spec.NComp, ncomp)
	}

	c := &CMBSampler{
		cfg:   cfg,
		geom:  maps.Geom,
		nfreq: nfreq,
		ncomp: ncomp,
		ns:    ncomp * maps.Geom.NPix(),
		d:     maps,
		iN:    iN,
		hN:    skymap.NoisePow(iN, 0.5),
		iNd:   skymap.MulNoise(iN, maps),
		iS:    spec.ToFlat(maps.Geom, -1),
		hS:    spec.ToFlat(maps.Geom, -0.5),
		harm:  skymap.NewHarmonic(maps.Geom, ncomp),
	}

	// The preconditioner treats the noise as white and ignores the coupling
	// between the CMB and the templates:
	//   [ S^-1 + sum(iN)    0    ]
	//   [       0         T'T    ]
	prec := spec.ToFlat(maps.Geom, -1)
	prec.AddConst(skymap.WhiteLevel(iN))
	c.sPrec = prec.Pow(-1)

	if err := c.SetTemplates(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// NTemplates is the number of templates currently set
func (c *CMBSampler) NTemplates() int {
	return len(c.T)
}

// SetTemplates replaces the templates, each shaped like the data
func (c *CMBSampler) SetTemplates(T []*skymap.Map) error {
	for i, t := range T {
		if !t.SameShape(c.d) {
			return errors.Errorf("Template %d has shape %v %dx%d, data has %v %dx%d",
				i, t.Shape, t.Geom.Ny, t.Geom.Nx, c.d.Shape, c.geom.Ny, c.geom.Nx)
		}
	}
	c.T = T
	c.ttChol = nil
	if n := len(T); n > 0 {
		tt := mat.NewSymDense(n, nil)
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				tt.SetSym(a, b, floats.Dot(T[a].Data, T[b].Data))
			}
		}
		c.ttChol = gramFactor(tt, n)
	}
	return nil
}

// gramFactor factorizes the template Gram matrix, adding a growing ridge
// until it is positive definite. It only feeds the preconditioner.
func gramFactor(tt *mat.SymDense, n int) *mat.Cholesky {
	var chol mat.Cholesky
	if chol.Factorize(tt) {
		return &chol
	}

	scale := mat.Trace(tt) / float64(n)
	if !(scale > 0) {
		scale = 1
	}
	reg := mat.NewSymDense(n, nil)
	ridge := 1e-12 * scale
	for try := 0; try < 30; try++ {
		reg.CopySym(tt)
		for i := 0; i < n; i++ {
			reg.SetSym(i, i, tt.At(i, i)+ridge)
		}
		if chol.Factorize(reg) {
			return &chol
		}
		ridge *= 10
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			reg.SetSym(i, j, 0)
		}
		reg.SetSym(i, i, scale)
	}
	chol.Factorize(reg)
	return &chol
}

// NDOF is the length of the (s, a) vectors
func (c *CMBSampler) NDOF() int {
	return c.ns + len(c.T)
}

// harmApply multiplies a [ncomp] map given as a flat slice by a mode matrix
func (c *CMBSampler) harmApply(h *skymap.HarmMatrix, s []float64) []float64 {
	m, err := skymap.NewMapFrom(c.geom, s, c.ncomp)
	if err == nil {
		m, err = c.harm.Apply(h, m)
	}
	if err != nil {
		// Shapes are fixed at construction so this is a programming error
		panic(errors.Wrap(err, "Harmonic operator shape mismatch"))
	}
	return m.Data
}

// P projects (s, a) to data space: s in every frequency plus the templates
func (c *CMBSampler) P(u []float64) *skymap.Map {
	res := skymap.NewMap(c.geom, c.nfreq, c.ncomp)
	s := u[:c.ns]
	for f := 0; f < c.nfreq; f++ {
		floats.Add(res.Data[f*c.ns:(f+1)*c.ns], s)
	}
	for k, a := range u[c.ns:] {
		if a != 0 {
			floats.AddScaled(res.Data, a, c.T[k].Data)
		}
	}
	return res
}

// PT is the adjoint of P: the frequency sum and the template projections
func (c *CMBSampler) PT(d *skymap.Map) []float64 {
	res := make([]float64, c.NDOF())
	for f := 0; f < c.nfreq; f++ {
		floats.Add(res[:c.ns], d.Data[f*c.ns:(f+1)*c.ns])
	}
	for k, t := range c.T {
		res[c.ns+k] = floats.Dot(t.Data, d.Data)
	}
	return res
}

// A applies the system matrix (S^-1 s, 0) + P'N^-1P u
func (c *CMBSampler) A(u []float64) []float64 {
	res := c.PT(skymap.MulNoise(c.iN, c.P(u)))
	floats.Add(res[:c.ns], c.harmApply(c.iS, u[:c.ns]))
	return res
}

// M applies the block diagonal preconditioner
// ((S^-1 + iN_white)^-1 s, (T'T)^-1 a)
func (c *CMBSampler) M(u []float64) []float64 {
	res := make([]float64, len(u))
	copy(res[:c.ns], c.harmApply(c.sPrec, u[:c.ns]))
	if n := len(c.T); n > 0 {
		var a mat.VecDense
		rhs := mat.NewVecDense(n, append([]float64(nil), u[c.ns:]...))
		// An ill conditioned Gram matrix still yields a usable solution
		_ = c.ttChol.SolveVecTo(&a, rhs)
		for k := 0; k < n; k++ {
			res[c.ns+k] = a.AtVec(k)
		}
	}
	return res
}

// RHS draws the randomized right hand side P'N^-1 d + (S^-1/2 w1, 0) +
// P'N^-1/2 w2 with w1, w2 standard normal.
func (c *CMBSampler) RHS(rng *rand.Generator) []float64 {
	b := c.PT(c.iNd)

	w1 := rng.Normals(make([]float64, c.ns))
	floats.Add(b[:c.ns], c.harmApply(c.hS, w1))

	w2 := skymap.NewMap(c.geom, c.nfreq, c.ncomp)
	rng.Normals(w2.Data)
	floats.Add(b, c.PT(skymap.MulNoise(c.hN, w2)))
	return b
}

// Sample draws a new CMB map and template amplitudes. The solve starts from
// state.X, which on first use is (d[0], 0). When the number of templates
// has changed the CMB part is kept and the amplitudes restart at zero. On
// success state holds the solution for the next call.
func (c *CMBSampler) Sample(state *SolverState, rng *rand.Generator) (*skymap.Map, []float64, error) {
	b := c.RHS(rng)

	if len(state.X) != len(b) {
		x0 := make([]float64, len(b))
		if len(state.X) >= c.ns {
			copy(x0[:c.ns], state.X[:c.ns])
		} else {
			copy(x0[:c.ns], c.d.Data[:c.ns])
		}
		state.X = x0
	}

	res, err := cg.Solve(c.A, c.M, b, state.X, c.cfg.CGTolerance, c.cfg.CGMaxIter, c.Trace)
	state.Iterations = res.Iterations
	state.Err = res.Err
	if err != nil {
		return nil, nil, errors.Wrap(err, "CMB draw failed")
	}
	state.X = res.X

	cmb := skymap.NewMap(c.geom, c.ncomp)
	copy(cmb.Data, res.X[:c.ns])
	amps := append([]float64(nil), res.X[c.ns:]...)
	return cmb, amps, nil
}
