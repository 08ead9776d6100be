package skymap

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2 is a unitary 2D DFT over one (y, x) plane, built from row and column
// complex transforms. It holds scratch space and is not safe for concurrent
// use.
type FFT2 struct {
	ny, nx int
	rows   *fourier.CmplxFFT
	cols   *fourier.CmplxFFT
	col    []complex128
	norm   float64
}

// NewFFT2 prepares a transform for planes of the given geometry
func NewFFT2(g Geometry) *FFT2 {
	return &FFT2{
		ny:   g.Ny,
		nx:   g.Nx,
		rows: fourier.NewCmplxFFT(g.Nx),
		cols: fourier.NewCmplxFFT(g.Ny),
		col:  make([]complex128, g.Ny),
		norm: 1 / math.Sqrt(float64(g.Ny*g.Nx)),
	}
}

func (f *FFT2) transform(a []complex128, forward bool) {
	for y := 0; y < f.ny; y++ {
		row := a[y*f.nx : (y+1)*f.nx]
		if forward {
			f.rows.Coefficients(row, row)
		} else {
			f.rows.Sequence(row, row)
		}
	}
	for x := 0; x < f.nx; x++ {
		for y := 0; y < f.ny; y++ {
			f.col[y] = a[y*f.nx+x]
		}
		if forward {
			f.cols.Coefficients(f.col, f.col)
		} else {
			f.cols.Sequence(f.col, f.col)
		}
		for y := 0; y < f.ny; y++ {
			a[y*f.nx+x] = f.col[y] * complex(f.norm, 0)
		}
	}
}

// Forward transforms a real plane into dst (allocated when nil)
func (f *FFT2) Forward(dst []complex128, src []float64) []complex128 {
	if dst == nil {
		dst = make([]complex128, len(src))
	}
	for i, v := range src {
		dst[i] = complex(v, 0)
	}
	f.transform(dst, true)
	return dst
}

// Inverse transforms coefficients back to a real plane, destroying src
func (f *FFT2) Inverse(dst []float64, src []complex128) []float64 {
	if dst == nil {
		dst = make([]float64, len(src))
	}
	f.transform(src, false)
	for i, v := range src {
		dst[i] = real(v)
	}
	return dst
}

// HarmMatrix is an ncomp x ncomp real symmetric matrix per Fourier mode,
// such as a flat-sky signal covariance or one of its powers.
type HarmMatrix struct {
	NComp int
	Geom  Geometry
	Data  []float64 // [mode][c][d]
}

// NewHarmMatrix returns a zero matrix field
func NewHarmMatrix(g Geometry, ncomp int) *HarmMatrix {
	return &HarmMatrix{
		NComp: ncomp,
		Geom:  g,
		Data:  make([]float64, g.NPix()*ncomp*ncomp),
	}
}

// Mode returns the matrix of mode i, aliasing the field data
func (h *HarmMatrix) Mode(i int) []float64 {
	n := h.NComp * h.NComp
	return h.Data[i*n : (i+1)*n]
}

// AddConst adds the same matrix to every mode
func (h *HarmMatrix) AddConst(c []float64) {
	n := h.NComp * h.NComp
	for i := 0; i < h.Geom.NPix(); i++ {
		m := h.Data[i*n : (i+1)*n]
		for k := range m {
			m[k] += c[k]
		}
	}
}

// Pow returns the matrix power of every mode, see MatPow
func (h *HarmMatrix) Pow(exp float64) *HarmMatrix {
	res := NewHarmMatrix(h.Geom, h.NComp)
	for i := 0; i < h.Geom.NPix(); i++ {
		copy(res.Mode(i), MatPow(h.Mode(i), h.NComp, exp))
	}
	return res
}

// Harmonic applies mode-diagonal operators to component maps. It owns FFT
// scratch space and is not safe for concurrent use.
type Harmonic struct {
	fft  *FFT2
	harm [][]complex128
	out  []complex128
}

// NewHarmonic prepares transforms for maps of ncomp components
func NewHarmonic(g Geometry, ncomp int) *Harmonic {
	h := &Harmonic{
		fft:  NewFFT2(g),
		harm: make([][]complex128, ncomp),
		out:  make([]complex128, g.NPix()),
	}
	for c := range h.harm {
		h.harm[c] = make([]complex128, g.NPix())
	}
	return h
}

// Apply computes harm2map(M * map2harm(m)) for a map of shape [ncomp]
func (h *Harmonic) Apply(mat *HarmMatrix, m *Map) (*Map, error) {
	if len(m.Shape) != 1 || m.Shape[0] != mat.NComp {
		return nil, errors.Errorf("Map shape %v does not match %d component operator", m.Shape, mat.NComp)
	}
	if m.Geom.Ny != mat.Geom.Ny || m.Geom.Nx != mat.Geom.Nx {
		return nil, errors.Errorf("Map %dx%d does not match operator %dx%d", m.Geom.Ny, m.Geom.Nx, mat.Geom.Ny, mat.Geom.Nx)
	}
	ncomp := mat.NComp
	for c := 0; c < ncomp; c++ {
		h.fft.Forward(h.harm[c], m.Plane(c))
	}
	res := m.ZerosLike()
	npix := m.Geom.NPix()
	for c := 0; c < ncomp; c++ {
		for i := 0; i < npix; i++ {
			mode := mat.Data[(i*ncomp+c)*ncomp : (i*ncomp+c+1)*ncomp]
			var v complex128
			for d, w := range mode {
				v += complex(w, 0) * h.harm[d][i]
			}
			h.out[i] = v
		}
		h.fft.Inverse(res.Plane(c), h.out)
	}
	return res, nil
}

// SmoothGauss convolves every plane of m with a circular Gaussian of the
// given standard deviation in radians.
func SmoothGauss(m *Map, sigma float64) *Map {
	res := m.ZerosLike()
	fft := NewFFT2(m.Geom)
	ls := m.Geom.Lmap()
	buf := make([]complex128, m.Geom.NPix())
	for p := 0; p < m.NPre(); p++ {
		fft.Forward(buf, m.Plane(p))
		for i, l := range ls {
			buf[i] *= complex(math.Exp(-0.5*(l*sigma)*(l*sigma)), 0)
		}
		fft.Inverse(res.Plane(p), buf)
	}
	return res
}
