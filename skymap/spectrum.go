package skymap

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Spectrum is an ncomp x ncomp covariance matrix C_l per integer multipole
// l = 0..Lmax.
type Spectrum struct {
	NComp int
	Cl    []float64 // [l][c][d]
}

// Lmax is the highest multipole stored
func (s *Spectrum) Lmax() int {
	return len(s.Cl)/(s.NComp*s.NComp) - 1
}

// At returns the matrix for multipole l, aliasing the spectrum data
func (s *Spectrum) At(l int) []float64 {
	n := s.NComp * s.NComp
	return s.Cl[l*n : (l+1)*n]
}

// NewDiagSpectrum builds a spectrum with the given diagonal C_l functions
func NewDiagSpectrum(lmax int, cls ...func(l int) float64) *Spectrum {
	ncomp := len(cls)
	s := &Spectrum{NComp: ncomp, Cl: make([]float64, (lmax+1)*ncomp*ncomp)}
	for l := 0; l <= lmax; l++ {
		m := s.At(l)
		for c, fn := range cls {
			m[c*ncomp+c] = fn(l)
		}
	}
	return s
}

// ReadSpectrumFile reads a spectrum with ReadSpectrum
func ReadSpectrumFile(filename string, ncomp int) (*Spectrum, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ spectrum from %s", filename)
	}
	defer f.Close()

	s, err := ReadSpectrum(f, ncomp)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not PARSE spectrum %s", filename)
	}
	return s, nil
}

// ReadSpectrum parses a text table with rows "l D_1 D_2 ..." where the
// columns hold l(l+1)C_l/2pi for the diagonal components. Only the first
// ncomp columns are used. Lines starting with # are ignored. Multipoles
// missing from the table are zero.
func ReadSpectrum(r io.Reader, ncomp int) (*Spectrum, error) {
	if ncomp < 1 {
		return nil, errors.Errorf("Invalid component count %d", ncomp)
	}

	type row struct {
		l    int
		vals []float64
	}
	var rows []row
	lmax := 0

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < ncomp+1 {
			return nil, errors.Errorf("Line %d has %d columns, need %d", lineNo, len(fields), ncomp+1)
		}
		lf, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "Line %d: bad multipole", lineNo)
		}
		l := int(math.Round(lf))
		if l < 0 {
			return nil, errors.Errorf("Line %d: negative multipole %d", lineNo, l)
		}
		vals := make([]float64, ncomp)
		for c := range vals {
			vals[c], err = strconv.ParseFloat(fields[c+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "Line %d: bad value in column %d", lineNo, c+2)
			}
		}
		rows = append(rows, row{l, vals})
		if l > lmax {
			lmax = l
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Could not scan spectrum")
	}
	if len(rows) == 0 {
		return nil, errors.New("Spectrum is empty")
	}

	s := &Spectrum{NComp: ncomp, Cl: make([]float64, (lmax+1)*ncomp*ncomp)}
	for _, r := range rows {
		if r.l == 0 {
			continue
		}
		scale := 2 * math.Pi / float64(r.l*(r.l+1))
		m := s.At(r.l)
		for c, v := range r.vals {
			m[c*ncomp+c] = v * scale
		}
	}
	return s, nil
}

// interp linearly interpolates the spectrum matrix at a fractional l,
// holding the last value beyond Lmax.
func (s *Spectrum) interp(l float64, dst []float64) {
	lmax := s.Lmax()
	if l >= float64(lmax) {
		copy(dst, s.At(lmax))
		return
	}
	i := int(math.Floor(l))
	t := l - float64(i)
	a, b := s.At(i), s.At(i+1)
	for k := range dst {
		dst[k] = (1-t)*a[k] + t*b[k]
	}
}

// ToFlat evaluates the flat-sky harmonic covariance of the spectrum on the
// Fourier modes of g, raised to the power exp. With the unitary DFT the
// covariance of a mode is C_l / pixarea.
func (s *Spectrum) ToFlat(g Geometry, exp float64) *HarmMatrix {
	res := NewHarmMatrix(g, s.NComp)
	norm := math.Pow(g.PixArea(), -exp)
	buf := make([]float64, s.NComp*s.NComp)
	for i, l := range g.Lmap() {
		s.interp(l, buf)
		p := MatPow(buf, s.NComp, exp)
		dst := res.Mode(i)
		for k, v := range p {
			dst[k] = v * norm
		}
	}
	return res
}
