package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FWHMPerSigma converts a Gaussian standard deviation into a full width at
// half maximum.
var FWHMPerSigma = math.Sqrt(8 * math.Log(2))

// Shape is the inverse covariance (XX, YY, XY) of an elliptical Gaussian
// beam, in inverse square radians. The XX axis is dec and YY is ra.
type Shape struct {
	XX, YY, XY float64
}

// CircularShape is the shape of a round beam of the given standard deviation
func CircularShape(sigma float64) Shape {
	w := 1 / (sigma * sigma)
	return Shape{XX: w, YY: w, XY: 0}
}

// Det is the determinant of the inverse covariance
func (s Shape) Det() float64 {
	return s.XX*s.YY - s.XY*s.XY
}

// PositiveDefinite is true when both eigenvalues are strictly positive
func (s Shape) PositiveDefinite() bool {
	return s.XX > 0 && s.YY > 0 && s.Det() > 0
}

// Add returns the component-wise sum, used for random walk proposals
func (s Shape) Add(d Shape) Shape {
	return Shape{XX: s.XX + d.XX, YY: s.YY + d.YY, XY: s.XY + d.XY}
}

// Beam is the geometric description of a Shape
type Beam struct {
	SigmaMajor float64 // radians
	SigmaMinor float64 // radians
	Phi        float64 // angle of the major axis from the dec axis, in [0, pi)
}

// FWHM returns the major and minor full widths at half maximum
func (b Beam) FWHM() (float64, float64) {
	return b.SigmaMajor * FWHMPerSigma, b.SigmaMinor * FWHMPerSigma
}

// Asymmetry is the major to minor axis ratio
func (b Beam) Asymmetry() float64 {
	return b.SigmaMajor / b.SigmaMinor
}

// ExpandBeam converts a positive definite shape into beam widths and an
// orientation.
func ExpandBeam(s Shape) (Beam, error) {
	if !s.PositiveDefinite() {
		return Beam{}, errors.Errorf("Shape %+v is not positive definite", s)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(2, []float64{s.XX, s.XY, s.XY, s.YY}), true); !ok {
		return Beam{}, errors.Errorf("Could not decompose shape %+v", s)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending, so the first eigenvector is the major axis
	b := Beam{
		SigmaMajor: 1 / math.Sqrt(vals[0]),
		SigmaMinor: 1 / math.Sqrt(vals[1]),
		Phi:        math.Atan2(vecs.At(1, 0), vecs.At(0, 0)),
	}
	b.Phi = math.Mod(b.Phi, math.Pi)
	if b.Phi < 0 {
		b.Phi += math.Pi
	}
	return b, nil
}

// ShapeFromBeam is the inverse of ExpandBeam
func ShapeFromBeam(b Beam) Shape {
	c, s := math.Cos(b.Phi), math.Sin(b.Phi)
	wa := 1 / (b.SigmaMajor * b.SigmaMajor)
	wb := 1 / (b.SigmaMinor * b.SigmaMinor)
	return Shape{
		XX: wa*c*c + wb*s*s,
		YY: wa*s*s + wb*c*c,
		XY: (wa - wb) * c * s,
	}
}
