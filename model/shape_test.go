package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShapePositiveDefinite(t *testing.T) {
	assert := assert.New(t)

	assert.True(CircularShape(arcmin).PositiveDefinite())
	assert.True(Shape{XX: 2, YY: 2, XY: 1}.PositiveDefinite())

	// XX*YY <= XY^2
	assert.False(Shape{XX: 1, YY: 1, XY: 1}.PositiveDefinite())
	assert.False(Shape{XX: 1, YY: 4, XY: -3}.PositiveDefinite())
	assert.False(Shape{XX: -1, YY: -1, XY: 0}.PositiveDefinite())
	assert.False(Shape{XX: 0, YY: 5, XY: 0}.PositiveDefinite())
}

func TestExpandBeamRoundTrip(t *testing.T) {
	assert := assert.New(t)

	cases := []Beam{
		{SigmaMajor: 2 * arcmin, SigmaMinor: 1 * arcmin, Phi: 0.3},
		{SigmaMajor: 1.5 * arcmin, SigmaMinor: 1.2 * arcmin, Phi: 2.5},
		{SigmaMajor: 3 * arcmin, SigmaMinor: 0.5 * arcmin, Phi: math.Pi / 2},
	}
	for _, want := range cases {
		got, err := ExpandBeam(ShapeFromBeam(want))
		assert.NoError(err)
		assert.InEpsilon(want.SigmaMajor, got.SigmaMajor, 1e-9)
		assert.InEpsilon(want.SigmaMinor, got.SigmaMinor, 1e-9)
		assert.InDelta(want.Phi, got.Phi, 1e-7)
		assert.True(got.Phi >= 0 && got.Phi < math.Pi)
	}

	b, err := ExpandBeam(CircularShape(arcmin))
	assert.NoError(err)
	assert.InEpsilon(arcmin, b.SigmaMajor, 1e-12)
	assert.InEpsilon(1.0, b.Asymmetry(), 1e-12)
	major, minor := b.FWHM()
	assert.InEpsilon(arcmin*FWHMPerSigma, major, 1e-12)
	assert.InEpsilon(major, minor, 1e-12)

	_, err = ExpandBeam(Shape{XX: 1, YY: 1, XY: 2})
	assert.Error(err)
}
