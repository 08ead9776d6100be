package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/model"
)

// Arcmin is one arc minute in radians
const Arcmin = math.Pi / 180 / 60

// Config holds the tuning constants shared by all samplers of a run. Beam
// sizes are FWHM in arcmin and distances are in arcmin so that the yaml
// config file stays readable; use the accessor methods for radians.
type Config struct {
	CGTolerance     float64 `yaml:"cg_tolerance"`
	CGMaxIter       int     `yaml:"cg_max_iter"`
	StepSize        float64 `yaml:"step_size"`
	AmpStep         float64 `yaml:"amp_step"`
	MaxDist         float64 `yaml:"max_dist"`
	BeamFiducial    float64 `yaml:"beam_fiducial"`
	BeamMin         float64 `yaml:"beam_min"`
	BeamMax         float64 `yaml:"beam_max"`
	BeamMaxAsym     float64 `yaml:"beam_max_asym"`
	ShapeSteps      int     `yaml:"shape_steps"`
	MultiShapeSteps int     `yaml:"multi_shape_steps"`
	BigStepProb     float64 `yaml:"big_step_prob"`
	BigStepFactor   float64 `yaml:"big_step_factor"`
	AcceptWindow    int     `yaml:"accept_window"`
}

// DefaultConfig returns the standard run constants
func DefaultConfig() Config {
	return Config{
		CGTolerance:     1e-6,
		CGMaxIter:       2000,
		StepSize:        0.02,
		AmpStep:         1000,
		MaxDist:         1.5,
		BeamFiducial:    1.5,
		BeamMin:         0.8,
		BeamMax:         3.0,
		BeamMaxAsym:     2,
		ShapeSteps:      200,
		MultiShapeSteps: 1500,
		BigStepProb:     0.1,
		BigStepFactor:   100,
		AcceptWindow:    100,
	}
}

// Validate checks that the constants describe a usable sampler
func (c Config) Validate() error {
	if !(c.CGTolerance > 0 && c.CGTolerance < 1) {
		return errors.Errorf("CG tolerance must be in (0, 1), got %g", c.CGTolerance)
	}
	if c.CGMaxIter < 1 {
		return errors.Errorf("CG iteration cap must be at least 1, got %d", c.CGMaxIter)
	}
	if c.StepSize <= 0 || c.AmpStep <= 0 {
		return errors.Errorf("Step sizes must be positive, got %g and %g", c.StepSize, c.AmpStep)
	}
	if c.MaxDist <= 0 {
		return errors.Errorf("Max distance must be positive, got %g", c.MaxDist)
	}
	if c.BeamMin <= 0 || c.BeamMax < c.BeamMin {
		return errors.Errorf("Invalid beam range [%g, %g]", c.BeamMin, c.BeamMax)
	}
	if c.BeamFiducial < c.BeamMin || c.BeamFiducial > c.BeamMax {
		return errors.Errorf("Fiducial beam %g outside beam range [%g, %g]", c.BeamFiducial, c.BeamMin, c.BeamMax)
	}
	if c.BeamMaxAsym < 1 {
		return errors.Errorf("Max beam asymmetry must be >= 1, got %g", c.BeamMaxAsym)
	}
	if c.ShapeSteps < 1 || c.MultiShapeSteps < 1 {
		return errors.Errorf("Shape step counts must be at least 1, got %d and %d", c.ShapeSteps, c.MultiShapeSteps)
	}
	if c.BigStepProb < 0 || c.BigStepProb > 1 {
		return errors.Errorf("Big step probability must be in [0,1], got %g", c.BigStepProb)
	}
	if c.BigStepFactor <= 0 {
		return errors.Errorf("Big step factor must be positive, got %g", c.BigStepFactor)
	}
	if c.AcceptWindow < 2 {
		return errors.Errorf("Acceptance window must be at least 2, got %d", c.AcceptWindow)
	}
	return nil
}

func fwhmToSigma(fwhm float64) float64 {
	return fwhm * Arcmin / model.FWHMPerSigma
}

// BeamSigma is the fiducial beam standard deviation in radians
func (c Config) BeamSigma() float64 {
	return fwhmToSigma(c.BeamFiducial)
}

// BeamSigmaRange is the allowed range of beam standard deviations in radians
func (c Config) BeamSigmaRange() (float64, float64) {
	return fwhmToSigma(c.BeamMin), fwhmToSigma(c.BeamMax)
}

// MaxDistRad is the position prior scale in radians
func (c Config) MaxDistRad() float64 {
	return c.MaxDist * Arcmin
}

// FiducialShape is the round shape every source starts from
func (c Config) FiducialShape() model.Shape {
	return model.CircularShape(c.BeamSigma())
}
