package model

import "math"

// Physical constants (SI)
const (
	SpeedOfLight = 299792458.0
	Planck       = 6.62606957e-34
	Boltzmann    = 1.3806488e-23
	TCMB         = 2.73

	jansky = 1e-26
)

// PlanckB is the black body spectral radiance at temperature t (K) and
// frequency nu (Hz).
func PlanckB(t, nu float64) float64 {
	return 2 * Planck * nu * nu * nu / (SpeedOfLight * SpeedOfLight) / math.Expm1(Planck*nu/Boltzmann/t)
}

// PlanckDBDT is dB/dT at temperature t and frequency nu
func PlanckDBDT(t, nu float64) float64 {
	x := Planck * nu / (Boltzmann * t)
	ex := math.Exp(x)
	return 2 * Planck * nu * nu * nu / (SpeedOfLight * SpeedOfLight) * x / t * ex / ((ex - 1) * (ex - 1))
}

// UK2MJ converts a peak CMB brightness temperature fluctuation amp (uK) of
// a Gaussian source with widths s1, s2 (radians) into a flux density in
// mJy at frequency freq (GHz).
func UK2MJ(amp, freq, s1, s2 float64) float64 {
	nu := freq * 1e9
	dB := PlanckB(TCMB+amp*1e-6, nu) - PlanckB(TCMB, nu)
	return dB * 2 * math.Pi * s1 * s2 / (jansky * 1e-3)
}

// MJ2UK is the linearised inverse of UK2MJ, using the slope of the Planck
// function at the CMB temperature.
func MJ2UK(flux, freq, s1, s2 float64) float64 {
	nu := freq * 1e9
	dB := flux * jansky * 1e-3 / (2 * math.Pi * s1 * s2)
	return dB / PlanckDBDT(TCMB, nu) * 1e6
}
