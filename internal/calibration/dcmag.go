// Package calibration derives calibrated photometry and sky coordinates that
// the raw alert stream does not carry. Every function here is pure; invalid
// input degrades to NaN instead of failing, so one bad photometric field never
// holds back an otherwise valid alert.
package calibration

import "math"

const (
	// magToFluxErr converts a magnitude error into a fractional flux error (2.5/ln 10).
	magToFluxErr = 1.0857

	// maxMagDiff caps zero point minus magnitude so a miscalibrated zero point
	// cannot produce runaway flux.
	maxMagDiff = 12.0
)

// referenceZeroPoints holds the reference-image zero point per filter id.
var referenceZeroPoints = map[int]float64{
	1: 26.325, // g
	2: 26.275, // r
	3: 25.660, // i
}

// ReferenceZeroPoint returns the zero point for a filter id.
func ReferenceZeroPoint(fid int) (float64, bool) {
	zp, ok := referenceZeroPoints[fid]
	return zp, ok
}

// Magnitude is a calibrated magnitude with its 1-sigma uncertainty.
type Magnitude struct {
	Mag   float64
	Sigma float64
}

// PhotometryInput is the set of raw measurements DCMag combines.
type PhotometryInput struct {
	Fid          int
	DiffMag      float64
	DiffMagErr   float64
	RefMag       float64
	RefMagErr    float64
	ZeroPointSci float64
	DiffPositive bool
}

type fluxTerms struct {
	ZeroPoint    float64
	RefFlux      float64
	DiffFlux     float64
	TotalFlux    float64
	TotalSigFlux float64
}

// DCMag combines the difference-image measurement with the reference-image
// source into the apparent magnitude of the object. Errors are added in
// quadrature as if independent, which overstates the uncertainty slightly.
func DCMag(in PhotometryInput) Magnitude {
	terms, ok := computeFlux(in)
	if !ok {
		return Magnitude{Mag: math.NaN(), Sigma: math.NaN()}
	}

	if terms.TotalFlux > 0 {
		return Magnitude{
			Mag:   terms.ZeroPoint - 2.5*math.Log10(terms.TotalFlux),
			Sigma: terms.TotalSigFlux / terms.TotalFlux * magToFluxErr,
		}
	}

	// Non-physical total flux: report the zero point and the difference error.
	return Magnitude{Mag: terms.ZeroPoint, Sigma: in.DiffMagErr}
}

func computeFlux(in PhotometryInput) (fluxTerms, bool) {
	zpRef, known := ReferenceZeroPoint(in.Fid)
	if !known || !allFinite(in.DiffMag, in.DiffMagErr, in.RefMag, in.RefMagErr, in.ZeroPointSci) {
		return fluxTerms{}, false
	}

	refFlux := math.Pow(10, 0.4*math.Min(zpRef-in.RefMag, maxMagDiff))
	refSigFlux := in.RefMagErr / magToFluxErr * refFlux

	zpSci := in.ZeroPointSci
	if zpSci == 0 {
		zpSci = zpRef
	}
	diffFlux := math.Pow(10, 0.4*math.Min(zpSci-in.DiffMag, maxMagDiff))
	diffSigFlux := in.DiffMagErr / magToFluxErr * diffFlux

	total := refFlux - diffFlux
	if in.DiffPositive {
		total = refFlux + diffFlux
	}

	return fluxTerms{
		ZeroPoint:    zpSci,
		RefFlux:      refFlux,
		DiffFlux:     diffFlux,
		TotalFlux:    total,
		TotalSigFlux: math.Hypot(diffSigFlux, refSigFlux),
	}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values ...float64) bool {
	for _, v := range values {
		if !finite(v) {
			return false
		}
	}
	return true
}
