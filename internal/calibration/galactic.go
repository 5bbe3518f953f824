package calibration

import "math"

// J2000 orientation of the galactic frame.
const (
	northPoleRA    = 192.85948
	northPoleDec   = 27.12825
	celestialPoleL = 122.93192
)

// Galactic converts equatorial J2000 coordinates (degrees) into galactic
// longitude in [0, 360) and latitude in [-90, 90].
func Galactic(ra, dec float64) (l, b float64) {
	if !finite(ra) || !finite(dec) {
		return math.NaN(), math.NaN()
	}

	alpha := rad(ra)
	delta := rad(dec)
	alphaP := rad(northPoleRA)
	deltaP := rad(northPoleDec)

	dAlpha := alpha - alphaP
	sinB := math.Sin(delta)*math.Sin(deltaP) + math.Cos(delta)*math.Cos(deltaP)*math.Cos(dAlpha)
	sinB = math.Max(-1, math.Min(1, sinB))

	y := math.Cos(delta) * math.Sin(dAlpha)
	x := math.Sin(delta)*math.Cos(deltaP) - math.Cos(delta)*math.Sin(deltaP)*math.Cos(dAlpha)

	l = normalizeDegrees(celestialPoleL - deg(math.Atan2(y, x)))
	b = deg(math.Asin(sinB))
	return l, b
}

// NormalizeRA wraps a right ascension into [0, 360).
func NormalizeRA(ra float64) float64 {
	return normalizeDegrees(ra)
}

func normalizeDegrees(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	if v >= 360 {
		v -= 360
	}
	return v
}

func rad(d float64) float64 { return d * math.Pi / 180 }

func deg(r float64) float64 { return r * 180 / math.Pi }
