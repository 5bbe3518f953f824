package calibration

import "sort"

// NuclearDistanceThreshold is the nearest-reference-source distance, in
// pixels, under which the reference magnitude is taken to be the same source.
const NuclearDistanceThreshold = 2.0

// Observation is one point of an object's light curve. Mag is nil for a
// non-detection.
type Observation struct {
	JD       float64
	Fid      int
	Mag      *float64
	LimitMag *float64
}

// IsDetection reports whether the observation measured the source.
func (o Observation) IsDetection() bool {
	return o.Mag != nil
}

// IsNonDetection reports an attempted observation with only an upper limit.
func (o Observation) IsNonDetection() bool {
	return o.Mag == nil && o.LimitMag != nil
}

// DeltaMagLatest returns mag minus the magnitude of the most recent detection
// in the same filter, or nil when there is none. The history is sorted newest
// first before scanning because upstream ordering is not guaranteed.
func DeltaMagLatest(mag float64, fid int, history []Observation) *float64 {
	if !finite(mag) {
		return nil
	}

	sorted := make([]Observation, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].JD > sorted[j].JD
	})

	for _, obs := range sorted {
		if obs.Fid != fid || !obs.IsDetection() || !finite(*obs.Mag) {
			continue
		}
		delta := mag - *obs.Mag
		return &delta
	}
	return nil
}

// DeltaMagRef returns refMag - diffMag when the nearest reference source lies
// within NuclearDistanceThreshold pixels, otherwise nil.
func DeltaMagRef(distnr, refMag, diffMag float64) *float64 {
	if !allFinite(distnr, refMag, diffMag) || distnr >= NuclearDistanceThreshold {
		return nil
	}
	delta := refMag - diffMag
	return &delta
}
