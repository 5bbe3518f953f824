package archive

import (
	"math"
	"path"
	"time"
)

// unixEpochJD is the Julian Date of 1970-01-01T00:00:00Z.
const unixEpochJD = 2440587.5

// TimeFromJD converts a Julian Date into UTC time.
func TimeFromJD(jd float64) time.Time {
	seconds := (jd - unixEpochJD) * 86400
	whole := math.Floor(seconds)
	nanos := math.Round((seconds - whole) * 1e9)
	return time.Unix(int64(whole), int64(nanos)).UTC()
}

// Key returns the object key YYYY/MM/DD/<fileName> for an observation time.
func Key(fileName string, jd float64) string {
	return path.Join(TimeFromJD(jd).Format("2006/01/02"), fileName)
}
