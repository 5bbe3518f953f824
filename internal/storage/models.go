package storage

import (
	"math"
	"time"
)

// AlertRecord is a persisted alert: the raw candidate measurements plus the
// quantities derived at ingestion. Rows are never updated after insert.
type AlertRecord struct {
	ID            int64
	AlertCandid   int64
	ObjectID      string
	SchemaVersion string
	Publisher     string

	JD          float64
	Fid         int
	Pid         int64
	DiffMagLim  *float64
	PDiffImFile *string
	ProgramPI   *string
	ProgramID   int
	IsDiffPos   bool
	TblID       *int64
	Nid         *int
	RcID        *int
	Field       *int
	XPos        *float64
	YPos        *float64
	RA          float64
	Dec         float64
	MagPSF      float64
	SigmaPSF    float64
	ChiPSF      *float64
	MagAp       *float64
	SigmaGap    *float64
	DistNR      *float64
	MagNR       *float64
	SigmaGNR    *float64
	ChiNR       *float64
	SharpNR     *float64
	Sky         *float64
	FWHM        *float64
	ClassTar    *float64
	MinDToEdge  *float64
	SeeRatio    *float64
	RB          *float64
	DRB         *float64
	SSDistNR    *float64
	SSMagNR     *float64
	SSNameNR    *string
	SGScore1    *float64
	DistPSNR1   *float64
	NDetHist    int
	NCovHist    int
	JDStartHist *float64
	JDEndHist   *float64
	TooFlag     *int
	MagZPSci    *float64
	MagZPSciUnc *float64
	NMtchPS     int
	RfID        int64

	// DCMag and DCMagErr are NaN when calibration inputs were unusable.
	DCMag          float64
	DCMagErr       float64
	GalL           float64
	GalB           float64
	DeltaMagLatest *float64
	DeltaMagRef    *float64

	CreatedAt time.Time
}

// Longitude maps RA in [0, 360) onto the [-180, 180) longitude of the
// geography column.
func (r AlertRecord) Longitude() float64 {
	return GeographyLongitude(r.RA)
}

// GeographyLongitude converts a right ascension into geography longitude.
func GeographyLongitude(ra float64) float64 {
	lon := math.Mod(ra, 360)
	if lon < 0 {
		lon += 360
	}
	if lon >= 180 {
		lon -= 360
	}
	return lon
}

// NonDetection is an attempted observation that found nothing brighter than
// its limiting magnitude.
type NonDetection struct {
	ObjectID   string
	JD         float64
	Fid        int
	DiffMagLim float64
}

// ConeQuery selects alerts within a radius of a sky position.
type ConeQuery struct {
	RA            float64
	Dec           float64
	RadiusArcsec  float64
	ExcludeCandid int64
	// BeforeJD, when set, keeps only alerts observed strictly earlier.
	BeforeJD *float64
}
