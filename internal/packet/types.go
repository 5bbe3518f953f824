package packet

import (
	"fmt"
	"strings"
)

// Alert is one logical packet: the triggering detection, its recent history and
// three image cutouts. Field tags pin the mapping to the wire schema; a field
// renamed upstream fails to decode instead of silently landing elsewhere.
type Alert struct {
	SchemaVersion    string          `avro:"schemavsn"`
	Publisher        string          `avro:"publisher"`
	ObjectID         string          `avro:"objectId"`
	Candid           int64           `avro:"candid"`
	Candidate        Candidate       `avro:"candidate"`
	PrvCandidates    *[]PrvCandidate `avro:"prv_candidates"`
	CutoutScience    *Cutout         `avro:"cutoutScience"`
	CutoutTemplate   *Cutout         `avro:"cutoutTemplate"`
	CutoutDifference *Cutout         `avro:"cutoutDifference"`
}

// Candidate is the detection that triggered the alert.
type Candidate struct {
	JD              float64  `avro:"jd"`
	Fid             int32    `avro:"fid"`
	Pid             int64    `avro:"pid"`
	DiffMagLim      *float32 `avro:"diffmaglim"`
	PDiffImFilename *string  `avro:"pdiffimfilename"`
	ProgramPI       *string  `avro:"programpi"`
	ProgramID       int32    `avro:"programid"`
	Candid          int64    `avro:"candid"`
	IsDiffPos       string   `avro:"isdiffpos"`
	TblID           *int64   `avro:"tblid"`
	Nid             *int32   `avro:"nid"`
	RcID            *int32   `avro:"rcid"`
	Field           *int32   `avro:"field"`
	XPos            *float32 `avro:"xpos"`
	YPos            *float32 `avro:"ypos"`
	RA              float64  `avro:"ra"`
	Dec             float64  `avro:"dec"`
	MagPSF          float32  `avro:"magpsf"`
	SigmaPSF        float32  `avro:"sigmapsf"`
	ChiPSF          *float32 `avro:"chipsf"`
	MagAp           *float32 `avro:"magap"`
	SigmaGap        *float32 `avro:"sigmagap"`
	DistNR          *float32 `avro:"distnr"`
	MagNR           *float32 `avro:"magnr"`
	SigmaGNR        *float32 `avro:"sigmagnr"`
	ChiNR           *float32 `avro:"chinr"`
	SharpNR         *float32 `avro:"sharpnr"`
	Sky             *float32 `avro:"sky"`
	FWHM            *float32 `avro:"fwhm"`
	ClassTar        *float32 `avro:"classtar"`
	MinDToEdge      *float32 `avro:"mindtoedge"`
	SeeRatio        *float32 `avro:"seeratio"`
	RB              *float32 `avro:"rb"`
	DRB             *float32 `avro:"drb"`
	SSDistNR        *float32 `avro:"ssdistnr"`
	SSMagNR         *float32 `avro:"ssmagnr"`
	SSNameNR        *string  `avro:"ssnamenr"`
	SGScore1        *float32 `avro:"sgscore1"`
	DistPSNR1       *float32 `avro:"distpsnr1"`
	NDetHist        int32    `avro:"ndethist"`
	NCovHist        int32    `avro:"ncovhist"`
	JDStartHist     *float64 `avro:"jdstarthist"`
	JDEndHist       *float64 `avro:"jdendhist"`
	TooFlag         *int32   `avro:"tooflag"`
	MagZPSci        *float32 `avro:"magzpsci"`
	MagZPSciUnc     *float32 `avro:"magzpsciunc"`
	NMtchPS         int32    `avro:"nmtchps"`
	RfID            int64    `avro:"rfid"`
}

// PrvCandidate is a history entry. Photometry is null for non-detections.
type PrvCandidate struct {
	JD         float64  `avro:"jd"`
	Fid        int32    `avro:"fid"`
	Pid        int64    `avro:"pid"`
	DiffMagLim *float32 `avro:"diffmaglim"`
	ProgramID  int32    `avro:"programid"`
	Candid     *int64   `avro:"candid"`
	IsDiffPos  *string  `avro:"isdiffpos"`
	RA         *float64 `avro:"ra"`
	Dec        *float64 `avro:"dec"`
	MagPSF     *float32 `avro:"magpsf"`
	SigmaPSF   *float32 `avro:"sigmapsf"`
	MagNR      *float32 `avro:"magnr"`
	SigmaGNR   *float32 `avro:"sigmagnr"`
	DistNR     *float32 `avro:"distnr"`
	MagZPSci   *float32 `avro:"magzpsci"`
	RB         *float32 `avro:"rb"`
}

// Cutout is a compressed FITS postage stamp.
type Cutout struct {
	FileName  string `avro:"fileName"`
	StampData []byte `avro:"stampData"`
}

// History returns the previous candidates, or nil when the packet carries none.
func (a *Alert) History() []PrvCandidate {
	if a.PrvCandidates == nil {
		return nil
	}
	return *a.PrvCandidates
}

// ArchiveName is the object name used for the raw packet in the bucket.
func (a *Alert) ArchiveName() string {
	return fmt.Sprintf("%d.avro", a.Candid)
}

// IsDetection reports whether the entry carries measured photometry.
func (p PrvCandidate) IsDetection() bool {
	return p.MagPSF != nil
}

// IsNonDetection reports an observation with no source above the limiting magnitude.
func (p PrvCandidate) IsNonDetection() bool {
	return p.MagPSF == nil && p.DiffMagLim != nil
}

// DiffPositive reports whether the candidate comes from positive subtraction.
func (c Candidate) DiffPositive() bool {
	return ParseDiffPos(c.IsDiffPos)
}

// ParseDiffPos maps the wire flag ("t", "1", "true") to a bool.
func ParseDiffPos(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "t", "1", "true":
		return true
	default:
		return false
	}
}
