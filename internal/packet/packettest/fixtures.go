// Package packettest builds encoded alert packets for tests.
package packettest

import (
	"bytes"
	"testing"

	"transient-alerts/internal/packet"
)

// F32 returns a pointer to v as float32.
func F32(v float32) *float32 { return &v }

// F64 returns a pointer to v.
func F64(v float64) *float64 { return &v }

// Alert builds a version 3.3 packet for the canonical end-to-end detection:
// fid 2, magpsf 18.2 over a 17.0 reference source at (202.47, 47.20).
func Alert(objectID string, candid int64) packet.Alert {
	zp := float32(26.275)
	tblid := int64(0)
	tooflag := int32(0)
	return packet.Alert{
		SchemaVersion: "3.3",
		Publisher:     "ZTF (www.ztf.caltech.edu)",
		ObjectID:      objectID,
		Candid:        candid,
		Candidate: packet.Candidate{
			JD:         2460000.75,
			Fid:        2,
			Pid:        candid / 1000,
			DiffMagLim: F32(20.5),
			ProgramID:  1,
			Candid:     candid,
			IsDiffPos:  "t",
			TblID:      &tblid,
			RA:         202.47,
			Dec:        47.20,
			MagPSF:     18.2,
			SigmaPSF:   0.05,
			DistNR:     F32(0.4),
			MagNR:      F32(17.0),
			SigmaGNR:   F32(0.03),
			ChiNR:      F32(1.1),
			SharpNR:    F32(-0.02),
			RB:         F32(0.9),
			NDetHist:   1,
			NCovHist:   3,
			TooFlag:    &tooflag,
			MagZPSci:   &zp,
			NMtchPS:    4,
			RfID:       123,

			PDiffImFilename: strPtr("ztf_20230225250000_000001_zr_c01_o_q1_scimrefdiffimg.fits"),
			ProgramPI:       strPtr("ZTF Collaboration"),
		},
		CutoutScience:    &packet.Cutout{FileName: "sci.fits.gz", StampData: []byte{0x1f, 0x8b}},
		CutoutTemplate:   &packet.Cutout{FileName: "ref.fits.gz", StampData: []byte{0x1f, 0x8b}},
		CutoutDifference: &packet.Cutout{FileName: "diff.fits.gz", StampData: []byte{0x1f, 0x8b}},
	}
}

// Detection is a history entry with photometry.
func Detection(jd float64, fid int32, mag float32) packet.PrvCandidate {
	return packet.PrvCandidate{
		JD:         jd,
		Fid:        fid,
		ProgramID:  1,
		DiffMagLim: F32(20.5),
		MagPSF:     F32(mag),
		SigmaPSF:   F32(0.1),
		IsDiffPos:  strPtr("t"),
	}
}

// NonDetection is a history entry with only a limiting magnitude.
func NonDetection(jd float64, fid int32, limit float32) packet.PrvCandidate {
	return packet.PrvCandidate{
		JD:         jd,
		Fid:        fid,
		ProgramID:  1,
		DiffMagLim: F32(limit),
	}
}

// WithHistory attaches history entries to an alert.
func WithHistory(a packet.Alert, entries ...packet.PrvCandidate) packet.Alert {
	list := append([]packet.PrvCandidate(nil), entries...)
	a.PrvCandidates = &list
	return a
}

// Encode serialises alerts into one container, failing the test on error.
func Encode(t testing.TB, alerts ...packet.Alert) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := packet.Encode(&buf, alerts...); err != nil {
		t.Fatalf("encode packet: %v", err)
	}
	return buf.Bytes()
}

func strPtr(s string) *string { return &s }
