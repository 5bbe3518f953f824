package service

import (
	"math"
	"strconv"

	"transient-alerts/internal/calibration"
	"transient-alerts/internal/packet"
	"transient-alerts/internal/storage"
)

// Derive maps a packet onto its stored form. Every column is assigned
// explicitly; a field added upstream stays out of the store until it is
// mapped here.
func Derive(alert *packet.Alert, history []calibration.Observation) storage.AlertRecord {
	c := alert.Candidate
	rec := storage.AlertRecord{
		AlertCandid:   alert.Candid,
		ObjectID:      alert.ObjectID,
		SchemaVersion: alert.SchemaVersion,
		Publisher:     alert.Publisher,

		JD:          c.JD,
		Fid:         int(c.Fid),
		Pid:         c.Pid,
		DiffMagLim:  widenPtr(c.DiffMagLim),
		PDiffImFile: c.PDiffImFilename,
		ProgramPI:   c.ProgramPI,
		ProgramID:   int(c.ProgramID),
		IsDiffPos:   c.DiffPositive(),
		TblID:       c.TblID,
		Nid:         intPtr(c.Nid),
		RcID:        intPtr(c.RcID),
		Field:       intPtr(c.Field),
		XPos:        widenPtr(c.XPos),
		YPos:        widenPtr(c.YPos),
		RA:          calibration.NormalizeRA(c.RA),
		Dec:         c.Dec,
		MagPSF:      widen(c.MagPSF),
		SigmaPSF:    widen(c.SigmaPSF),
		ChiPSF:      widenPtr(c.ChiPSF),
		MagAp:       widenPtr(c.MagAp),
		SigmaGap:    widenPtr(c.SigmaGap),
		DistNR:      widenPtr(c.DistNR),
		MagNR:       widenPtr(c.MagNR),
		SigmaGNR:    widenPtr(c.SigmaGNR),
		ChiNR:       widenPtr(c.ChiNR),
		SharpNR:     widenPtr(c.SharpNR),
		Sky:         widenPtr(c.Sky),
		FWHM:        widenPtr(c.FWHM),
		ClassTar:    widenPtr(c.ClassTar),
		MinDToEdge:  widenPtr(c.MinDToEdge),
		SeeRatio:    widenPtr(c.SeeRatio),
		RB:          widenPtr(c.RB),
		DRB:         widenPtr(c.DRB),
		SSDistNR:    widenPtr(c.SSDistNR),
		SSMagNR:     widenPtr(c.SSMagNR),
		SSNameNR:    c.SSNameNR,
		SGScore1:    widenPtr(c.SGScore1),
		DistPSNR1:   widenPtr(c.DistPSNR1),
		NDetHist:    int(c.NDetHist),
		NCovHist:    int(c.NCovHist),
		JDStartHist: c.JDStartHist,
		JDEndHist:   c.JDEndHist,
		TooFlag:     intPtr(c.TooFlag),
		MagZPSci:    widenPtr(c.MagZPSci),
		MagZPSciUnc: widenPtr(c.MagZPSciUnc),
		NMtchPS:     int(c.NMtchPS),
		RfID:        c.RfID,
	}

	dc := calibration.DCMag(calibration.PhotometryInput{
		Fid:        rec.Fid,
		DiffMag:    rec.MagPSF,
		DiffMagErr: rec.SigmaPSF,
		RefMag:     orNaN(rec.MagNR),
		RefMagErr:  orNaN(rec.SigmaGNR),
		// A missing science zero point falls back to the reference one.
		ZeroPointSci: orZero(rec.MagZPSci),
		DiffPositive: rec.IsDiffPos,
	})
	rec.DCMag, rec.DCMagErr = dc.Mag, dc.Sigma
	rec.GalL, rec.GalB = calibration.Galactic(rec.RA, rec.Dec)
	rec.DeltaMagLatest = calibration.DeltaMagLatest(rec.MagPSF, rec.Fid, history)
	rec.DeltaMagRef = calibration.DeltaMagRef(orNaN(rec.DistNR), orNaN(rec.MagNR), rec.MagPSF)
	return rec
}

// observations merges the packet's own history with earlier stored alerts at
// the same position. Only points observed before the alert are kept.
func observations(alert *packet.Alert, prior []storage.AlertRecord) []calibration.Observation {
	jd := alert.Candidate.JD
	history := alert.History()
	out := make([]calibration.Observation, 0, len(history)+len(prior))
	for _, p := range history {
		if p.JD >= jd {
			continue
		}
		out = append(out, calibration.Observation{
			JD:       p.JD,
			Fid:      int(p.Fid),
			Mag:      widenPtr(p.MagPSF),
			LimitMag: widenPtr(p.DiffMagLim),
		})
	}
	for i := range prior {
		if prior[i].JD >= jd {
			continue
		}
		mag := prior[i].MagPSF
		out = append(out, calibration.Observation{
			JD:       prior[i].JD,
			Fid:      prior[i].Fid,
			Mag:      &mag,
			LimitMag: prior[i].DiffMagLim,
		})
	}
	return out
}

func nonDetections(alert *packet.Alert) []storage.NonDetection {
	var out []storage.NonDetection
	for _, p := range alert.History() {
		if !p.IsNonDetection() {
			continue
		}
		out = append(out, storage.NonDetection{
			ObjectID:   alert.ObjectID,
			JD:         p.JD,
			Fid:        int(p.Fid),
			DiffMagLim: widen(*p.DiffMagLim),
		})
	}
	return out
}

// widen converts a wire float to float64 through its shortest decimal form,
// so 18.2 on the wire is stored as 18.2 rather than 18.200000762939453.
func widen(v float32) float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	out, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', -1, 32), 64)
	if err != nil {
		return f
	}
	return out
}

func widenPtr(v *float32) *float64 {
	if v == nil {
		return nil
	}
	out := widen(*v)
	return &out
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	out := int(*v)
	return &out
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
