package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"transient-alerts/internal/archive"
	"transient-alerts/internal/service"
	"transient-alerts/internal/storage"
)

// Inspect decodes and calibrates a packet file against an empty in-memory
// store and prints the derived fields. Nothing is persisted or archived.
func (a *App) Inspect(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}

	svc := service.New(a.Config, storage.NewMemoryStore(), archive.Nop{}, a.Logger)
	results, err := svc.Process(ctx, raw)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(a.Out, "container holds no alerts")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(writer)
		}
		rec := res.Record
		rows := [][2]string{
			{"alert_candid", fmt.Sprintf("%d", rec.AlertCandid)},
			{"object_id", rec.ObjectID},
			{"schemavsn", rec.SchemaVersion},
			{"jd", fmt.Sprintf("%.6f", rec.JD)},
			{"observed (UTC)", archive.TimeFromJD(rec.JD).Format("2006-01-02 15:04:05")},
			{"fid", fmt.Sprintf("%d", rec.Fid)},
			{"ra, dec", fmt.Sprintf("%.6f, %.6f", rec.RA, rec.Dec)},
			{"magpsf", fmt.Sprintf("%.4f ± %.4f", rec.MagPSF, rec.SigmaPSF)},
			{"magnr", formatOptional(rec.MagNR)},
			{"distnr", formatOptional(rec.DistNR)},
			{"isdiffpos", fmt.Sprintf("%t", rec.IsDiffPos)},
			{"dcmag", fmt.Sprintf("%.4f ± %.4f", rec.DCMag, rec.DCMagErr)},
			{"gal_l, gal_b", fmt.Sprintf("%.6f, %.6f", rec.GalL, rec.GalB)},
			{"deltamaglatest", formatOptional(rec.DeltaMagLatest)},
			{"deltamagref", formatOptional(rec.DeltaMagRef)},
			{"archive key", archive.Key(fmt.Sprintf("%d.avro", rec.AlertCandid), rec.JD)},
		}
		for _, row := range rows {
			fmt.Fprintf(writer, "%s\t%s\n", row[0], row[1])
		}
	}
	return writer.Flush()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.4f", *v)
}
