package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"transient-alerts/internal/storage"
)

// Show prints the most recently observed alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.RecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return a.printAlerts(alerts)
}

func (a *App) printAlerts(alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Candid\tObject\tJD\tFilter\tRA\tDec\tmagpsf\tdcmag\tΔmag latest\tΔmag ref")
	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%.5f\t%s\t%.5f\t%.5f\t%.3f\t%s\t%s\t%s\n",
			rec.AlertCandid,
			sanitizeInline(rec.ObjectID),
			rec.JD,
			filterName(rec.Fid),
			rec.RA,
			rec.Dec,
			rec.MagPSF,
			formatFloat(rec.DCMag, 3),
			formatPtr(rec.DeltaMagLatest, 3),
			formatPtr(rec.DeltaMagRef, 3),
		)
	}
	return writer.Flush()
}

func filterName(fid int) string {
	switch fid {
	case 1:
		return "g"
	case 2:
		return "r"
	case 3:
		return "i"
	default:
		return fmt.Sprintf("fid%d", fid)
	}
}

func formatFloat(v float64, places int) string {
	return fmt.Sprintf("%.*f", places, v)
}

func formatPtr(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return formatFloat(*v, places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
