package app

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"transient-alerts/internal/storage"
)

// LightPoint is one entry of an object's light curve: a detection or an
// upper limit from a non-detection.
type LightPoint struct {
	JD         float64
	Fid        int
	Candid     int64
	Detection  bool
	Mag        float64
	Sigma      float64
	DCMag      float64
	LimitMag   float64
	DistArcsec float64
	ObjectID   string
}

// History prints the crossmatch history of one alert, newest first, with the
// object's non-detections flagged separately.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.requireStore(ctx, "query history")
	if err != nil {
		return err
	}
	defer closeStore()

	points, err := collectHistory(ctx, store, opts.Candid, a.resolveRadius(opts.RadiusArcsec), false)
	if err != nil {
		return err
	}
	return a.printHistory(opts.Candid, points)
}

func (a *App) printHistory(candid int64, points []LightPoint) error {
	if len(points) == 0 {
		fmt.Fprintf(a.Out, "no history for alert %d\n", candid)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "JD\tKind\tFilter\tCandid\tObject\tSep(\")\tmagpsf\tdcmag\tLimit")
	for _, p := range points {
		if p.Detection {
			fmt.Fprintf(writer, "%.5f\tdetection\t%s\t%d\t%s\t%.3f\t%.3f\t%s\t-\n",
				p.JD, filterName(p.Fid), p.Candid, sanitizeInline(p.ObjectID), p.DistArcsec, p.Mag, formatFloat(p.DCMag, 3))
			continue
		}
		fmt.Fprintf(writer, "%.5f\tnon-detection\t%s\t-\t%s\t-\t-\t-\t%.3f\n",
			p.JD, filterName(p.Fid), sanitizeInline(p.ObjectID), p.LimitMag)
	}
	return writer.Flush()
}

// collectHistory merges the crossmatched detections of an alert with the
// stored non-detections of its object, newest first. includeOrigin adds the
// alert itself.
func collectHistory(ctx context.Context, store storage.AlertStore, candid int64, radius float64, includeOrigin bool) ([]LightPoint, error) {
	origin, err := store.Lookup(ctx, candid)
	if err != nil {
		return nil, fmt.Errorf("lookup alert %d: %w", candid, err)
	}
	matches, err := store.History(ctx, candid, radius)
	if err != nil {
		return nil, fmt.Errorf("history of alert %d: %w", candid, err)
	}
	nonDetections, err := store.NonDetections(ctx, origin.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("non-detections of %s: %w", origin.ObjectID, err)
	}

	points := make([]LightPoint, 0, len(matches)+len(nonDetections)+1)
	if includeOrigin {
		points = append(points, detectionPoint(origin, origin))
	}
	for _, rec := range matches {
		points = append(points, detectionPoint(origin, rec))
	}
	for _, nd := range nonDetections {
		points = append(points, LightPoint{
			JD:       nd.JD,
			Fid:      nd.Fid,
			LimitMag: nd.DiffMagLim,
			ObjectID: nd.ObjectID,
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].JD > points[j].JD })
	return points, nil
}

func detectionPoint(origin, rec storage.AlertRecord) LightPoint {
	return LightPoint{
		JD:         rec.JD,
		Fid:        rec.Fid,
		Candid:     rec.AlertCandid,
		Detection:  true,
		Mag:        rec.MagPSF,
		Sigma:      rec.SigmaPSF,
		DCMag:      rec.DCMag,
		DistArcsec: storage.AngularSeparationArcsec(origin.RA, origin.Dec, rec.RA, rec.Dec),
		ObjectID:   rec.ObjectID,
	}
}
