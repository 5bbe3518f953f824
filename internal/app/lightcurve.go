package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"
)

// LightCurve exports an alert and its history as CSV and/or PNG.
func (a *App) LightCurve(ctx context.Context, opts LightCurveOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.requireStore(ctx, "export light curve")
	if err != nil {
		return err
	}
	defer closeStore()

	points, err := collectHistory(ctx, store, opts.Candid, a.resolveRadius(opts.RadiusArcsec), true)
	if err != nil {
		return err
	}
	return a.exportLightCurve(points, opts)
}

func (a *App) exportLightCurve(points []LightPoint, opts LightCurveOptions) error {
	sort.SliceStable(points, func(i, j int) bool { return points[i].JD < points[j].JD })
	sampled := downsamplePoints(points, a.Config.ResolveMaxPoints(opts.MaxPoints))
	a.Logger.Info().Int("total", len(points)).Int("exported", len(sampled)).Int64("candid", opts.Candid).Msg("exporting light curve")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, sampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.Candid, sampled); err != nil {
			return err
		}
	}
	return nil
}

func downsamplePoints(points []LightPoint, max int) []LightPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]LightPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []LightPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"jd", "fid", "kind", "candid", "object_id", "magpsf", "sigmapsf", "dcmag", "diffmaglim", "sep_arcsec"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		row := []string{
			strconv.FormatFloat(p.JD, 'f', 6, 64),
			strconv.Itoa(p.Fid),
			"non-detection",
			"",
			p.ObjectID,
			"",
			"",
			"",
			strconv.FormatFloat(p.LimitMag, 'f', 4, 64),
			"",
		}
		if p.Detection {
			row[2] = "detection"
			row[3] = strconv.FormatInt(p.Candid, 10)
			row[5] = strconv.FormatFloat(p.Mag, 'f', 4, 64)
			row[6] = strconv.FormatFloat(p.Sigma, 'f', 4, 64)
			row[7] = csvFloat(p.DCMag)
			row[8] = ""
			row[9] = strconv.FormatFloat(p.DistArcsec, 'f', 3, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func writePointsPNG(path string, candid int64, points []LightPoint) error {
	series := lightCurveSeries(points)
	if len(series) == 0 {
		return errors.New("light curve has no plottable points")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	magFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("alert %d", candid),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "JD",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.1f") },
		},
		YAxis: chart.YAxis{
			Name:           "Magnitude",
			ValueFormatter: magFormatter,
			// Brighter is up.
			Range: &chart.ContinuousRange{Descending: true},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// lightCurveSeries builds one dot series per filter for detections and one
// per filter for upper limits.
func lightCurveSeries(points []LightPoint) []chart.Series {
	type xy struct{ x, y []float64 }
	detections := map[int]*xy{}
	limits := map[int]*xy{}

	for _, p := range points {
		target, y := detections, p.Mag
		if !p.Detection {
			target, y = limits, p.LimitMag
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		s, ok := target[p.Fid]
		if !ok {
			s = &xy{}
			target[p.Fid] = s
		}
		s.x = append(s.x, p.JD)
		s.y = append(s.y, y)
	}

	fids := make([]int, 0, len(detections)+len(limits))
	seen := map[int]bool{}
	for _, m := range []map[int]*xy{detections, limits} {
		for fid := range m {
			if !seen[fid] {
				seen[fid] = true
				fids = append(fids, fid)
			}
		}
	}
	sort.Ints(fids)

	var out []chart.Series
	for _, fid := range fids {
		if s, ok := detections[fid]; ok {
			out = append(out, chart.ContinuousSeries{
				Name:    filterName(fid),
				Style:   chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4},
				XValues: s.x,
				YValues: s.y,
			})
		}
		if s, ok := limits[fid]; ok {
			out = append(out, chart.ContinuousSeries{
				Name:    filterName(fid) + " limit",
				Style:   chart.Style{StrokeWidth: chart.Disabled, DotWidth: 2},
				XValues: s.x,
				YValues: s.y,
			})
		}
	}
	return out
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
