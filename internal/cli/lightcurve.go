package cli

import (
	"github.com/spf13/cobra"

	"transient-alerts/internal/app"
)

var (
	lightCurveRadius    float64
	lightCurvePNGPath   string
	lightCurveCSVPath   string
	lightCurveMaxPoints int
)

var lightCurveCmd = &cobra.Command{
	Use:   "lightcurve <candid>",
	Short: "Export an alert's light curve as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		candid, err := parseCandid(args[0])
		if err != nil {
			return err
		}

		opts := app.LightCurveOptions{
			Candid:       candid,
			RadiusArcsec: lightCurveRadius,
			PNGPath:      lightCurvePNGPath,
			CSVPath:      lightCurveCSVPath,
			MaxPoints:    lightCurveMaxPoints,
		}

		return getApp().LightCurve(cmd.Context(), opts)
	},
}

func init() {
	lightCurveCmd.Flags().Float64Var(&lightCurveRadius, "radius", 0, "Match radius in arcsec (defaults to config)")
	lightCurveCmd.Flags().StringVar(&lightCurvePNGPath, "png", "", "Path to write PNG chart")
	lightCurveCmd.Flags().StringVar(&lightCurveCSVPath, "csv", "", "Path to write CSV data")
	lightCurveCmd.Flags().IntVar(&lightCurveMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
