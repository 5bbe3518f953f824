package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"transient-alerts/internal/app"
)

var (
	showLimit     int
	historyRadius float64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently observed alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <candid>",
	Short: "List earlier alerts at the position of an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		candid, err := parseCandid(args[0])
		if err != nil {
			return err
		}
		if historyRadius < 0 {
			return fmt.Errorf("--radius must not be negative")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Candid:       candid,
			RadiusArcsec: historyRadius,
		})
	},
}

func parseCandid(v string) (int64, error) {
	candid, err := strconv.ParseInt(v, 10, 64)
	if err != nil || candid <= 0 {
		return 0, fmt.Errorf("invalid candid %q", v)
	}
	return candid, nil
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	historyCmd.Flags().Float64Var(&historyRadius, "radius", 0, "Match radius in arcsec (defaults to config)")
}
