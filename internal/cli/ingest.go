package cli

import (
	"github.com/spf13/cobra"

	"transient-alerts/internal/app"
)

var ingestDryRun bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <archive.tar[.gz]|packet.avro>",
	Short: "Ingest a local archive of alert packets",
	Long: "Runs every packet of a tar (optionally gzip-compressed) archive, or a single packet file, " +
		"through the same pipeline as the bus consumer. Packets that fail are logged and skipped.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Ingest(cmd.Context(), app.IngestOptions{
			Path:   args[0],
			DryRun: ingestDryRun,
		})
		return err
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <packet.avro>",
	Short: "Decode and calibrate a packet without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Inspect(cmd.Context(), args[0])
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Process against an in-memory store; write nothing")
}
