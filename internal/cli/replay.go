package cli

import (
	"github.com/spf13/cobra"

	"scratch-registry/internal/app"
)

var replayDryRun bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE...",
	Short: "Reconcile recorded observation files in order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReplayOptions{
			Files:  args,
			DryRun: replayDryRun,
			Out:    cmd.OutOrStdout(),
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Replay against a scratch copy of the state without archiving")
}
