package cli

import (
	"github.com/spf13/cobra"

	"scratch-registry/internal/app"
)

var runNow bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the census service on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Immediately: runNow})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNow, "now", false, "Perform one census before waiting for the first interval")
}
