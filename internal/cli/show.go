package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scratch-registry/internal/app"
)

var (
	showLimit     int
	showChangelog bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent census runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			Changelog: showChangelog,
			Out:       cmd.OutOrStdout(),
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of runs to display")
	showCmd.Flags().BoolVar(&showChangelog, "changelog", false, "Display the archived changelog instead of runs")
}
