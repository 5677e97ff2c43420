package cli

import (
	"github.com/spf13/cobra"

	"scratch-registry/internal/app"
)

var censusFeedFile string

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Perform a single census now",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Census(cmd.Context(), app.CensusOptions{
			FeedFile: censusFeedFile,
			Out:      cmd.OutOrStdout(),
		})
		return err
	},
}

func init() {
	censusCmd.Flags().StringVar(&censusFeedFile, "file", "", "Read the observation from a local catalog file instead of the feed")
}
