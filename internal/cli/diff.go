package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scratch-registry/internal/app"
)

var (
	diffOld  string
	diffNew  string
	diffJSON bool
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show what changed between two registry files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if diffOld == "" || diffNew == "" {
			return fmt.Errorf("--old and --new must be provided")
		}
		_, err := getApp().Diff(cmd.Context(), app.DiffOptions{
			OldPath: diffOld,
			NewPath: diffNew,
			JSON:    diffJSON,
			Out:     cmd.OutOrStdout(),
		})
		return err
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffOld, "old", "", "Path to the earlier registry file")
	diffCmd.Flags().StringVar(&diffNew, "new", "", "Path to the later registry file")
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Print the delta as JSON")
}
