package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitalworks/constellation/internal/report"
	"github.com/orbitalworks/constellation/pkg/models"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Render a report for a constellation document",
	Long: `Load a constellation document from disk, validate it, and print a
trajectory report: lifecycle state, per-task outcomes, and failures.

Examples:
  constellation inspect nightly.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := models.LoadConstellationFile(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		fmt.Println(report.NewRenderer().Render(c))
		return nil
	},
}
