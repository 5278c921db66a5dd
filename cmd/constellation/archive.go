package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orbitalworks/constellation/internal/report"
	"github.com/orbitalworks/constellation/internal/store"
	"github.com/orbitalworks/constellation/pkg/models"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect archived constellations",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived constellations, newest first",
	RunE:  runArchiveList,
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <constellation-id>",
	Short: "Show the full report for an archived constellation",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveShow,
}

func init() {
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)
}

func openArchive() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Archive.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	db, err := openArchive()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No archived constellations.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s %s  %s\n", stateSymbol(e.State), e.ConstellationID, e.Name)
		fmt.Printf("  %s, %d tasks", e.State, e.TaskCount)
		if e.FailedCount > 0 {
			fmt.Printf(", %s", color.RedString("%d failed", e.FailedCount))
		}
		if e.LLMSource != "" {
			fmt.Printf(", planned by %s", e.LLMSource)
		}
		fmt.Printf(", archived %s\n", e.ArchivedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runArchiveShow(cmd *cobra.Command, args []string) error {
	db, err := openArchive()
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := db.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Println(report.NewRenderer().Render(c))
	return nil
}

// stateSymbol maps a terminal state to a colored glyph for list output.
func stateSymbol(s models.ConstellationState) string {
	switch s {
	case models.StateCompleted:
		return color.GreenString("✓")
	case models.StateFailed:
		return color.RedString("✗")
	case models.StatePartiallyFailed:
		return color.YellowString("◐")
	default:
		return color.YellowString("…")
	}
}
