package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orbitalworks/constellation/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter configuration file",
	Long: `Create the user configuration file with default settings.

This writes ~/.config/constellation/config.yaml (honoring XDG_CONFIG_HOME)
populated with the built-in defaults, ready to edit. Existing files are
left alone unless --force is given.

Examples:
  constellation init
  constellation init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.GetUserConfigPath()
	if configPath != "" {
		path = configPath
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Printf("Config already exists at %s. Use --force to overwrite.\n", path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("rendering default config: %w", err)
	}
	header := "# Constellation configuration\n" +
		"# Environment variables (CONSTELLATION_*, ANTHROPIC_API_KEY) override these values.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	printStatus("✓", fmt.Sprintf("Wrote %s", path), color.FgGreen)

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (needed for oracle planning)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	fmt.Printf("\n%s Constellation is ready.\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the server:")
	fmt.Println("     constellation serve --request \"your goal here\"")
	fmt.Println()
	fmt.Println("  2. Connect a device:")
	fmt.Println("     constellation device --server localhost:7420")

	return nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
