// simctl inspects scenario catalogs and plays simulations from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/prosim/internal/scenario"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simctl",
		Short: "Professional conversation simulator",
		Long: `simctl lists the available simulation scenarios and runs a
simulation interactively against a scripted or live conversation partner.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("file", "", "Scenario catalog YAML (default: built-in catalog)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newScenariosCmd(),
		newShowCmd(),
		newValidateCmd(),
		newPlayCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simctl version %s\n", version)
		},
	}
}

// loadCatalog reads the catalog named by --file, or the built-in one.
func loadCatalog(cmd *cobra.Command) (*scenario.Catalog, error) {
	path, _ := cmd.Flags().GetString("file")
	catalog, err := scenario.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	return catalog, nil
}
