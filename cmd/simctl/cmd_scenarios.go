package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/prosim/internal/scenario"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(catalog.List())
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tDIFFICULTY\tPERSONA\tPHASES")
			for _, d := range catalog.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.ID, d.Title, d.Difficulty, d.Persona.Name, len(d.Phases))
			}
			return w.Flush()
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <scenario>",
		Short: "Show a scenario in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			d, err := catalog.Lookup(args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(d)
			}
			printScenario(cmd, d)
			return nil
		},
	}
}

func printScenario(cmd *cobra.Command, d scenario.Definition) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", d.Title, d.ID)
	fmt.Fprintf(out, "  %s\n\n", d.Description)
	fmt.Fprintf(out, "Difficulty: %s   Duration: %s\n", d.Difficulty, d.EstimatedDuration)
	fmt.Fprintf(out, "Partner:    %s, %s\n", d.Persona.Name, d.Persona.Role)
	if len(d.SkillsPracticed) > 0 {
		fmt.Fprintf(out, "Skills:     %s\n", strings.Join(d.SkillsPracticed, ", "))
	}
	fmt.Fprintf(out, "\nInstructions:\n  %s\n", d.Instructions)
	fmt.Fprintln(out, "\nObjectives:")
	for _, o := range d.Objectives {
		fmt.Fprintf(out, "  - %s\n", o)
	}
	fmt.Fprintln(out, "\nPhases:")
	for i, p := range d.Phases {
		if p.AdvanceAt > 0 {
			fmt.Fprintf(out, "  %d. %s (moves on at %d turns)\n", i+1, p.Name, p.AdvanceAt)
		} else {
			fmt.Fprintf(out, "  %d. %s\n", i+1, p.Name)
		}
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a scenario catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return fmt.Errorf("file path is required")
			}
			catalog, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d scenarios OK\n", args[0], catalog.Len())
			return nil
		},
	}
}
