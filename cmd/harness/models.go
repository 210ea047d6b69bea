package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/llm"
)

// modelsCmd: harness models [provider]
var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the built-in model catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		models := llm.ListModels(provider)
		if len(models) == 0 {
			return fmt.Errorf("no models for provider %q", provider)
		}
		return printModels(cmd.OutOrStdout(), models)
	},
}

func printModels(w io.Writer, models []llm.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tAPI\tCONTEXT\tINPUT $/M\tOUTPUT $/M\tFEATURES")
	for _, m := range models {
		features := append([]string(nil), m.Input...)
		if m.Reasoning {
			features = append(features, "reasoning")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\n",
			m.Provider, m.ID, m.API, m.ContextWindow, m.Cost.Input, m.Cost.Output, strings.Join(features, ","))
	}
	return tw.Flush()
}
