package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "Print LLM function specs for all available tools",
		Long: `Prints one OpenAI-style function spec per available tool domain, so an
LLM orchestrator can plan tool calls against the live registry.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			specs, err := l.Registry.FunctionSpecs()
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), specs)
			}
			out := cmd.OutOrStdout()
			for _, s := range specs {
				fmt.Fprintf(out, "%s: %s\n", s.Function.Name, s.Function.Description)
			}
			return nil
		},
	}
}
