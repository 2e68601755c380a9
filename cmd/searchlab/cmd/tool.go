package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Run a single search tool directly",
	}
	cmd.AddCommand(newToolRunCmd())
	cmd.AddCommand(newToolListCmd())
	return cmd
}

func newToolRunCmd() *cobra.Command {
	var inputJSON string
	var params []string

	cmd := &cobra.Command{
		Use:   "run <domain>",
		Short: "Execute one tool with the given input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(inputJSON, params)
			if err != nil {
				return err
			}

			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := l.RunTool(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			kvLine(out, "domain", args[0])
			kvLine(out, "ok", res.OK)
			for k, v := range res.Summary {
				kvLine(out, k, v)
			}
			return writeJSON(out, res.Payload)
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Tool input as a JSON object")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Tool input as key=value (repeatable)")
	return cmd
}

func newToolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available and unavailable domains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"available":   l.Registry.Available(),
					"unavailable": l.Registry.Unavailable(),
				})
			}
			out := cmd.OutOrStdout()
			for _, d := range l.Registry.Available() {
				fmt.Fprintf(out, "%s\n", d)
			}
			for d, reason := range l.Registry.Unavailable() {
				fmt.Fprintf(out, "%s (unavailable: %s)\n", d, reason)
			}
			return nil
		},
	}
}

// parseInput merges a JSON object and key=value pairs into one input
// payload. Values that parse as JSON keep their type; everything else is
// a string.
func parseInput(inputJSON string, params []string) (map[string]any, error) {
	input := map[string]any{}
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return nil, fmt.Errorf("invalid --input JSON: %w", err)
		}
	}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", p)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			input[key] = typed
		} else {
			input[key] = value
		}
	}
	return input, nil
}
