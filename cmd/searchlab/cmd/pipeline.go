package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/searchlab/searchlab/internal/pipeline"
)

// pipelineFile is the on-disk pipeline definition.
type pipelineFile struct {
	Stages []pipeline.Stage `yaml:"stages" json:"stages"`
	Input  map[string]any   `yaml:"input,omitempty" json:"input,omitempty"`
}

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run multi-stage tool pipelines",
	}
	cmd.AddCommand(newPipelineRunCmd())
	return cmd
}

func newPipelineRunCmd() *cobra.Command {
	var file string
	var runID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline definition and record the run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			def, err := loadPipelineFile(file)
			if err != nil {
				return err
			}

			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := l.RunPipeline(cmd.Context(), runID, def.Stages, def.Input)
			if err != nil {
				return err
			}

			if flagJSON {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				kvLine(out, "run_id", res.RunID)
				kvLine(out, "status", res.Status)
				kvLine(out, "attempted", res.Attempted)
				for _, f := range res.Failures {
					fmt.Fprintf(out, "  stage %d (%s) failed: %s\n", f.Index, f.Domain, f.Message)
				}
				for _, o := range res.Outputs {
					fmt.Fprintf(out, "  stage %d (%s): %v\n", o.Index, o.Domain, o.Summary)
				}
			}

			// A fully failed run exits non-zero so scripts can branch on it.
			if len(res.Outputs) == 0 && len(res.Failures) > 0 {
				return fmt.Errorf("run %s failed: no stage succeeded", res.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition file (YAML)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Explicit run id (default generated)")
	return cmd
}

func loadPipelineFile(path string) (*pipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read pipeline file: %w", err)
	}
	var def pipelineFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid pipeline file %s: %w", path, err)
	}
	if len(def.Stages) == 0 {
		return nil, fmt.Errorf("pipeline file %s declares no stages", path)
	}
	return &def, nil
}
