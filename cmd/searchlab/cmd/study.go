package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/searchlab/searchlab/internal/lab"
)

func newStudyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Optimize pipeline parameters across trials",
	}
	cmd.AddCommand(newStudyRunCmd())
	cmd.AddCommand(newStudyShowCmd())
	return cmd
}

func newStudyRunCmd() *cobra.Command {
	var file string
	var nTrials int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization study from a study definition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			spec, err := loadStudyFile(file)
			if err != nil {
				return err
			}
			if nTrials > 0 {
				spec.NTrials = nTrials
			}

			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			sum, err := l.RunStudy(cmd.Context(), *spec)
			if err != nil {
				return err
			}

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			out := cmd.OutOrStdout()
			kvLine(out, "study_id", sum.Study.StudyID)
			kvLine(out, "trials", sum.Trials)
			kvLine(out, "completed", sum.Completed)
			kvLine(out, "pruned", sum.Pruned)
			kvLine(out, "failed", sum.Failed)
			if sum.Study.BestValue != nil {
				kvLine(out, "best_value", *sum.Study.BestValue)
				kvLine(out, "best_trial", sum.Study.BestTrialID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Study definition file (YAML)")
	cmd.Flags().IntVar(&nTrials, "trials", 0, "Override the trial budget")
	return cmd
}

func newStudyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <study-id>",
		Short: "Show a study's trials and best result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			study, err := l.Store.GetStudy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			trials, err := l.Store.ListTrials(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"study":  study,
					"trials": trials,
				})
			}
			out := cmd.OutOrStdout()
			kvLine(out, "study_id", study.StudyID)
			kvLine(out, "direction", study.Direction)
			if study.BestValue != nil {
				kvLine(out, "best_value", *study.BestValue)
				kvLine(out, "best_trial", study.BestTrialID)
			}
			for _, tr := range trials {
				if tr.Value != nil {
					fmt.Fprintf(out, "  #%03d %-9s %.4f\n", tr.Number, tr.State, *tr.Value)
				} else {
					fmt.Fprintf(out, "  #%03d %-9s\n", tr.Number, tr.State)
				}
			}
			return nil
		},
	}
}

func loadStudyFile(path string) (*lab.StudySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read study file: %w", err)
	}
	var spec lab.StudySpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("invalid study file %s: %w", path, err)
	}
	if len(spec.Stages) == 0 {
		return nil, fmt.Errorf("study file %s declares no stages", path)
	}
	if spec.NTrials <= 0 {
		return nil, fmt.Errorf("study file %s needs a positive n_trials", path)
	}
	return &spec, nil
}
