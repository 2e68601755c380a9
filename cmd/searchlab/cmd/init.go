package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchlab/configs"
	"github.com/searchlab/searchlab/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter .searchlab.yaml for the project",
		Long: `Writes an annotated .searchlab.yaml to the project directory and
creates the data directory. The generated file mirrors the built-in
defaults, so it changes nothing until edited.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(flagDir, ".searchlab.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("cannot write %s: %w", path, err)
			}

			// Fail now, not on first run, if the template and the loader drift.
			cfg, err := config.Load(flagDir)
			if err != nil {
				return fmt.Errorf("generated config does not load: %w", err)
			}
			dataDir := cfg.DataDir
			if !filepath.IsAbs(dataDir) {
				dataDir = filepath.Join(flagDir, dataDir)
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("cannot create data dir: %w", err)
			}

			out := cmd.OutOrStdout()
			kvLine(out, "config", path)
			kvLine(out, "data_dir", dataDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .searchlab.yaml")
	return cmd
}
