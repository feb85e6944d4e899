package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "distill-cli",
	Short: "Synthetic training data via teacher/student distillation",
	Long:  "Generates training datasets by seeding a strong teacher model, teaching a cheap student its patterns, and validating a sample of the student's output.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
