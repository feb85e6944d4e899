package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distill-cli/internal/cost"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Recommend a model, teacher/student split and timing for a request",
	Long:  "Scores every configured provider against the request and budget without calling any model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		fs := cmd.Flags()

		req := requestFromFlags(fs)
		strategy, _ := fs.GetString("optimization")
		budget := cost.BudgetFromConfig(cfg.Budget)
		if v, _ := fs.GetFloat64("budget"); v > 0 {
			budget.Total = v
		}

		env, err := initDistill(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Manager.Optimize(req, strategy, &budget)
		if err != nil {
			return eris.Wrap(err, "optimize")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	addRequestFlags(optimizeCmd.Flags())
	optimizeCmd.Flags().String("optimization", "", "optimization strategy (cost_first, quality_first, balanced, adaptive)")
	optimizeCmd.Flags().Float64("budget", 0, "total budget in USD (overrides budget.total)")
	rootCmd.AddCommand(optimizeCmd)
}
