package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/batch"
	"github.com/sells-group/distill-cli/internal/export"
	"github.com/sells-group/distill-cli/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch <requests-file>",
	Short: "Generate datasets for every request in a CSV, XLSX, JSON or YAML file",
	Long: `Reads generation requests from a file and runs them as one batch.

CSV and XLSX files need a header row with a keywords column. Optional columns
are data_type, quantity, quality_threshold, strategy and context. Keywords
within a cell are separated by semicolons or commas.`,
	Example: `  distill-cli batch requests.csv --concurrency 4
  distill-cli batch requests.xlsx --sequential --out ./data --format huggingface`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("teacher", "", "pin the teacher provider by name (requires --student)")
	batchCmd.Flags().String("student", "", "pin the student provider by name (requires --teacher)")
	batchCmd.Flags().Int("limit", 0, "max number of requests to run (0 = all)")
	batchCmd.Flags().Int("concurrency", 0, "max concurrent runs (default from config)")
	batchCmd.Flags().Bool("sequential", false, "run requests one at a time in file order")
	batchCmd.Flags().String("out", "", "directory to write each completed dataset to")
	batchCmd.Flags().String("format", string(export.FormatJSONL), "export format for --out")
	batchCmd.Flags().Bool("no-metadata", false, "omit request metadata from exports")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := cmd.Flags()
	pin, err := pairFromFlags(fs)
	if err != nil {
		return err
	}
	limit, _ := fs.GetInt("limit")
	concurrency, _ := fs.GetInt("concurrency")
	sequential, _ := fs.GetBool("sequential")
	outDir, _ := fs.GetString("out")
	formatName, _ := fs.GetString("format")
	noMeta, _ := fs.GetBool("no-metadata")
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = cfg.Batch.MaxConcurrentRuns
	}

	reqs, err := batch.ReadFile(ctx, args[0])
	if err != nil {
		return err
	}
	reqs = applyBatchDefaults(reqs, limit, cfg.Distill.Strategy)

	env, err := initDistill(ctx, "generate")
	if err != nil {
		return err
	}
	defer env.Close()

	res, runErr := batch.Run(ctx, env.Manager, reqs, batch.Options{
		Parallel:    !sequential,
		Concurrency: concurrency,
		Pair:        pin,
	})
	if res != nil {
		formatBatchResult(os.Stdout, res)
	}
	if runErr != nil {
		return runErr
	}

	if outDir == "" {
		return nil
	}
	opts := export.Options{IncludeMetadata: !noMeta}
	for _, o := range res.Results {
		if o.Status != model.RunStatusComplete {
			continue
		}
		run, err := env.Store.GetRun(ctx, o.RunID)
		if err != nil {
			return eris.Wrapf(err, "batch: load run %s", o.RunID)
		}
		path, err := writeExport(outDir, run, format, opts)
		if err != nil {
			return err
		}
		zap.L().Info("dataset exported", zap.String("path", path), zap.String("format", string(format)))
	}
	return nil
}

// applyBatchDefaults truncates reqs to limit and fills unset strategies
// with the configured default.
func applyBatchDefaults(reqs []model.GenerationRequest, limit int, strategy string) []model.GenerationRequest {
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	for i := range reqs {
		if reqs[i].Strategy == "" {
			reqs[i].Strategy = model.DistillationStrategy(strategy)
		}
	}
	return reqs
}

// formatBatchResult writes a per-request table and totals to w.
func formatBatchResult(out io.Writer, res *batch.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tTYPE\tKEYWORDS\tSTATUS\tITEMS\tQUALITY\tCOST\tRUN")
	_, _ = fmt.Fprintln(w, "-\t----\t--------\t------\t-----\t-------\t----\t---")
	for _, o := range res.Results {
		keywords := strings.Join(o.Request.Keywords, ",")
		if len(keywords) > 30 {
			keywords = keywords[:27] + "..."
		}
		runID := truncateID(o.RunID)
		if o.Error != "" {
			runID = o.Error
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.3f\t$%.4f\t%s\n",
			o.Index+1,
			o.Request.DataType,
			keywords,
			o.Status,
			o.Items,
			o.QualityScore,
			o.Cost,
			runID,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nBatch %s: %d/%d complete, %d failed, total cost $%.4f\n",
		truncateID(res.ID), res.Completed, res.Total, res.Failed, res.TotalCost)
}
