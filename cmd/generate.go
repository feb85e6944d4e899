package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/export"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic dataset",
	Long:  "Runs one distillation: teacher seeds, student bulk generation and teacher validation of a sample.",
	Example: `  distill-cli generate --keywords finance,risk --type qa --quantity 200
  distill-cli generate -k python -t code -n 50 --teacher claude --student llama --out ./data --format openai_jsonl`,
	RunE: runGenerate,
}

func init() {
	addRequestFlags(generateCmd.Flags())
	generateCmd.Flags().String("teacher", "", "pin the teacher provider by name (requires --student)")
	generateCmd.Flags().String("student", "", "pin the student provider by name (requires --teacher)")
	generateCmd.Flags().String("out", "", "directory to write the exported dataset to")
	generateCmd.Flags().String("format", string(export.FormatJSONL), "export format for --out")
	generateCmd.Flags().Bool("no-metadata", false, "omit request metadata from the export")
	rootCmd.AddCommand(generateCmd)
}

// addRequestFlags registers the flags that describe a GenerationRequest.
func addRequestFlags(fs *pflag.FlagSet) {
	fs.StringSliceP("keywords", "k", nil, "topic keywords (comma separated)")
	fs.StringP("type", "t", string(model.DataTypeQA), "data type (qa, classification, generation, code, translation, ner)")
	fs.IntP("quantity", "n", 100, "number of items to generate")
	fs.Float64("threshold", model.DefaultQualityThreshold, "quality threshold in [0, 1]")
	fs.String("strategy", "", "distillation strategy (response_based, feature_based, hybrid)")
	fs.String("context", "", "free-form context passed to the teacher")
}

// requestFromFlags builds a GenerationRequest from addRequestFlags values.
func requestFromFlags(fs *pflag.FlagSet) model.GenerationRequest {
	keywords, _ := fs.GetStringSlice("keywords")
	dataType, _ := fs.GetString("type")
	quantity, _ := fs.GetInt("quantity")
	threshold, _ := fs.GetFloat64("threshold")
	strategy, _ := fs.GetString("strategy")
	extra, _ := fs.GetString("context")
	if strategy == "" {
		strategy = cfg.Distill.Strategy
	}
	return model.GenerationRequest{
		Keywords:         keywords,
		DataType:         model.DataType(dataType),
		Quantity:         quantity,
		QualityThreshold: threshold,
		Strategy:         model.DistillationStrategy(strategy),
		Context:          extra,
	}
}

// pairFromFlags returns the pinned pair, nil when neither flag is set.
func pairFromFlags(fs *pflag.FlagSet) (*pipeline.PairKey, error) {
	teacher, _ := fs.GetString("teacher")
	student, _ := fs.GetString("student")
	switch {
	case teacher == "" && student == "":
		return nil, nil
	case teacher == "" || student == "":
		return nil, eris.New("--teacher and --student must be given together")
	}
	return &pipeline.PairKey{TeacherID: teacher, StudentID: student}, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := cmd.Flags()
	req := requestFromFlags(fs)
	pin, err := pairFromFlags(fs)
	if err != nil {
		return err
	}
	outDir, _ := fs.GetString("out")
	formatName, _ := fs.GetString("format")
	noMeta, _ := fs.GetBool("no-metadata")
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	env, err := initDistill(ctx, "generate")
	if err != nil {
		return err
	}
	defer env.Close()

	run, err := env.Manager.Generate(ctx, req, pipeline.GenerateOptions{Pair: pin})
	if err != nil {
		return eris.Wrap(err, "generate")
	}

	formatRunSummary(os.Stdout, run)

	if outDir == "" {
		return nil
	}
	path, err := writeExport(outDir, run, format, export.Options{IncludeMetadata: !noMeta})
	if err != nil {
		return err
	}
	zap.L().Info("dataset exported", zap.String("path", path), zap.String("format", string(format)))
	return nil
}

// writeExport writes run into dir under its export filename.
func writeExport(dir string, run *model.Run, format export.Format, opts export.Options) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "create output directory")
	}
	path := filepath.Join(dir, export.Filename(run.ID, format))
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "create export file")
	}
	defer f.Close() //nolint:errcheck

	if err := export.Write(f, run, format, opts); err != nil {
		return "", err
	}
	return path, eris.Wrap(f.Sync(), "sync export file")
}

// formatRunSummary writes a short description of a finished run to w.
func formatRunSummary(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Pair:\t%s -> %s\n", run.TeacherID, run.StudentID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	if resp := run.Response; resp != nil {
		_, _ = fmt.Fprintf(w, "Items:\t%d (teacher %d, student %d)\n",
			len(resp.Data), resp.CountBySource(model.SourceTeacher), resp.CountBySource(model.SourceStudent))
		_, _ = fmt.Fprintf(w, "Quality:\t%.3f (threshold met: %t)\n",
			resp.QualityScore, resp.Metadata.MeetsRequestThreshold)
		_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", resp.Cost)
		_, _ = fmt.Fprintf(w, "Tokens:\t%d\n", resp.Metadata.TokensUsed)
		_, _ = fmt.Fprintf(w, "Patterns:\t%d\n", resp.Metadata.PatternsExtracted)
		if resp.Metadata.FailedCalls > 0 {
			_, _ = fmt.Fprintf(w, "Failed calls:\t%d\n", resp.Metadata.FailedCalls)
		}
		_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", resp.GenerationTime.Round(time.Millisecond))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	_ = w.Flush()
}
