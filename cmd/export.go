package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored dataset",
	Long:  "Writes a completed run's items in json, jsonl, csv, huggingface, openai_jsonl, yaml or xlsx format.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fs := cmd.Flags()

		formatName, _ := fs.GetString("format")
		outDir, _ := fs.GetString("out")
		noMeta, _ := fs.GetBool("no-metadata")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		opts := export.Options{IncludeMetadata: !noMeta}

		if outDir == "" {
			return export.Write(os.Stdout, run, format, opts)
		}
		path, err := writeExport(outDir, run, format, opts)
		if err != nil {
			return err
		}
		zap.L().Info("dataset exported", zap.String("run_id", run.ID), zap.String("path", path))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", string(export.FormatJSONL), "export format")
	exportCmd.Flags().String("out", "", "directory to write to (default stdout)")
	exportCmd.Flags().Bool("no-metadata", false, "omit request metadata")
	rootCmd.AddCommand(exportCmd)
}
