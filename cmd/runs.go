package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect distillation run history",
	Long:  "Commands for listing, viewing, and summarizing distillation runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List distillation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		dataType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status:   model.RunStatus(status),
			DataType: model.DataType(dataType),
			Limit:    limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}
		filter.Limit = 10000 // high limit for stats

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (complete, failed)")
	runsListCmd.Flags().String("type", "", "filter by data type (qa, code, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total        int
	Complete     int
	Failed       int
	Items        int
	BelowTarget  int
	TotalCost    float64
	AvgQuality   float64
	AvgDurSecs   float64
	ItemsPerType map[model.DataType]int
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), ItemsPerType: make(map[model.DataType]int)}

	var totalDur time.Duration
	var totalQuality float64

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		}
		resp := r.Response
		if resp == nil {
			continue
		}
		s.Items += len(resp.Data)
		s.ItemsPerType[r.Request.DataType] += len(resp.Data)
		s.TotalCost += resp.Cost
		totalQuality += resp.QualityScore
		totalDur += resp.GenerationTime
		if !resp.Metadata.MeetsRequestThreshold {
			s.BelowTarget++
		}
	}

	if s.Complete > 0 {
		s.AvgQuality = totalQuality / float64(s.Complete)
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Complete)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tKEYWORDS\tSTATUS\tITEMS\tQUALITY\tCOST\tPAIR\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t------\t-----\t-------\t----\t----\t-------")

	for _, r := range runs {
		keywords := strings.Join(r.Request.Keywords, ",")
		if len(keywords) > 30 {
			keywords = keywords[:27] + "..."
		}

		items, quality, spent := "-", "-", "-"
		if r.Response != nil {
			items = fmt.Sprint(len(r.Response.Data))
			quality = fmt.Sprintf("%.3f", r.Response.QualityScore)
			spent = fmt.Sprintf("$%.4f", r.Response.Cost)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Request.DataType,
			keywords,
			r.Status,
			items,
			quality,
			spent,
			r.TeacherID+"->"+r.StudentID,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Items generated:\t%d\n", s.Items)
	for _, dt := range sortedTypes(s.ItemsPerType) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", dt, s.ItemsPerType[dt])
	}
	_, _ = fmt.Fprintf(w, "Below target quality:\t%d\n", s.BelowTarget)
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.4f\n", s.TotalCost)
	if s.Complete > 0 {
		_, _ = fmt.Fprintf(w, "Avg quality:\t%.3f\n", s.AvgQuality)
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

func sortedTypes(m map[model.DataType]int) []model.DataType {
	out := make([]model.DataType, 0, len(m))
	for dt := range m {
		out = append(out, dt)
	}
	slices.Sort(out)
	return out
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
