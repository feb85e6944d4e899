package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

// Generator runs one generation request. *pipeline.Manager satisfies it.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest, opts pipeline.GenerateOptions) (*model.Run, error)
}

// Options control a batch.
type Options struct {
	// Parallel runs requests concurrently. Otherwise they run in order.
	Parallel bool
	// Concurrency caps in-flight requests when Parallel is set. Zero means
	// no cap.
	Concurrency int
	// Pair pins every request to one pair.
	Pair *pipeline.PairKey
}

// Outcome is the result of one request in a batch.
type Outcome struct {
	Index        int                     `json:"index"`
	Request      model.GenerationRequest `json:"request"`
	RunID        string                  `json:"run_id,omitempty"`
	Status       model.RunStatus         `json:"status"`
	Items        int                     `json:"items"`
	QualityScore float64                 `json:"quality_score"`
	Cost         float64                 `json:"cost"`
	Error        string                  `json:"error,omitempty"`
}

// Result summarizes a finished batch. Results keep request order.
type Result struct {
	ID        string    `json:"batch_id"`
	Total     int       `json:"total_requests"`
	Completed int       `json:"completed_requests"`
	Failed    int       `json:"failed_requests"`
	TotalCost float64   `json:"total_cost"`
	Results   []Outcome `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

// Run executes reqs through gen. A failed request is recorded in its
// Outcome and does not stop the batch. The returned error is non-nil only
// when reqs is empty or ctx ends before the batch finishes.
func Run(ctx context.Context, gen Generator, reqs []model.GenerationRequest, opts Options) (*Result, error) {
	if len(reqs) == 0 {
		return nil, eris.New("batch: no requests")
	}

	res := &Result{
		ID:        uuid.NewString(),
		Total:     len(reqs),
		Results:   make([]Outcome, len(reqs)),
		CreatedAt: time.Now().UTC(),
	}

	limit := 1
	if opts.Parallel {
		limit = opts.Concurrency
		if limit < 1 {
			limit = len(reqs)
		}
	}

	log := zap.L().With(zap.String("batch_id", res.ID))
	log.Info("batch: starting",
		zap.Int("requests", len(reqs)),
		zap.Bool("parallel", opts.Parallel),
		zap.Int("concurrency", limit),
	)
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			res.Results[i] = runOne(ctx, gen, i, req, opts.Pair, log)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range res.Results {
		if o.Status == model.RunStatusComplete {
			res.Completed++
		} else {
			res.Failed++
		}
		res.TotalCost += o.Cost
	}

	log.Info("batch: complete",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Float64("cost", res.TotalCost),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "batch: interrupted")
	}
	return res, nil
}

func runOne(ctx context.Context, gen Generator, i int, req model.GenerationRequest, pin *pipeline.PairKey, log *zap.Logger) Outcome {
	out := Outcome{Index: i, Request: req, Status: model.RunStatusFailed}

	if err := ctx.Err(); err != nil {
		out.Error = err.Error()
		return out
	}

	run, err := gen.Generate(ctx, req, pipeline.GenerateOptions{Pair: pin})
	if err != nil {
		out.Error = err.Error()
		log.Warn("batch: request failed", zap.Int("index", i), zap.Error(err))
		return out
	}

	out.RunID = run.ID
	out.Request = run.Request
	out.Status = run.Status
	if run.Response != nil {
		out.Items = len(run.Response.Data)
		out.QualityScore = run.Response.QualityScore
		out.Cost = run.Response.Cost
	}
	return out
}
