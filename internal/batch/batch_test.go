package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
)

type generatorFunc func(ctx context.Context, req model.GenerationRequest, opts pipeline.GenerateOptions) (*model.Run, error)

func (f generatorFunc) Generate(ctx context.Context, req model.GenerationRequest, opts pipeline.GenerateOptions) (*model.Run, error) {
	return f(ctx, req, opts)
}

func completeRun(req model.GenerationRequest) *model.Run {
	return &model.Run{
		ID:      "run-" + req.Keywords[0],
		Request: req,
		Response: &model.GenerationResponse{
			Data:         make([]model.DataItem, req.Quantity),
			QualityScore: 0.85,
			Cost:         0.01 * float64(req.Quantity),
		},
		Status: model.RunStatusComplete,
	}
}

func requests(keywords ...string) []model.GenerationRequest {
	reqs := make([]model.GenerationRequest, len(keywords))
	for i, k := range keywords {
		reqs[i] = model.GenerationRequest{Keywords: []string{k}, DataType: model.DataTypeQA, Quantity: i + 1}
	}
	return reqs
}

func TestRun_CountsOutcomes(t *testing.T) {
	gen := generatorFunc(func(_ context.Context, req model.GenerationRequest, _ pipeline.GenerateOptions) (*model.Run, error) {
		if req.Keywords[0] == "bad" {
			return nil, errors.New("provider down")
		}
		return completeRun(req), nil
	})

	res, err := Run(context.Background(), gen, requests("a", "bad", "c"), Options{Parallel: true})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.InDelta(t, 0.04, res.TotalCost, 1e-9)

	require.Len(t, res.Results, 3)
	assert.Equal(t, "run-a", res.Results[0].RunID)
	assert.Equal(t, 1, res.Results[0].Items)
	assert.Equal(t, model.RunStatusFailed, res.Results[1].Status)
	assert.Equal(t, "provider down", res.Results[1].Error)
	assert.Equal(t, 2, res.Results[2].Index)
	assert.Equal(t, 3, res.Results[2].Items)
}

func TestRun_SequentialKeepsOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	gen := generatorFunc(func(_ context.Context, req model.GenerationRequest, _ pipeline.GenerateOptions) (*model.Run, error) {
		mu.Lock()
		order = append(order, req.Keywords[0])
		mu.Unlock()
		return completeRun(req), nil
	})

	_, err := Run(context.Background(), gen, requests("a", "b", "c", "d"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRun_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := generatorFunc(func(_ context.Context, req model.GenerationRequest, _ pipeline.GenerateOptions) (*model.Run, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return completeRun(req), nil
	})

	keys := make([]string, 8)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}
	res, err := Run(context.Background(), gen, requests(keys...), Options{Parallel: true, Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_PassesPinnedPair(t *testing.T) {
	pin := &pipeline.PairKey{TeacherID: "opus", StudentID: "turbo"}
	gen := generatorFunc(func(_ context.Context, req model.GenerationRequest, opts pipeline.GenerateOptions) (*model.Run, error) {
		if assert.NotNil(t, opts.Pair) {
			assert.Equal(t, *pin, *opts.Pair)
		}
		return completeRun(req), nil
	})

	_, err := Run(context.Background(), gen, requests("a"), Options{Pair: pin})
	require.NoError(t, err)
}

func TestRun_Empty(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, Options{})
	require.Error(t, err)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	gen := generatorFunc(func(_ context.Context, req model.GenerationRequest, _ pipeline.GenerateOptions) (*model.Run, error) {
		calls.Add(1)
		return completeRun(req), nil
	})

	res, err := Run(ctx, gen, requests("a", "b"), Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, calls.Load())
}
