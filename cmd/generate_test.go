package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/export"
	"github.com/sells-group/distill-cli/internal/model"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func requestFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addRequestFlags(fs)
	fs.String("teacher", "", "")
	fs.String("student", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestRequestFromFlags(t *testing.T) {
	withConfig(t, &config.Config{Distill: config.DistillConfig{Strategy: "hybrid"}})

	fs := requestFlags(t, "-k", "finance,risk", "-t", "code", "-n", "25", "--threshold", "0.9", "--context", "fintech")
	req := requestFromFlags(fs)

	assert.Equal(t, []string{"finance", "risk"}, req.Keywords)
	assert.Equal(t, model.DataTypeCode, req.DataType)
	assert.Equal(t, 25, req.Quantity)
	assert.InDelta(t, 0.9, req.QualityThreshold, 1e-9)
	assert.Equal(t, model.StrategyHybrid, req.Strategy, "falls back to the configured strategy")
	assert.Equal(t, "fintech", req.Context)
	require.NoError(t, req.Validate())
}

func TestRequestFromFlags_ExplicitStrategy(t *testing.T) {
	withConfig(t, &config.Config{Distill: config.DistillConfig{Strategy: "hybrid"}})

	req := requestFromFlags(requestFlags(t, "-k", "a", "--strategy", "feature_based"))
	assert.Equal(t, model.StrategyFeatureBased, req.Strategy)
	assert.Equal(t, model.DataTypeQA, req.DataType)
	assert.Equal(t, 100, req.Quantity)
}

func TestPairFromFlags(t *testing.T) {
	pin, err := pairFromFlags(requestFlags(t))
	require.NoError(t, err)
	assert.Nil(t, pin)

	pin, err = pairFromFlags(requestFlags(t, "--teacher", "opus", "--student", "mini"))
	require.NoError(t, err)
	require.NotNil(t, pin)
	assert.Equal(t, "opus", pin.TeacherID)
	assert.Equal(t, "mini", pin.StudentID)

	_, err = pairFromFlags(requestFlags(t, "--teacher", "opus"))
	require.Error(t, err)
}

func testRun() *model.Run {
	return &model.Run{
		ID:      "run-42",
		Request: model.GenerationRequest{Keywords: []string{"finance"}, DataType: model.DataTypeQA, Quantity: 2},
		Response: &model.GenerationResponse{
			Data: []model.DataItem{
				{Content: "Q: a\nA: b", Source: model.SourceTeacher, Quality: 0.9},
				{Content: "c", Source: model.SourceStudent, Quality: 0.7},
			},
			QualityScore:   0.8,
			Cost:           0.0042,
			GenerationTime: 1500 * time.Millisecond,
			Metadata:       model.ResponseMetadata{TokensUsed: 1200, PatternsExtracted: 3, FailedCalls: 1},
		},
		TeacherID: "opus",
		StudentID: "turbo",
		Status:    model.RunStatusComplete,
		CreatedAt: time.Now(),
	}
}

func TestFormatRunSummary(t *testing.T) {
	var buf bytes.Buffer
	formatRunSummary(&buf, testRun())

	out := buf.String()
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "opus -> turbo")
	assert.Contains(t, out, "2 (teacher 1, student 1)")
	assert.Contains(t, out, "$0.0042")
	assert.Contains(t, out, "Failed calls:")
	assert.Contains(t, out, "1.5s")
}

func TestWriteExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	path, err := writeExport(dir, testRun(), export.FormatCSV, export.Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dataset_run-42.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "item_2,c,0.7000,student")
}

func TestInitDistill_ValidationFails(t *testing.T) {
	withConfig(t, &config.Config{
		Distill: config.DistillConfig{
			MaxTeacherExamples:    50,
			StudentBatchSize:      20,
			ValidationSampleRatio: 0.1,
		},
	})

	_, err := initDistill(context.Background(), "generate")
	var vErr *config.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, err.Error(), "teacher provider is required")
}

func TestInitDistill_LocalProviders(t *testing.T) {
	withConfig(t, &config.Config{
		Teachers: []config.ProviderConfig{{Name: "big", Type: config.ProviderLocal, Model: "llama3:70b", MaxTokens: 4096, TimeoutSecs: 30, RateLimitPerMinute: 60}},
		Students: []config.ProviderConfig{{Name: "small", Type: config.ProviderLocal, Model: "llama3:8b", MaxTokens: 4096, TimeoutSecs: 30, RateLimitPerMinute: 60}},
		Distill: config.DistillConfig{
			Strategy:              "response_based",
			MaxTeacherExamples:    50,
			StudentBatchSize:      20,
			ValidationSampleRatio: 0.1,
			OptimizationStrategy:  "balanced",
		},
	})

	env, err := initDistill(context.Background(), "generate")
	require.NoError(t, err)
	defer env.Close()

	require.Len(t, env.Manager.Pairs(), 1)
	assert.Equal(t, "big", env.Manager.Pairs()[0].TeacherID)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "mongo"}})
	_, err := initStore(context.Background())
	require.Error(t, err)
}
