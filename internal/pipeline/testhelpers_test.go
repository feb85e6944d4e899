package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/provider/mocks"
	"github.com/sells-group/distill-cli/internal/store"
)

var (
	opusInfo = model.ModelInfo{
		Provider:        "anthropic",
		Model:           "claude-3-opus",
		Pricing:         model.Pricing{Input: 0.015, Output: 0.075},
		RoleSuitability: model.RoleSuitability{Teacher: 0.95, Student: 0.3},
	}
	turboInfo = model.ModelInfo{
		Provider:        "openai",
		Model:           "gpt-3.5-turbo",
		Pricing:         model.Pricing{Input: 0.0005, Output: 0.0015},
		RoleSuitability: model.RoleSuitability{Teacher: 0.5, Student: 0.9},
	}
	miniInfo = model.ModelInfo{
		Provider:        "local",
		Model:           "tiny",
		Pricing:         model.Pricing{Input: 0.0001, Output: 0.0002},
		RoleSuitability: model.RoleSuitability{Teacher: 0.2, Student: 0.4},
	}

	seedOpts     = provider.Options{Temperature: 0.8, MaxTokens: 1000}
	bulkOpts     = provider.Options{Temperature: 0.7, MaxTokens: 500}
	validateOpts = provider.Options{Temperature: 0.1, MaxTokens: 10}
)

func testConfig() *config.Config {
	return &config.Config{
		Distill: config.DistillConfig{
			Strategy:              "response_based",
			QualityThreshold:      0.8,
			CostOptimization:      true,
			AdaptiveLearning:      true,
			CachePatterns:         true,
			MaxTeacherExamples:    50,
			StudentBatchSize:      20,
			ValidationSampleRatio: 0.1,
			SeedRetryAttempts:     1,
			OptimizationStrategy:  "balanced",
		},
	}
}

func newProvider(t *testing.T, name string, info model.ModelInfo) *mocks.MockProvider {
	return mocks.NewMockProvider(t).WithIdentity(name, info)
}

func newManager(t *testing.T, cfg *config.Config, teachers, students []provider.Provider) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	m, err := NewWithProviders(cfg, st, teachers, students)
	require.NoError(t, err)
	return m, st
}

func result(content string, confidence float64) *provider.Result {
	return &provider.Result{
		Content:      content,
		Confidence:   confidence,
		InputTokens:  100,
		OutputTokens: 200,
		TokensUsed:   300,
		ModelID:      "test-model",
	}
}

func qaRequest(quantity int) model.GenerationRequest {
	return model.GenerationRequest{
		Keywords:         []string{"finance", "risk"},
		DataType:         model.DataTypeQA,
		Quantity:         quantity,
		QualityThreshold: 0.8,
	}
}
