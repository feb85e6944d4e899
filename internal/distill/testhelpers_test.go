package distill

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/provider/mocks"
)

var (
	teacherInfo = model.ModelInfo{
		Provider: "anthropic",
		Model:    "claude-3-opus",
		Pricing:  model.Pricing{Input: 0.015, Output: 0.075},
	}
	studentInfo = model.ModelInfo{
		Provider: "openai",
		Model:    "gpt-3.5-turbo",
		Pricing:  model.Pricing{Input: 0.0005, Output: 0.0015},
	}

	seedOpts     = provider.Options{Temperature: 0.8, MaxTokens: 1000}
	bulkOpts     = provider.Options{Temperature: 0.7, MaxTokens: 500}
	validateOpts = provider.Options{Temperature: 0.1, MaxTokens: 10}
)

func newTeacher(t *testing.T) *mocks.MockProvider {
	return mocks.NewMockProvider(t).WithIdentity("teacher", teacherInfo)
}

func newStudent(t *testing.T) *mocks.MockProvider {
	return mocks.NewMockProvider(t).WithIdentity("student", studentInfo)
}

// result returns a 100-in/200-out call result.
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

// callCost is the price of result() under info's rates.
func callCost(info model.ModelInfo) float64 {
	return 0.1*info.Pricing.Input + 0.2*info.Pricing.Output
}

func qaRequest(quantity int) model.GenerationRequest {
	return model.GenerationRequest{
		Keywords:         []string{"finance", "risk"},
		DataType:         model.DataTypeQA,
		Quantity:         quantity,
		QualityThreshold: 0.8,
	}
}

func promptHas(substr string) any {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, substr) })
}

func teacherExample(output string, confidence float64, keywords ...string) model.TeacherExample {
	return model.TeacherExample{
		Output:     output,
		Confidence: confidence,
		Context:    model.ExampleContext{Keywords: keywords},
	}
}
