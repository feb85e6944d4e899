// Package cost estimates, selects and tracks spend across teacher and
// student models.
package cost

import (
	"time"

	"github.com/sells-group/distill-cli/internal/model"
)

const (
	// basePromptTokens approximates the fixed instruction text of a prompt.
	basePromptTokens = 100
	// tokensPerKeyword approximates one keyword with its separators.
	tokensPerKeyword = 5
	// charsPerToken is the rough context-to-token ratio.
	charsPerToken = 4
	// defaultOutputTokens applies to data types without a table entry.
	defaultOutputTokens = 75
)

// outputTokensPerItem is the expected completion length per generated item.
var outputTokensPerItem = map[model.DataType]int{
	model.DataTypeQA:             50,
	model.DataTypeClassification: 20,
	model.DataTypeGeneration:     100,
	model.DataTypeCode:           150,
	model.DataTypeTranslation:    80,
}

// Estimate is the projected cost of running a request on one profile.
type Estimate struct {
	InputTokens        int           `json:"estimated_input_tokens"`
	OutputTokens       int           `json:"estimated_output_tokens"`
	Cost               float64       `json:"estimated_cost"`
	Time               time.Duration `json:"estimated_time"`
	QualityExpectation float64       `json:"quality_expectation"`
	Confidence         float64       `json:"confidence"`
}

// InputTokens estimates prompt tokens for req.
func InputTokens(req model.GenerationRequest) int {
	return basePromptTokens + tokensPerKeyword*len(req.Keywords) + len(req.Context)/charsPerToken
}

// OutputTokens estimates completion tokens for req.
func OutputTokens(req model.GenerationRequest) int {
	perItem, ok := outputTokensPerItem[req.DataType]
	if !ok {
		perItem = defaultOutputTokens
	}
	return perItem * req.Quantity
}

// estimate prices req against p.
func estimate(req model.GenerationRequest, p Profile) Estimate {
	in, out := InputTokens(req), OutputTokens(req)

	speed := p.SpeedRating
	if speed <= 0 {
		speed = 1
	}
	minutes := float64(req.Quantity) / speed

	return Estimate{
		InputTokens:        in,
		OutputTokens:       out,
		Cost:               float64(in)/1000*p.InputCostPer1K + float64(out)/1000*p.OutputCostPer1K,
		Time:               time.Duration(minutes * float64(time.Minute)),
		QualityExpectation: p.QualityRating,
		Confidence:         p.ReliabilityRating,
	}
}
