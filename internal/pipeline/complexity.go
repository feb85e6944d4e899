package pipeline

import "github.com/sells-group/distill-cli/internal/model"

var baseComplexity = map[model.DataType]float64{
	model.DataTypeClassification: 0.3,
	model.DataTypeQA:             0.6,
	model.DataTypeGeneration:     0.8,
	model.DataTypeCode:           0.9,
	model.DataTypeTranslation:    0.7,
}

const defaultComplexity = 0.5

// TaskComplexity scores how demanding req is on a 0..1 scale. Large
// quantities and strict thresholds push the score up.
func TaskComplexity(req model.GenerationRequest) float64 {
	c, ok := baseComplexity[req.DataType]
	if !ok {
		c = defaultComplexity
	}
	if req.Quantity > 1000 {
		c += 0.1
	}
	if req.QualityThreshold > 0.9 {
		c += 0.2
	}
	return min(c, 1.0)
}
