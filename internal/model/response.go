package model

import "time"

// Source identifies which side of the distillation produced an item.
type Source string

const (
	SourceTeacher Source = "teacher"
	SourceStudent Source = "student"
)

// DataItem is one generated record.
type DataItem struct {
	Content string  `json:"content"`
	Source  Source  `json:"source"`
	Quality float64 `json:"quality"`
}

// ResponseMetadata summarises how a dataset was produced.
type ResponseMetadata struct {
	TeacherExamples       int     `json:"teacher_examples"`
	StudentGenerated      int     `json:"student_generated"`
	LearningConfidence    float64 `json:"learning_confidence"`
	ValidationSampleSize  int     `json:"validation_sample_size"`
	MeetsQualityThreshold bool    `json:"meets_quality_threshold"`
	MeetsRequestThreshold bool    `json:"meets_request_threshold"`
	PatternsExtracted     int     `json:"patterns_extracted"`
	Coverage              float64 `json:"coverage"`
	TokensUsed            int     `json:"tokens_used"`
	FailedCalls           int     `json:"failed_calls"`
	// TeacherCost covers seeding and validation; StudentCost the bulk calls.
	TeacherCost           float64 `json:"teacher_cost"`
	StudentCost           float64 `json:"student_cost"`
}

// GenerationResponse is the result of one distillation run.
type GenerationResponse struct {
	ID             string             `json:"id"`
	Data           []DataItem         `json:"data"`
	QualityScore   float64            `json:"quality_score"`
	Cost           float64            `json:"cost"`
	ModelUsed      string             `json:"model_used"`
	GenerationTime time.Duration      `json:"generation_time"`
	Metadata       ResponseMetadata   `json:"metadata"`
	Patterns       []KnowledgePattern `json:"patterns,omitempty"`
}

// CountBySource returns the number of items from src.
func (r *GenerationResponse) CountBySource(src Source) int {
	n := 0
	for _, d := range r.Data {
		if d.Source == src {
			n++
		}
	}
	return n
}
