package model

import "time"

// PatternType classifies a KnowledgePattern.
type PatternType string

const (
	PatternStructure PatternType = "structure"
	PatternStyle     PatternType = "style"
	PatternContent   PatternType = "content"
	PatternFormat    PatternType = "format"
)

// MaxPatternExamples caps the exemplars stored on a pattern.
const MaxPatternExamples = 3

// KnowledgePattern is a reusable regularity mined from teacher outputs.
type KnowledgePattern struct {
	PatternID   string      `json:"pattern_id"`
	PatternType PatternType `json:"pattern_type"`
	Keywords    []string    `json:"keywords"`
	Template    string      `json:"template"`
	Examples    []string    `json:"examples"`
	Confidence  float64     `json:"confidence"`
	Frequency   int         `json:"frequency"`
	LastUpdated time.Time   `json:"last_updated"`
}

// TeacherExample is one seed generated by the teacher model.
type TeacherExample struct {
	Input      string         `json:"input"`
	Output     string         `json:"output"`
	Confidence float64        `json:"confidence"`
	TokensUsed int            `json:"tokens_used"`
	Cost       float64        `json:"cost"`
	Model      string         `json:"model"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    ExampleContext `json:"context"`
}

// ExampleContext records what produced a TeacherExample.
type ExampleContext struct {
	Keywords  []string `json:"keywords"`
	Iteration int      `json:"iteration"`
}

// ModelInfo describes a provider's model as reported by Describe.
type ModelInfo struct {
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	MaxTokens       int             `json:"max_tokens"`
	Pricing         Pricing         `json:"pricing"`
	RoleSuitability RoleSuitability `json:"role_suitability"`
}

// Pricing is USD per 1K tokens.
type Pricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// RoleSuitability scores how well a model fits each role, in [0, 1].
type RoleSuitability struct {
	Teacher float64 `json:"teacher"`
	Student float64 `json:"student"`
}

// Best returns the higher of the two role scores.
func (r RoleSuitability) Best() float64 {
	if r.Teacher > r.Student {
		return r.Teacher
	}
	return r.Student
}
