package model

import "time"

// RunStatus represents the final state of a distillation run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one generation request.
type Run struct {
	ID        string              `json:"id"`
	Request   GenerationRequest   `json:"request"`
	Response  *GenerationResponse `json:"response,omitempty"`
	TeacherID string              `json:"teacher_id"`
	StudentID string              `json:"student_id"`
	Status    RunStatus           `json:"status"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}
