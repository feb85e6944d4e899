package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DataType tags the kind of synthetic data a request asks for. The set is
// open; unknown tags fall back to default heuristics downstream.
type DataType string

const (
	DataTypeQA             DataType = "qa"
	DataTypeClassification DataType = "classification"
	DataTypeGeneration     DataType = "generation"
	DataTypeCode           DataType = "code"
	DataTypeTranslation    DataType = "translation"
	DataTypeNER            DataType = "ner"
)

// DistillationStrategy selects how the student is taught.
type DistillationStrategy string

const (
	StrategyResponseBased DistillationStrategy = "response_based"
	StrategyFeatureBased  DistillationStrategy = "feature_based"
	StrategyHybrid        DistillationStrategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s DistillationStrategy) Valid() bool {
	switch s {
	case StrategyResponseBased, StrategyFeatureBased, StrategyHybrid:
		return true
	}
	return false
}

// DefaultQualityThreshold applies when a decoded request omits the
// threshold. An explicit 0 is kept.
const DefaultQualityThreshold = 0.8

// GenerationRequest describes a dataset to synthesize. It is treated as
// immutable once submitted.
type GenerationRequest struct {
	Keywords         []string             `json:"keywords"`
	DataType         DataType             `json:"data_type"`
	Quantity         int                  `json:"quantity"`
	QualityThreshold float64              `json:"quality_threshold"`
	Strategy         DistillationStrategy `json:"strategy"`
	Context          string               `json:"context,omitempty"`
}

// NewRequest returns an empty request carrying the default threshold. Decode
// into it so an absent quality_threshold falls back while 0 survives.
func NewRequest() GenerationRequest {
	return GenerationRequest{QualityThreshold: DefaultQualityThreshold}
}

// Requests decodes a JSON array of requests, each starting from NewRequest.
// Unknown fields are rejected.
type Requests []GenerationRequest

func (rs *Requests) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Requests, len(raw))
	for i, msg := range raw {
		out[i] = NewRequest()
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&out[i]); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}
	*rs = out
	return nil
}

// WithDefaults returns a copy with an empty strategy replaced by the default.
func (r GenerationRequest) WithDefaults() GenerationRequest {
	if r.Strategy == "" {
		r.Strategy = StrategyResponseBased
	}
	r.Keywords = append([]string(nil), r.Keywords...)
	return r
}

// WithQuantity returns a copy of the request asking for n items.
func (r GenerationRequest) WithQuantity(n int) GenerationRequest {
	r.Quantity = n
	r.Keywords = append([]string(nil), r.Keywords...)
	return r
}

// Validate checks the request invariants.
func (r GenerationRequest) Validate() error {
	if len(r.Keywords) == 0 {
		return &RequestError{Field: "keywords", Reason: "at least one keyword is required"}
	}
	for i, k := range r.Keywords {
		if strings.TrimSpace(k) == "" {
			return &RequestError{Field: "keywords", Reason: fmt.Sprintf("keyword %d is blank", i)}
		}
	}
	if strings.TrimSpace(string(r.DataType)) == "" {
		return &RequestError{Field: "data_type", Reason: "data type is required"}
	}
	if r.Quantity <= 0 {
		return &RequestError{Field: "quantity", Reason: "quantity must be positive"}
	}
	if r.QualityThreshold < 0 || r.QualityThreshold > 1 {
		return &RequestError{Field: "quality_threshold", Reason: "must be within [0, 1]"}
	}
	if r.Strategy != "" && !r.Strategy.Valid() {
		return &RequestError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", r.Strategy)}
	}
	return nil
}

// RequestError reports an invalid GenerationRequest.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("model: invalid request: %s: %s", e.Field, e.Reason)
}
