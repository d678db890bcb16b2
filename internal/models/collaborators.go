package models

import (
	"context"
	"errors"
)

// ErrExtraction marks a field-extraction failure (unreachable collaborator or unparseable
// output), as opposed to a successful call that found nothing.
var ErrExtraction = errors.New("field extraction failed")

// Intent is the output of the intent-classification collaborator.
type Intent struct {
	Name       string         `json:"intent"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
}

// Reference list names passed to the extractor.
const (
	RefBrands    = "brands"
	RefCarTypes  = "car_types"
	RefFuelTypes = "fuel_types"
	RefServices  = "service_types"
)

// AnalysisRequest is the input to the field-extraction collaborator.
type AnalysisRequest struct {
	Flow       FlowName
	Step       StepName
	Message    string
	Data       Data
	History    []Exchange
	References map[string][]string
	// Fields lists the keys the current step can accept.
	Fields []DataKey
}

// Analysis is a structured extraction result.
type Analysis struct {
	Fields                Data    `json:"fields"`
	Confidence            float64 `json:"confidence"`
	NeedsClarification    bool    `json:"needs_clarification"`
	ClarificationQuestion string  `json:"clarification_question,omitempty"`
	UserIntent            string  `json:"user_intent,omitempty"`
}

// GenerationRequest is the input to the response-generation collaborator.
type GenerationRequest struct {
	Message  string
	Flow     FlowName
	Step     StepName
	Data     Data
	Analysis *Analysis
	// Fallback is the deterministic reply the generated text replaces.
	Fallback   string
	CarRelated bool
	History    []Exchange
}

// Extractor extracts structured fields from free text.
type Extractor interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// Responder rewrites a canned reply into a more conversational one.
type Responder interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// IntentClassifier classifies a message into an intent with entities.
type IntentClassifier interface {
	Classify(ctx context.Context, message string, flow FlowName, step StepName) (*Intent, error)
}
