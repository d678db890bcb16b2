package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Analyzer extracts step fields from free text. It implements models.Extractor.
type Analyzer struct {
	client *Client
}

// NewAnalyzer creates an Analyzer over a client.
func NewAnalyzer(c *Client) *Analyzer {
	return &Analyzer{client: c}
}

// Analyze asks the model for the requested fields. Every failure wraps models.ErrExtraction.
func (a *Analyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
	content, err := a.client.GenerateJSON(ctx, analysisSystemPrompt(req), analysisUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	analysis, err := parseAnalysis(content, req.Fields)
	if err != nil {
		slog.Warn("Analyzer.Analyze: unparseable completion", "flow", req.Flow, "step", req.Step, "error", err)
		return nil, fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	slog.Debug("Analyzer.Analyze: extracted", "flow", req.Flow, "step", req.Step, "fields", len(analysis.Fields), "confidence", analysis.Confidence)
	return analysis, nil
}

// Responder writes conversational replies. It implements models.Responder.
type Responder struct {
	client *Client
}

// NewResponder creates a Responder over a client.
func NewResponder(c *Client) *Responder {
	return &Responder{client: c}
}

// Generate returns the model's reply, trimmed.
func (r *Responder) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	out, err := r.client.GeneratePrompt(ctx, generationSystemPrompt(req), generationUserPrompt(req))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("generate reply: %w", ErrNoChoicesReturned)
	}
	return out, nil
}

// IntentClassifier labels a message. It implements models.IntentClassifier.
type IntentClassifier struct {
	client *Client
}

// NewIntentClassifier creates an IntentClassifier over a client.
func NewIntentClassifier(c *Client) *IntentClassifier {
	return &IntentClassifier{client: c}
}

// Classify returns the message intent.
func (ic *IntentClassifier) Classify(ctx context.Context, message string, flow models.FlowName, step models.StepName) (*models.Intent, error) {
	content, err := ic.client.GenerateJSON(ctx, intentSystemPrompt, intentUserPrompt(message, flow, step))
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	intent, err := parseIntent(content)
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	return intent, nil
}
