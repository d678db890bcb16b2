package genai

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		err     bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose", `Sure! Here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"none", "no json here", "", true},
		{"broken", `{"a":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.content)
			if (err != nil) != tt.err || got != tt.want {
				t.Errorf("extractJSON(%q) = %q, %v", tt.content, got, err)
			}
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	content := `{"fields": {"brand": "Honda", "budget_max": 1000000, "car_type": "unknown", "model": null, "customer_name": "Asha"},
		"confidence": 0.85, "needs_clarification": true, "clarification_question": " Which body type? ", "user_intent": "browse"}`
	a, err := parseAnalysis(content, []models.DataKey{models.DataKeyBrand, models.DataKeyBudgetMax, models.DataKeyCarType, models.DataKeyModel})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Fields.String(models.DataKeyBrand) != "Honda" || a.Fields.Float(models.DataKeyBudgetMax) != 1000000 {
		t.Errorf("unexpected fields %v", a.Fields)
	}
	if a.Fields.Has(models.DataKeyCarType) || a.Fields.Has(models.DataKeyModel) {
		t.Errorf("placeholders and nulls must be dropped, got %v", a.Fields)
	}
	if a.Fields.Has(models.DataKeyCustomerName) {
		t.Errorf("unrequested field kept: %v", a.Fields)
	}
	if a.Confidence != 0.85 || !a.NeedsClarification || a.ClarificationQuestion != "Which body type?" || a.UserIntent != "browse" {
		t.Errorf("unexpected analysis %+v", a)
	}
}

func TestParseAnalysis_LegacyKeyAndErrors(t *testing.T) {
	a, err := parseAnalysis(`{"extracted_info": {"year": 2019, "has": true}}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Fields.Int(models.DataKeyYear) != 2019 {
		t.Errorf("expected year from extracted_info, got %v", a.Fields)
	}
	if _, err := parseAnalysis("I could not help", nil); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}

func TestParseIntent(t *testing.T) {
	in, err := parseIntent(`{"intent": "EMI_Calculation", "summary": "wants a loan", "confidence": 0.9, "entities": {"price": 800000}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Name != "emi_calculation" || in.Summary != "wants a loan" || in.Confidence != 0.9 {
		t.Errorf("unexpected intent %+v", in)
	}
	if in.Entities["price"] != float64(800000) {
		t.Errorf("unexpected entities %v", in.Entities)
	}
	if _, err := parseIntent(`{"summary": "x"}`); err == nil {
		t.Error("expected error without intent")
	}
}
