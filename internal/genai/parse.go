package genai

import (
	"errors"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when a completion carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// extractJSON returns the first JSON object in content, tolerating code fences and
// surrounding prose.
func extractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if gjson.Valid(s) && strings.HasPrefix(s, "{") {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	s = s[start : end+1]
	if !gjson.Valid(s) {
		return "", ErrNoJSON
	}
	return s, nil
}

// parseAnalysis reads an extraction completion. Only the requested fields are kept; an
// empty request keeps every field.
func parseAnalysis(content string, fields []models.DataKey) (*models.Analysis, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	doc := gjson.Parse(raw)

	a := &models.Analysis{
		Fields:                models.Data{},
		Confidence:            doc.Get("confidence").Float(),
		NeedsClarification:    doc.Get("needs_clarification").Bool(),
		ClarificationQuestion: strings.TrimSpace(doc.Get("clarification_question").String()),
		UserIntent:            strings.TrimSpace(doc.Get("user_intent").String()),
	}

	extracted := doc.Get("fields")
	if !extracted.IsObject() {
		extracted = doc.Get("extracted_info")
	}
	want := make(map[models.DataKey]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	extracted.ForEach(func(key, value gjson.Result) bool {
		k := models.DataKey(key.String())
		if len(want) > 0 && !want[k] {
			return true
		}
		if v, ok := fieldValue(value); ok {
			a.Fields[k] = v
		}
		return true
	})
	return a, nil
}

// fieldValue converts a JSON value into the loose types step handlers normalize.
// Nulls, empty strings and placeholder words are dropped.
func fieldValue(v gjson.Result) (any, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		s := strings.TrimSpace(v.String())
		switch strings.ToLower(s) {
		case "", "null", "none", "unknown", "n/a", "not specified":
			return nil, false
		}
		return s, true
	case gjson.JSON:
		if v.IsObject() || v.IsArray() {
			return v.Value(), true
		}
	}
	return nil, false
}

// parseIntent reads a classification completion.
func parseIntent(content string) (*models.Intent, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	doc := gjson.Parse(raw)
	name := strings.TrimSpace(doc.Get("intent").String())
	if name == "" {
		return nil, errors.New("completion has no intent")
	}
	intent := &models.Intent{
		Name:       strings.ToLower(name),
		Summary:    strings.TrimSpace(doc.Get("summary").String()),
		Confidence: doc.Get("confidence").Float(),
	}
	if entities := doc.Get("entities"); entities.IsObject() {
		if m, ok := entities.Value().(map[string]any); ok && len(m) > 0 {
			intent.Entities = m
		}
	}
	return intent, nil
}
