// Package router decides whether an inbound message continues the active flow or asks
// for a different one.
//
// Detection is two-tier: an idle conversation starts a flow on a loose keyword or
// intent match, while an active flow is only interrupted by an explicit phrase from a
// stricter vocabulary. Short answers never switch an active flow.
package router

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// MaxShortResponseLength is the longest message treated as a short answer.
const MaxShortResponseLength = 3

// Detector is the flow switch detector. The zero value is ready to use.
type Detector struct{}

// NewDetector returns a Detector.
func NewDetector() *Detector { return &Detector{} }

// Detect returns the flow the message asks for and whether the caller should switch to it.
// intent may be nil when no classifier ran.
func (d *Detector) Detect(message string, intent *models.Intent, current models.FlowName, step models.StepName) (models.FlowName, bool) {
	active := current != models.FlowNone
	if active && IsShortResponse(message) {
		slog.Debug("Detector.Detect: short response stays in flow", "flow", current, "step", step)
		return models.FlowNone, false
	}

	norm := normalize(message)
	var target models.FlowName
	if active {
		target = matchStrict(norm)
	} else {
		target = matchLoose(norm, intent)
	}
	if target == models.FlowNone || target == current {
		return models.FlowNone, false
	}
	slog.Debug("Detector.Detect: switch approved", "from", current, "to", target, "step", step, "strict", active)
	return target, true
}

func matchLoose(norm string, intent *models.Intent) models.FlowName {
	intentName := ""
	if intent != nil {
		intentName = strings.ToLower(intent.Name)
	}
	for _, sig := range signatures {
		if containsAny(norm, sig.loose) {
			return sig.flow
		}
		if intentName != "" {
			for _, in := range sig.intents {
				if strings.Contains(intentName, in) {
					return sig.flow
				}
			}
		}
		if sig.flow == models.FlowBrowseCar && containsAny(norm, carTypeWords) {
			return sig.flow
		}
	}
	return models.FlowNone
}

func matchStrict(norm string) models.FlowName {
	for _, sig := range signatures {
		if containsAny(norm, sig.strict) {
			return sig.flow
		}
	}
	return models.FlowNone
}

// IsShortResponse reports whether msg is a structurally ambiguous short answer:
// a yes/no/ok word, a single digit, or at most three characters.
func IsShortResponse(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return true
	}
	if utf8.RuneCountInString(trimmed) <= MaxShortResponseLength {
		return true
	}
	return shortResponses[normalize(trimmed)]
}

// IsExitRequest reports whether the user asked to leave the current flow.
func IsExitRequest(msg string) bool {
	return exitPhrases[normalize(msg)]
}

// IsGreeting reports whether msg is a bare greeting.
func IsGreeting(msg string) bool {
	return greetings[normalize(msg)]
}

// IsCarRelated reports whether the message or intent mentions anything car related.
func IsCarRelated(msg string, intent *models.Intent) bool {
	norm := normalize(msg)
	if containsAny(norm, carKeywords) {
		return true
	}
	if intent == nil {
		return false
	}
	text := normalize(intent.Name + " " + intent.Summary)
	return containsAny(text, carKeywords)
}
