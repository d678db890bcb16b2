package router

import (
	"testing"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

func TestDetectShortResponsesNeverSwitchActiveFlow(t *testing.T) {
	d := NewDetector()
	shorts := []string{"2", "yes", "No", "ok", "okay", "sure", "y", "emi", "  1 "}
	for _, flow := range models.KnownFlows {
		for _, msg := range shorts {
			if target, ok := d.Detect(msg, nil, flow, models.StepShowingCars); ok {
				t.Errorf("Detect(%q) in %s switched to %s", msg, flow, target)
			}
		}
	}
}

func TestDetectActiveFlowRequiresStrictPhrase(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name    string
		msg     string
		current models.FlowName
		want    models.FlowName
		switch_ bool
	}{
		{"explicit emi request from browse", "Can you calculate EMI for me?", models.FlowBrowseCar, models.FlowEMI, true},
		{"explicit service request from valuation", "actually I want to book a service", models.FlowValuation, models.FlowServiceBooking, true},
		{"explicit valuation from emi", "please value my car", models.FlowEMI, models.FlowValuation, true},
		{"loose word does not interrupt", "my car is worth a lot I think", models.FlowBrowseCar, models.FlowNone, false},
		{"loose loan word does not interrupt", "is a loan possible later", models.FlowValuation, models.FlowNone, false},
		{"same flow is not a switch", "browse cars please", models.FlowBrowseCar, models.FlowNone, false},
		{"intent is ignored while active", "Honda City 2019", models.FlowValuation, models.FlowNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := &models.Intent{Name: "browse_cars"}
			got, ok := d.Detect(tt.msg, intent, tt.current, models.StepCollectingInfo)
			if ok != tt.switch_ || got != tt.want {
				t.Errorf("Detect(%q) = (%q, %v), want (%q, %v)", tt.msg, got, ok, tt.want, tt.switch_)
			}
		})
	}
}

func TestDetectIdleUsesLooseVocabulary(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		msg  string
		want models.FlowName
	}{
		{"I want to sell my car", models.FlowValuation},
		{"looking for a sedan", models.FlowBrowseCar},
		{"show me an SUV", models.FlowBrowseCar},
		{"need a loan", models.FlowEMI},
		{"my car needs servicing", models.FlowServiceBooking},
		{"I want a loan to buy a car", models.FlowEMI},
		{"repair and sell", models.FlowServiceBooking},
	}
	for _, tt := range tests {
		got, ok := d.Detect(tt.msg, nil, models.FlowNone, "")
		if !ok || got != tt.want {
			t.Errorf("Detect(%q) = (%q, %v), want (%q, true)", tt.msg, got, ok, tt.want)
		}
	}
}

func TestDetectIdleNoMatch(t *testing.T) {
	d := NewDetector()
	for _, msg := range []string{"hello", "what's the weather like", "premium quality"} {
		if got, ok := d.Detect(msg, nil, models.FlowNone, ""); ok {
			t.Errorf("Detect(%q) = %q, want no switch", msg, got)
		}
	}
}

func TestDetectIdleIntentName(t *testing.T) {
	d := NewDetector()
	got, ok := d.Detect("can you help with something", &models.Intent{Name: "car_valuation"}, models.FlowNone, "")
	if !ok || got != models.FlowValuation {
		t.Errorf("Detect with valuation intent = (%q, %v)", got, ok)
	}
	got, ok = d.Detect("hmm", &models.Intent{Name: "EMI_calculation"}, models.FlowNone, "")
	if !ok || got != models.FlowEMI {
		t.Errorf("Detect with emi intent = (%q, %v)", got, ok)
	}
}

func TestDetectLooseVocabularyOnlyWhenIdle(t *testing.T) {
	d := NewDetector()
	if got, ok := d.Detect("need a loan", nil, models.FlowNone, ""); !ok || got != models.FlowEMI {
		t.Errorf("idle Detect = (%q, %v), want emi", got, ok)
	}
	if got, ok := d.Detect("need a loan", nil, models.FlowValuation, models.StepCollectingInfo); ok {
		t.Errorf("active Detect switched to %q on a loose phrase", got)
	}
}

func TestIsShortResponse(t *testing.T) {
	tests := map[string]bool{
		"":              true,
		"7":             true,
		"yes":           true,
		"Okay!":         true,
		"correct":       true,
		"Honda":         false,
		"book service":  false,
		"next saturday": false,
	}
	for msg, want := range tests {
		if got := IsShortResponse(msg); got != want {
			t.Errorf("IsShortResponse(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestExitGreetingAndCarRelated(t *testing.T) {
	if !IsExitRequest("Main Menu") || !IsExitRequest("cancel!") {
		t.Error("exit phrases not recognized")
	}
	if IsExitRequest("cancel my booking tomorrow") {
		t.Error("sentence containing cancel treated as bare exit")
	}
	if !IsGreeting("Hi!") || IsGreeting("hi I want a car") {
		t.Error("greeting detection wrong")
	}
	if !IsCarRelated("what's the mileage like", nil) {
		t.Error("mileage should be car related")
	}
	if IsCarRelated("tell me a joke", nil) {
		t.Error("joke should not be car related")
	}
	if !IsCarRelated("tell me about it", &models.Intent{Summary: "asks about car insurance"}) {
		t.Error("intent summary should count")
	}
}
