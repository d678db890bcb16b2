package flow

import (
	"testing"
)

func TestParseBudget(t *testing.T) {
	tests := []struct {
		msg      string
		min, max float64
		ok       bool
	}{
		{"5-10 lakh", 500000, 1000000, true},
		{"between 4 and 6 lakhs", 400000, 600000, true},
		{"10 to 5 lakh", 500000, 1000000, true},
		{"under 8 lakh", 0, 800000, true},
		{"below 7.5L", 0, 750000, true},
		{"above 5 lakh", 500000, 0, true},
		{"around 6 lakh", 0, 600000, true},
		{"max ₹5,00,000", 0, 500000, true},
		{"850000", 0, 850000, true},
		{"500k-900k", 500000, 900000, true},
		{"something cheap", 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, ok := parseBudget(tt.msg)
		if ok != tt.ok || lo != tt.min || hi != tt.max {
			t.Errorf("parseBudget(%q) = %v, %v, %v; want %v, %v, %v", tt.msg, lo, hi, ok, tt.min, tt.max, tt.ok)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		msg   string
		loose bool
		want  float64
		ok    bool
	}{
		{"2 lakh", false, 200000, true},
		{"1.5 lacs", false, 150000, true},
		{"50k", false, 50000, true},
		{"₹3,50,000", false, 350000, true},
		{"8", false, 0, false},
		{"8", true, 800000, true},
		{"250000", true, 250000, true},
		{"0", true, 0, false},
		{"no idea", true, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.msg, tt.loose)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseAmount(%q, %v) = %v, %v; want %v, %v", tt.msg, tt.loose, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseTenure(t *testing.T) {
	tests := []struct {
		msg  string
		want int
		ok   bool
	}{
		{"36", 36, true},
		{"48 months", 48, true},
		{"5 years", 60, true},
		{"3", 36, true},
		{"7 years", 84, false},
		{"100", 100, false},
		{"whatever", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseTenure(tt.msg)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseTenure(%q) = %d, %v; want %d, %v", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		msg  string
		want string
		ok   bool
	}{
		{"KA01AB1234", "KA01AB1234", true},
		{"ka 01 ab 1234", "KA01AB1234", true},
		{"MH-12-DE-4321", "MH12DE4321", true},
		{"my car is KA01AB1234.", "KA01AB1234", true},
		{"KA1234", "", false},
	}
	for _, tt := range tests {
		got, ok := parseRegistration(tt.msg)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseRegistration(%q) = %q, %v; want %q, %v", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParsePhoneAndName(t *testing.T) {
	if got, ok := parsePhone("+91 98765-43210"); !ok || got != "9876543210" {
		t.Errorf("parsePhone = %q, %v", got, ok)
	}
	if _, ok := parsePhone("12345"); ok {
		t.Error("expected short number rejected")
	}

	names := map[string]string{
		"My name is Rahul Sharma": "Rahul Sharma",
		"I'm Asha.":               "Asha",
		"O'Brien":                 "O'Brien",
	}
	for msg, want := range names {
		if got, ok := parseName(msg); !ok || got != want {
			t.Errorf("parseName(%q) = %q, %v; want %q", msg, got, ok, want)
		}
	}
	for _, msg := range []string{"1234", "A", "rahul@example.com"} {
		if got, ok := parseName(msg); ok {
			t.Errorf("parseName(%q) accepted %q", msg, got)
		}
	}
}

func TestParseConditionAndYesNo(t *testing.T) {
	conditions := map[string]string{
		"it's in excellent shape": ConditionExcellent,
		"very good condition":     ConditionVeryGood,
		"good":                    ConditionGood,
		"needs repair":            ConditionPoor,
		"Very Good":               ConditionVeryGood,
		"no idea":                 "",
	}
	for msg, want := range conditions {
		if got := parseCondition(msg); got != want {
			t.Errorf("parseCondition(%q) = %q, want %q", msg, got, want)
		}
	}
	if got := canonicalCondition("very-good"); got != ConditionVeryGood {
		t.Errorf("canonicalCondition(very-good) = %q", got)
	}

	yesNo := []struct {
		msg     string
		val, ok bool
	}{
		{"Yes", true, true},
		{"yep", true, true},
		{"I have", true, true},
		{"no", false, true},
		{"I don't", false, true},
		{"I have no license", false, true},
		{"I have not got one yet", false, true},
		{"I haven't got one", false, true},
		{"no, I don't have one", false, true},
		{"driving without one for now", false, true},
		{"yes I have a valid one", true, true},
		{"I have a license", true, true},
		{"perhaps", false, false},
	}
	for _, tt := range yesNo {
		val, ok := parseYesNo(tt.msg)
		if val != tt.val || ok != tt.ok {
			t.Errorf("parseYesNo(%q) = %v, %v; want %v, %v", tt.msg, val, ok, tt.val, tt.ok)
		}
	}
}

func TestMatchReference(t *testing.T) {
	refs := []string{"Honda", "Hyundai", "Maruti Suzuki"}
	tests := map[string]string{
		"show me a honda":            "Honda",
		"Maruti Suzuki under 5L":     "Maruti Suzuki",
		"maruti":                     "Maruti Suzuki",
		"a car":                      "",
		"hyundai or honda, anything": "Hyundai",
	}
	for msg, want := range tests {
		if got := matchReference(msg, refs); got != want {
			t.Errorf("matchReference(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestMatchServiceType(t *testing.T) {
	tests := map[string]string{
		"1":                    "Regular Service",
		"major service please": "Major Service",
		"accident damage":      "Accident Repair",
		"insurance":            "Insurance Claim",
		"6":                    "",
		"tyres":                "",
	}
	for msg, want := range tests {
		if got := matchServiceType(msg); got != want {
			t.Errorf("matchServiceType(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestFormatting(t *testing.T) {
	if got := Rupees(1234567); got != "₹12,34,567" {
		t.Errorf("Rupees = %q", got)
	}
	if got := Lakh(476000); got != "4.76 Lakh" {
		t.Errorf("Lakh = %q", got)
	}
}
