package models

import (
	"encoding/json"
	"testing"
)

func TestMergeNonNilNeverErasesKnownValues(t *testing.T) {
	data := Data{DataKeyBrand: "Honda", DataKeyBudgetMax: 1000000.0}

	extractions := []Data{
		{DataKeyBrand: nil, DataKeyCarType: "Sedan"},
		{DataKeyBrand: "", DataKeyBudgetMax: 0.0},
		{DataKeyBrand: "   "},
		{},
	}
	for _, ex := range extractions {
		MergeNonNil(data, ex)
	}

	if got := data.String(DataKeyBrand); got != "Honda" {
		t.Errorf("brand = %q, want Honda", got)
	}
	if got := data.Float(DataKeyBudgetMax); got != 1000000 {
		t.Errorf("budget_max = %v, want 1000000", got)
	}
	if got := data.String(DataKeyCarType); got != "Sedan" {
		t.Errorf("car_type = %q, want Sedan", got)
	}
}

func TestMergeNonNilOverwritesWithNewKnownValue(t *testing.T) {
	data := Data{DataKeyBrand: "Honda"}
	written := MergeNonNil(data, Data{DataKeyBrand: "Toyota"})
	if data.String(DataKeyBrand) != "Toyota" {
		t.Errorf("brand = %q, want Toyota", data.String(DataKeyBrand))
	}
	if len(written) != 1 || written[0] != DataKeyBrand {
		t.Errorf("written = %v, want [brand]", written)
	}
}

func TestMergeNonNilKeepsFalseBooleans(t *testing.T) {
	data := Data{}
	MergeNonNil(data, Data{DataKeyTestDriveHasDL: false})
	v, ok := data.Bool(DataKeyTestDriveHasDL)
	if !ok || v {
		t.Errorf("has_dl = (%v, %v), want (false, true)", v, ok)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := NewRecord("u1", FlowBrowseCar, StepShowingCars)
	r.Data[DataKeyShownCars] = []Car{{ID: 1, Brand: "Honda"}}
	r.History = []Exchange{{User: "hi", Bot: "hello"}}

	c := r.Clone()
	c.Data[DataKeyBrand] = "Toyota"
	c.Data.Cars(DataKeyShownCars)[0].Brand = "Kia"
	c.History[0].User = "changed"

	if r.Data.Has(DataKeyBrand) {
		t.Error("clone mutation leaked into original data")
	}
	if r.Data.Cars(DataKeyShownCars)[0].Brand != "Honda" {
		t.Error("clone mutation leaked into original car list")
	}
	if r.History[0].User != "hi" {
		t.Error("clone mutation leaked into original history")
	}
}

func TestNewRecordWithoutFlowHasNoStep(t *testing.T) {
	r := NewRecord("u1", FlowNone, StepCollectingCriteria)
	if r.Step != "" {
		t.Errorf("step = %q, want empty", r.Step)
	}
	if r.Active() {
		t.Error("record without flow reported active")
	}
}

func TestDataAccessorsSurviveJSONRoundTrip(t *testing.T) {
	in := Data{
		DataKeySelectedCar: Car{ID: 7, Brand: "Hyundai", Model: "Creta", Price: 1250000},
		DataKeyShownCars:   []Car{{ID: 7}, {ID: 8}},
		DataKeyTenure:      36,
		DataKeyDownPayment: 200000.0,
		DataKeyPending:     Data{DataKeyBrand: "Honda"},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Data
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	car, ok := out.Car(DataKeySelectedCar)
	if !ok || car.Model != "Creta" || car.Price != 1250000 {
		t.Errorf("selected car = %+v, ok=%v", car, ok)
	}
	if n := len(out.Cars(DataKeyShownCars)); n != 2 {
		t.Errorf("shown cars = %d, want 2", n)
	}
	if out.Int(DataKeyTenure) != 36 {
		t.Errorf("tenure = %d, want 36", out.Int(DataKeyTenure))
	}
	if out.Float(DataKeyDownPayment) != 200000 {
		t.Errorf("down payment = %v", out.Float(DataKeyDownPayment))
	}
	if out.Sub(DataKeyPending).String(DataKeyBrand) != "Honda" {
		t.Errorf("pending brand lost: %v", out.Sub(DataKeyPending))
	}
}

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want error
	}{
		{"ok", InboundMessage{From: "919800000000", Body: "hi"}, nil},
		{"no sender", InboundMessage{Body: "hi"}, ErrEmptySender},
		{"no body", InboundMessage{From: "1"}, ErrEmptyBody},
		{"too long", InboundMessage{From: "1", Body: string(make([]byte, MaxMessageLength+1))}, ErrBodyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsKnownFlow(t *testing.T) {
	for _, f := range KnownFlows {
		if !IsKnownFlow(f) {
			t.Errorf("IsKnownFlow(%q) = false", f)
		}
	}
	if IsKnownFlow("car_loan") || IsKnownFlow(FlowNone) {
		t.Error("unexpected known flow")
	}
}
