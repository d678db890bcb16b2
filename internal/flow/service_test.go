package flow

import (
	"testing"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/testutil"
)

// toCustomerDetails walks a service booking up to the contact questions.
func toCustomerDetails(t *testing.T, h *harness) {
	t.Helper()
	expectReply(t, h.start(models.FlowServiceBooking, "I need a service", nil), "At CarSherpa Motors")
	h.mustStep(models.StepShowingServices)
	expectReply(t, h.send("1"), "Let's start with the car make/brand")
	expectReply(t, h.send("Hyundai"), "What's the model of your Hyundai car?")
	expectReply(t, h.send("Creta"), "What year is your Hyundai Creta?")
	expectReply(t, h.send("2021"), "registration number")
	expectReply(t, h.send("KA1234"), "doesn't look right")
	h.mustStep(models.StepCollectingVehicleDetails)

	res := h.send("KA 01 AB 1234")
	expectReply(t, res, "• Registration: KA01AB1234")
	expectReply(t, res, "2️⃣ Major Service")
	h.mustStep(models.StepCollectingServiceType)

	expectReply(t, h.send("2"), "Service type: *Major Service*")
	h.mustStep(models.StepCollectingCustomerDetails)
}

func TestService_FullBooking(t *testing.T) {
	h := newHarness(t)
	toCustomerDetails(t, h)

	expectReply(t, h.send("Asha Rao"), "Thanks, Asha Rao!")
	res := h.send("+91 98765 43210")
	expectReply(t, res, "Service Booking Confirmed")
	expectReply(t, res, "#1")
	if _, ok := h.record(); ok {
		t.Error("expected conversation cleared after booking")
	}

	if len(h.cars.Services) != 1 {
		t.Fatalf("expected 1 service booking, got %d", len(h.cars.Services))
	}
	b := h.cars.Services[0]
	if b.CustomerPhone != "9876543210" || b.RegistrationNumber != "KA01AB1234" || b.VehicleYear != 2021 {
		t.Errorf("unexpected booking %+v", b)
	}
	if b.Service != ServiceName || b.ServiceType != "Major Service" || b.RequestID != "req-1" {
		t.Errorf("unexpected service fields %+v", b)
	}
}

func TestService_InvalidContactDetails(t *testing.T) {
	h := newHarness(t)
	toCustomerDetails(t, h)

	expectReply(t, h.send("12"), "Please provide a valid name")
	expectReply(t, h.send("Asha"), "Please provide your phone number")
	expectReply(t, h.send("12345"), "valid 10-digit phone number")
	h.mustStep(models.StepCollectingCustomerDetails)
}

func TestService_BookingFailureRetries(t *testing.T) {
	h := newHarness(t)
	toCustomerDetails(t, h)
	h.send("Asha Rao")
	h.cars.BookingErr = testutil.ErrFake

	expectReply(t, h.send("9876543210"), "error booking your service")
	rec := h.mustStep(models.StepCollectingCustomerDetails)
	if rec.Data.String(models.DataKeyCustomerPhone) != "9876543210" {
		t.Errorf("expected details kept after failure, got %v", rec.Data)
	}

	h.cars.BookingErr = nil
	expectReply(t, h.send("please retry"), "Service Booking Confirmed")
	if len(h.cars.Services) != 1 || h.cars.Services[0].RequestID != "req-1" {
		t.Errorf("expected retry with the original request id, got %+v", h.cars.Services)
	}
}

func TestService_BookDirectlyFromOpeningMessage(t *testing.T) {
	h := newHarness(t)
	expectReply(t, h.start(models.FlowServiceBooking, "I want to book a service for my car", nil), "Vehicle Details")
	rec := h.mustStep(models.StepCollectingVehicleDetails)
	if rec.Data.String(models.DataKeyService) != ServiceName {
		t.Errorf("expected service recorded, got %v", rec.Data)
	}
}

func TestService_VehicleDetailsInOneMessage(t *testing.T) {
	h := newHarness(t)
	h.start(models.FlowServiceBooking, "book a service", nil)
	expectReply(t, h.send("Hyundai 2021 KA01AB1234"), "What's the model of your Hyundai car?")
	rec := h.mustStep(models.StepCollectingVehicleDetails)
	if rec.Data.Int(models.DataKeyYear) != 2021 || rec.Data.String(models.DataKeyRegistration) != "KA01AB1234" {
		t.Errorf("expected year and registration picked up, got %v", rec.Data)
	}
	expectReply(t, h.send("Venue"), "Now, what type of service do you need?")
}

func TestService_RejectsOutOfRangeYear(t *testing.T) {
	h := newHarness(t)
	h.start(models.FlowServiceBooking, "book a service", nil)
	h.send("Honda")
	h.send("City")
	expectReply(t, h.send("1985"), "Please provide a valid year between 1990 and 2025.")
	rec := h.mustStep(models.StepCollectingVehicleDetails)
	if rec.Data.Has(models.DataKeyYear) {
		t.Error("invalid year must not be kept")
	}
}

func TestService_LaterExtractionKeepsVehicleDetails(t *testing.T) {
	ext := scriptedExtractor(map[string]models.Data{
		"Creta, plate KA12": {models.DataKeyModel: "Creta", models.DataKeyRegistration: "KA12"},
		"Creta, bought it recently": {
			models.DataKeyModel:        "Creta",
			models.DataKeyYear:         "recently",
			models.DataKeyRegistration: nil,
		},
	})

	t.Run("invalid registration", func(t *testing.T) {
		h := newHarness(t, WithExtractor(ext))
		h.start(models.FlowServiceBooking, "book a service", nil)
		h.send("Hyundai 2021 KA01AB1234")

		expectReply(t, h.send("Creta, plate KA12"), "doesn't look right")
		rec := h.mustStep(models.StepCollectingVehicleDetails)
		if rec.Data.String(models.DataKeyRegistration) != "KA01AB1234" {
			t.Errorf("expected registration kept, got %v", rec.Data[models.DataKeyRegistration])
		}
	})

	t.Run("unreadable year", func(t *testing.T) {
		h := newHarness(t, WithExtractor(ext))
		h.start(models.FlowServiceBooking, "book a service", nil)
		h.send("Hyundai 2021 KA01AB1234")

		res := h.send("Creta, bought it recently")
		expectReply(t, res, "• Year: 2021")
		expectReply(t, res, "• Registration: KA01AB1234")
		h.mustStep(models.StepCollectingServiceType)
	})
}

func TestService_UnknownServiceTypeBecomesOther(t *testing.T) {
	ext := &testutil.MapExtractor{Fields: map[string]models.Data{
		"engine overhaul please": {models.DataKeyServiceType: "engine overhaul"},
	}}
	h := newHarness(t, WithExtractor(ext))
	h.start(models.FlowServiceBooking, "book a service", nil)
	h.send("Hyundai")
	h.send("Creta")
	h.send("2021")
	h.send("KA01AB1234")

	expectReply(t, h.send("engine overhaul please"), "Service type: *Other*")
	rec := h.mustStep(models.StepCollectingCustomerDetails)
	if rec.Data.String(models.DataKeyServiceType) != "Other" {
		t.Errorf("expected Other, got %q", rec.Data.String(models.DataKeyServiceType))
	}
}

func TestService_MenuOptions(t *testing.T) {
	h := newHarness(t)
	h.start(models.FlowServiceBooking, "what services do you offer?", nil)
	res := h.send("2")
	if res.Kind != models.ResultSwitchFlow || res.Target != models.FlowBrowseCar {
		t.Errorf("expected switch to browse, got %+v", res)
	}

	h = newHarness(t, WithDealership(Dealership{Name: "Test Motors", Phone: "+91 11 1111 1111", Email: "hi@test.in", Address: "Delhi"}))
	expectReply(t, h.start(models.FlowServiceBooking, "services?", nil), "At Test Motors")
	expectReply(t, h.send("3"), "📞 Phone: +91 11 1111 1111")
	h.mustStep(models.StepShowingServices)
	expectReply(t, h.send("yes"), "Let's start with the car make/brand")

	h = newHarness(t)
	h.start(models.FlowServiceBooking, "services?", nil)
	expectReply(t, h.send("4"), "How can I help you today?")
	if _, ok := h.record(); ok {
		t.Error("expected conversation cleared")
	}

	h = newHarness(t)
	h.start(models.FlowServiceBooking, "services?", nil)
	expectReply(t, h.send("hmm"), "Please select an option (1, 2, 3, or 4)")
}
