package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// ServiceName is the service recorded on every booking made through the flow.
const ServiceName = "Vehicle Servicing & Repairs"

var vehicleSlots = []models.DataKey{
	models.DataKeyMake,
	models.DataKeyModel,
	models.DataKeyYear,
	models.DataKeyRegistration,
}

var customerSlots = []models.DataKey{models.DataKeyCustomerName, models.DataKeyCustomerPhone}

const (
	serviceOptions = "1️⃣ Book a Service (We will call you back shortly)\n" +
		"2️⃣ Browse Used Cars\n" +
		"3️⃣ Talk to Our Team\n" +
		"4️⃣ Back to main menu\n\n" +
		"Please select an option (1, 2, 3, or 4):"
	bookServiceMessage = "Perfect! Let's book a service for you! 🚗🔧\n\n" +
		"Please provide all required details:\n\n" +
		"*Vehicle Details:*\n" +
		"• Make: (e.g., Hyundai, Maruti, Honda)\n" +
		"• Model: (e.g., i20, Swift, City)\n" +
		"• Year: (e.g., 2020, 2021)\n" +
		"• Registration Number: (e.g., KA01AB1234)\n\n" +
		"Let's start with the car make/brand:"
	serviceTypeMenu = "1️⃣ Regular Service\n" +
		"2️⃣ Major Service\n" +
		"3️⃣ Accident Repair\n" +
		"4️⃣ Insurance Claim\n" +
		"5️⃣ Other (please specify)\n\n" +
		"Please select an option (1-5):"
	invalidRegistrationMessage = "That registration number doesn't look right. 🤔\n\n" +
		"Please share it in the format KA01AB1234 (state code, district number, series, number)."
	serviceBookingFailedMessage = "I encountered an error booking your service. Please try again or contact us directly."
)

type serviceBooking struct {
	*machine
}

// NewServiceBooking builds the service appointment flow.
func NewServiceBooking(d *Deps) Machine {
	s := &serviceBooking{}
	s.machine = &machine{
		name: models.FlowServiceBooking,
		deps: d,
		order: []models.StepName{
			models.StepShowingServices,
			models.StepCollectingVehicleDetails,
			models.StepCollectingServiceType,
			models.StepCollectingCustomerDetails,
		},
		refs:      []string{models.RefBrands, models.RefServices},
		normalize: normalizeService,
	}
	s.steps = map[models.StepName]stepDef{
		models.StepShowingServices:           {handle: s.showingServices},
		models.StepCollectingVehicleDetails:  {requires: []models.DataKey{models.DataKeyService}, handle: s.vehicleDetails},
		models.StepCollectingServiceType:     {requires: vehicleSlots, handle: s.serviceType},
		models.StepCollectingCustomerDetails: {requires: []models.DataKey{models.DataKeyServiceType}, handle: s.customerDetails},
	}
	s.start = s.begin
	return s
}

func (s *serviceBooking) menu() string {
	return fmt.Sprintf("🚗 *At %s, we offer everything you need, from car buying to servicing, all under one roof!*\n\n"+
		"🔧 *Our Services:*\n"+
		"• Periodic maintenance & general servicing\n"+
		"• Engine diagnostics & repairs\n"+
		"• Accident repairs & denting/painting\n"+
		"• Insurance claims assistance\n"+
		"• Wheel alignment & balancing\n"+
		"• AC service & repairs\n"+
		"• Certified used cars\n\n", s.deps.Dealer.Name) + serviceOptions
}

// begin goes straight to vehicle details when the opening message asks to book.
func (s *serviceBooking) begin(ctx context.Context, t *turn, payload models.Data) models.Result {
	if len(payload) > 0 {
		t.merge(payload)
	}
	if containsAnyWord(t.msg, "book", "schedule", "appointment") {
		return s.bookService(t)
	}
	return models.Reply(s.menu())
}

func (s *serviceBooking) showingServices(_ context.Context, t *turn) models.Result {
	option, _ := parseOption(t.msg, 4)
	switch {
	case option == 1 || isAffirmative(t.msg) || containsAnyWord(t.msg, "book", "service", "schedule"):
		return s.bookService(t)
	case option == 2 || containsAnyWord(t.msg, "browse", "buy", "used cars"):
		return models.SwitchFlow(models.FlowBrowseCar, nil)
	case option == 3 || containsAnyWord(t.msg, "team", "talk", "contact", "call"):
		dl := s.deps.Dealer
		return models.Reply(fmt.Sprintf("Great! Our team is here to help! 👥\n\n"+
			"You can reach us at:\n"+
			"📞 Phone: %s\n"+
			"📧 Email: %s\n"+
			"📍 Address: %s\n\n"+
			"Or you can book a service and we'll call you back shortly!\n\n"+
			"Would you like to book a service? (Yes/No)", dl.Phone, dl.Email, dl.Address))
	case option == 4 || isNegative(t.msg) || containsAnyWord(t.msg, "menu", "back"):
		t.sess.Clear()
		return models.Reply(MainMenuMessage)
	}
	return models.Reply(serviceOptions)
}

func (s *serviceBooking) bookService(t *turn) models.Result {
	t.sess.Set(models.DataKeyService, ServiceName)
	if res, ok := t.moveTo(models.StepCollectingVehicleDetails); !ok {
		return res
	}
	return models.Reply(bookServiceMessage)
}

func (s *serviceBooking) vehicleDetails(ctx context.Context, t *turn) models.Result {
	prevYear, hadYear := t.known(models.DataKeyYear)
	prevReg, hadReg := t.known(models.DataKeyRegistration)
	if res := t.fill(ctx, vehicleSlots, s.vehicleFallback); res != nil {
		return *res
	}
	if res := t.rejectInvalidYear(prevYear, hadYear); res != nil {
		return *res
	}
	d := t.data()
	if d.Has(models.DataKeyRegistration) && !validRegistration(d.String(models.DataKeyRegistration)) {
		slog.Debug("serviceBooking.vehicleDetails: invalid registration", "user", t.sess.UserID(), "registration", d.String(models.DataKeyRegistration))
		t.restore(models.DataKeyRegistration, prevReg, hadReg)
		return models.Reply(invalidRegistrationMessage)
	}

	vmake, model := d.String(models.DataKeyMake), d.String(models.DataKeyModel)
	switch field, _ := t.firstMissing(vehicleSlots); field {
	case models.DataKeyMake:
		return models.Reply(fieldQuestion(models.DataKeyMake) + examples(t.deps.Refs.Brands(ctx), 5))
	case models.DataKeyModel:
		return models.Reply(fmt.Sprintf("What's the model of your %s car? (e.g., i20, Creta, Venue)", vmake))
	case models.DataKeyYear:
		return models.Reply(fmt.Sprintf("What year is your %s %s? (e.g., 2020, 2021)", vmake, model))
	case models.DataKeyRegistration:
		return models.Reply(fieldQuestion(models.DataKeyRegistration))
	}

	if res, ok := t.moveTo(models.StepCollectingServiceType); !ok {
		return res
	}
	return models.Reply(fmt.Sprintf("Perfect! I have all the vehicle details:\n"+
		"• Make: %s\n"+
		"• Model: %s\n"+
		"• Year: %d\n"+
		"• Registration: %s\n\n"+
		"Now, what type of service do you need?\n\n", vmake, model, d.Int(models.DataKeyYear), d.String(models.DataKeyRegistration)) + serviceTypeMenu)
}

func (s *serviceBooking) vehicleFallback(ctx context.Context, t *turn, field models.DataKey) models.Data {
	d := t.data()
	out := models.Data{}
	for _, f := range vehicleSlots {
		if f != field && d.Has(f) {
			continue
		}
		switch f {
		case models.DataKeyMake:
			if brand := matchBrand(t.msg, t.deps.Refs.Brands(ctx)); brand != "" {
				out[f] = brand
			}
		case models.DataKeyModel:
			if f == field && d.Has(models.DataKeyMake) {
				if model := parseModel(t.msg, d.String(models.DataKeyMake)); model != "" {
					out[f] = model
				}
			}
		case models.DataKeyYear:
			if year, ok := parseYear(t.msg); ok {
				out[f] = year
			}
		case models.DataKeyRegistration:
			if reg, ok := parseRegistration(t.msg); ok {
				out[f] = reg
			} else if f == field {
				// Kept so the step can explain the expected format.
				out[f] = normalizeRegistration(t.msg)
			}
		}
	}
	return out
}

func (s *serviceBooking) serviceType(ctx context.Context, t *turn) models.Result {
	if res := t.fill(ctx, []models.DataKey{models.DataKeyServiceType}, serviceTypeFallback); res != nil {
		return *res
	}
	d := t.data()
	if !d.Has(models.DataKeyServiceType) {
		return models.Reply("Please choose the type of service you need:\n\n" + serviceTypeMenu)
	}
	if res, ok := t.moveTo(models.StepCollectingCustomerDetails); !ok {
		return res
	}
	return models.Reply(fmt.Sprintf("Excellent! Service type: *%s* ✅\n\n"+
		"Now I need your contact details:\n\n"+
		"Please provide your name:", d.String(models.DataKeyServiceType)))
}

func serviceTypeFallback(_ context.Context, t *turn, field models.DataKey) models.Data {
	if svc := matchServiceType(t.msg); svc != "" {
		return models.Data{field: svc}
	}
	return nil
}

func (s *serviceBooking) customerDetails(ctx context.Context, t *turn) models.Result {
	hadName := t.data().Has(models.DataKeyCustomerName)
	if res := t.fill(ctx, customerSlots, customerFallback); res != nil {
		return *res
	}
	d := t.data()
	switch {
	case !d.Has(models.DataKeyCustomerName):
		return models.Reply("Please provide a valid name (at least 2 characters).")
	case !d.Has(models.DataKeyCustomerPhone) && !hadName:
		return models.Reply(fmt.Sprintf("Thanks, %s! 📱\n\nPlease provide your phone number:", d.String(models.DataKeyCustomerName)))
	case !d.Has(models.DataKeyCustomerPhone):
		return models.Reply("Please provide a valid 10-digit phone number.")
	}
	return s.book(ctx, t)
}

func customerFallback(_ context.Context, t *turn, _ models.DataKey) models.Data {
	d := t.data()
	out := models.Data{}
	if !d.Has(models.DataKeyCustomerPhone) {
		if phone, ok := parsePhone(t.msg); ok {
			out[models.DataKeyCustomerPhone] = phone
		}
	}
	if !d.Has(models.DataKeyCustomerName) {
		if name, ok := parseName(t.msg); ok {
			out[models.DataKeyCustomerName] = name
		}
	}
	return out
}

func (s *serviceBooking) book(ctx context.Context, t *turn) models.Result {
	d := t.data()
	booking := models.ServiceBooking{
		RequestID:          t.bookingRequestID(),
		CustomerName:       d.String(models.DataKeyCustomerName),
		CustomerPhone:      d.String(models.DataKeyCustomerPhone),
		VehicleMake:        d.String(models.DataKeyMake),
		VehicleModel:       d.String(models.DataKeyModel),
		VehicleYear:        d.Int(models.DataKeyYear),
		RegistrationNumber: d.String(models.DataKeyRegistration),
		Service:            d.String(models.DataKeyService),
		ServiceType:        d.String(models.DataKeyServiceType),
		Status:             models.BookingStatusPending,
		CreatedAt:          t.deps.Now(),
	}
	if err := booking.Validate(); err != nil {
		slog.Error("serviceBooking.book: invalid booking", "user", t.sess.UserID(), "error", err)
		return models.Fail(models.ErrorKindInternal, err)
	}
	if t.deps.Cars == nil {
		slog.Error("serviceBooking.book: no car store configured")
		return models.Reply(serviceBookingFailedMessage)
	}

	cctx, cancel := t.callCtx(ctx)
	defer cancel()
	id, err := t.deps.Cars.CreateServiceBooking(cctx, booking)
	if err != nil {
		slog.Error("serviceBooking.book: booking failed", "user", t.sess.UserID(), "request_id", booking.RequestID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Fail(models.ErrorKindTimeout, err)
		}
		return models.Reply(serviceBookingFailedMessage)
	}
	slog.Info("serviceBooking.book: booked", "user", t.sess.UserID(), "booking_id", id, "request_id", booking.RequestID)
	t.sess.Clear()

	return models.Reply(fmt.Sprintf("✅ *Service Booking Confirmed!*\n\n"+
		"*Booking ID:* #%d\n\n"+
		"*Service Details:*\n"+
		"• Service: %s\n"+
		"• Service Type: %s\n\n"+
		"*Vehicle Details:*\n"+
		"• Make: %s\n"+
		"• Model: %s\n"+
		"• Year: %d\n"+
		"• Registration: %s\n\n"+
		"*Customer Details:*\n"+
		"• Name: %s\n"+
		"• Phone: %s\n\n"+
		"Our team will call you back shortly to confirm the details and schedule your service! 📞\n\n"+
		"Is there anything else I can help you with?",
		id, booking.Service, booking.ServiceType, booking.VehicleMake, booking.VehicleModel,
		booking.VehicleYear, booking.RegistrationNumber, booking.CustomerName, booking.CustomerPhone))
}

func normalizeService(d models.Data, _ *Deps) {
	normalizeText(d, models.DataKeyMake, 2)
	normalizeText(d, models.DataKeyModel, 1)
	normalizeInt(d, models.DataKeyYear)
	if reg, ok := d[models.DataKeyRegistration].(string); ok {
		d[models.DataKeyRegistration] = normalizeRegistration(reg)
	}
	if st, ok := d[models.DataKeyServiceType].(string); ok {
		if canon := matchServiceType(st); canon != "" {
			d[models.DataKeyServiceType] = canon
		} else if strings.TrimSpace(st) != "" {
			d[models.DataKeyServiceType] = "Other"
		}
	}
	normalizeText(d, models.DataKeyCustomerName, 2)
	normalizePhone(d, models.DataKeyCustomerPhone)
}
