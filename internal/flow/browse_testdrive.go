package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

const minAddressLength = 10

// testDriveChain is the order in which test drive details are collected.
var testDriveChain = []struct {
	key  models.DataKey
	step models.StepName
}{
	{models.DataKeyTestDriveDate, models.StepTestDriveDate},
	{models.DataKeyTestDriveTime, models.StepTestDriveTime},
	{models.DataKeyTestDriveName, models.StepTestDriveName},
	{models.DataKeyTestDrivePhone, models.StepTestDrivePhone},
	{models.DataKeyTestDriveHasDL, models.StepTestDriveDL},
	{models.DataKeyTestDriveLocation, models.StepTestDriveLocation},
	{models.DataKeyTestDriveAddress, models.StepTestDriveAddress},
}

var testDriveSlots = func() []models.DataKey {
	keys := make([]models.DataKey, len(testDriveChain))
	for i, link := range testDriveChain {
		keys[i] = link.key
	}
	return keys
}()

var confirmRequires = []models.DataKey{
	models.DataKeySelectedCar,
	models.DataKeyTestDriveDate,
	models.DataKeyTestDriveTime,
	models.DataKeyTestDriveName,
	models.DataKeyTestDrivePhone,
	models.DataKeyTestDriveHasDL,
	models.DataKeyTestDriveLocation,
}

const (
	licenseRequiredMessage = "I apologize, but a valid driving license is required for test drives. 😔\n\n" +
		"We want to ensure your safety and comply with regulations. Once you have a valid driving license, we'd be happy to help you book a test drive!\n\n" +
		"Feel free to reach out anytime. Thank you for your understanding! 🙏"
	editMenuMessage = "No problem! What would you like to change?\n\n" +
		"1️⃣ Name\n" +
		"2️⃣ Phone number\n" +
		"3️⃣ Date & Time\n" +
		"4️⃣ Location\n" +
		"5️⃣ Start over"
	confirmReminderMessage = "Please confirm your test drive booking:\n" +
		"✅ Reply 'Yes' or 'Confirm' to proceed\n" +
		"❌ Reply 'No' or 'Change' to modify details"
	testDriveFailedMessage = "I encountered an error booking your test drive. Please try again or contact us directly."
)

func (b *browseCar) testDrive(ctx context.Context, t *turn) models.Result {
	if res := t.fill(ctx, testDriveSlots, b.testDriveFallback); res != nil {
		return *res
	}
	if hasDL, set := t.data().Bool(models.DataKeyTestDriveHasDL); set && !hasDL {
		slog.Info("browseCar.testDrive: no driving license, ending flow", "user", t.sess.UserID())
		t.sess.Clear()
		return models.Reply(licenseRequiredMessage)
	}
	return b.nextTestDrive(t)
}

// nextTestDrive asks for the first missing detail, or shows the summary once all are known.
func (b *browseCar) nextTestDrive(t *turn) models.Result {
	d := t.data()
	for _, link := range testDriveChain {
		if link.key == models.DataKeyTestDriveAddress && d.String(models.DataKeyTestDriveLocation) != models.LocationHome {
			continue
		}
		if d.Has(link.key) {
			continue
		}
		if link.step == t.sess.Step() && t.msg != "" {
			return models.Reply(invalidTestDriveAnswer(link.key))
		}
		if res, ok := t.moveTo(link.step); !ok {
			return res
		}
		return models.Reply(testDriveQuestion(d, link.key))
	}
	if res, ok := t.moveTo(models.StepTestDriveConfirm); !ok {
		return res
	}
	t.bookingRequestID()
	return models.Reply(testDriveSummary(t.data()))
}

func (b *browseCar) testDriveFallback(_ context.Context, t *turn, field models.DataKey) models.Data {
	switch field {
	case models.DataKeyTestDriveDate, models.DataKeyTestDriveTime:
		return models.Data{field: t.msg}
	case models.DataKeyTestDriveName:
		if name, ok := parseName(t.msg); ok {
			return models.Data{field: name}
		}
	case models.DataKeyTestDrivePhone:
		if phone, ok := parsePhone(t.msg); ok {
			return models.Data{field: phone}
		}
	case models.DataKeyTestDriveHasDL:
		if has, ok := parseYesNo(t.msg); ok {
			return models.Data{field: has}
		}
	case models.DataKeyTestDriveLocation:
		if loc := parseLocation(t.msg); loc != "" {
			return models.Data{field: loc}
		}
	case models.DataKeyTestDriveAddress:
		if len([]rune(t.msg)) >= minAddressLength {
			return models.Data{field: t.msg}
		}
	}
	return nil
}

// parseLocation maps "1", "showroom", "2", "home pickup" onto a test drive location.
func parseLocation(msg string) string {
	if n, ok := parseOption(msg, 2); ok {
		if n == 1 {
			return models.LocationShowroom
		}
		return models.LocationHome
	}
	switch {
	case containsAnyWord(msg, "home", "pickup", "pick up", "house", "doorstep"):
		return models.LocationHome
	case containsAnyWord(msg, "showroom", "dealership", "store", "visit"):
		return models.LocationShowroom
	}
	return ""
}

func normalizeLocation(d models.Data) {
	v, ok := d[models.DataKeyTestDriveLocation].(string)
	if !ok {
		return
	}
	if loc := parseLocation(v); loc != "" {
		d[models.DataKeyTestDriveLocation] = loc
		return
	}
	delete(d, models.DataKeyTestDriveLocation)
}

func invalidTestDriveAnswer(key models.DataKey) string {
	switch key {
	case models.DataKeyTestDriveName:
		return "Please provide a valid name (at least 2 characters)."
	case models.DataKeyTestDrivePhone:
		return "Please provide a valid 10-digit phone number."
	case models.DataKeyTestDriveHasDL:
		return "Please reply with 'Yes' or 'No' - do you have a valid driving license?"
	case models.DataKeyTestDriveLocation:
		return "Please choose:\n1️⃣ Showroom visit\n2️⃣ Home pickup"
	case models.DataKeyTestDriveAddress:
		return "Please provide a complete address (at least 10 characters). This helps us ensure accurate delivery."
	}
	return fieldQuestion(key)
}

func testDriveQuestion(d models.Data, key models.DataKey) string {
	switch key {
	case models.DataKeyTestDriveDate:
		return "Perfect! Let's get your test drive booked! 🚗💨\n\n" + fieldQuestion(key)
	case models.DataKeyTestDriveTime:
		return fmt.Sprintf("Great! You've selected %s. %s", d.String(models.DataKeyTestDriveDate), fieldQuestion(key))
	case models.DataKeyTestDriveName:
		return "Perfect! Could you please share your name?"
	case models.DataKeyTestDrivePhone:
		return fmt.Sprintf("Nice to meet you, %s! 👋\n\nCould you please share your phone number?", d.String(models.DataKeyTestDriveName))
	case models.DataKeyTestDriveHasDL:
		return "Got it! 📱\n\n" + fieldQuestion(key)
	case models.DataKeyTestDriveLocation:
		return "Perfect! ✅\n\n" + fieldQuestion(key) + "\n\nJust reply with '1' or '2'!"
	case models.DataKeyTestDriveAddress:
		return "Great! For home pickup, we'll need your address. 📍\n\n" +
			"Please provide your complete address where you'd like the test drive vehicle to be delivered."
	}
	return fieldQuestion(key)
}

func locationLabel(loc string) string {
	if loc == models.LocationHome {
		return "Home pickup"
	}
	return "Showroom visit"
}

func testDriveSummary(d models.Data) string {
	car, _ := d.Car(models.DataKeySelectedCar)
	var b strings.Builder
	b.WriteString("📋 *Please Confirm Your Test Drive Details*\n\n")
	b.WriteString("*Car Selected:*\n")
	fmt.Fprintf(&b, "• %s\n", carTitle(car))
	fmt.Fprintf(&b, "• Price: %s\n\n", Rupees(car.Price))
	b.WriteString("*Test Drive Details:*\n")
	fmt.Fprintf(&b, "• Date: %s\n", d.String(models.DataKeyTestDriveDate))
	fmt.Fprintf(&b, "• Time: %s\n", d.String(models.DataKeyTestDriveTime))
	fmt.Fprintf(&b, "• Name: %s\n", d.String(models.DataKeyTestDriveName))
	fmt.Fprintf(&b, "• Phone: %s\n", d.String(models.DataKeyTestDrivePhone))
	loc := d.String(models.DataKeyTestDriveLocation)
	fmt.Fprintf(&b, "• Location: %s\n", locationLabel(loc))
	if loc == models.LocationHome {
		fmt.Fprintf(&b, "• Address: %s\n", d.String(models.DataKeyTestDriveAddress))
	}
	b.WriteString("• Driving License: Yes, I have a driving license\n\n")
	b.WriteString("Please confirm if all details are correct:\n")
	b.WriteString("✅ Reply 'Yes' or 'Confirm' to book the test drive\n")
	b.WriteString("❌ Reply 'No' or 'Change' to modify any details")
	return b.String()
}

func (b *browseCar) testDriveConfirm(ctx context.Context, t *turn) models.Result {
	if editing, _ := t.data().Bool(models.DataKeyEditing); editing {
		return b.applyEdit(t)
	}
	switch {
	case isAffirmative(t.msg):
		return b.bookTestDrive(ctx, t)
	case isNegative(t.msg), isChangeRequest(t.msg):
		t.sess.Set(models.DataKeyEditing, true)
		return models.Reply(editMenuMessage)
	}
	return models.Reply(confirmReminderMessage)
}

func editChoice(msg string) int {
	if n, ok := parseOption(msg, 5); ok {
		return n
	}
	switch {
	case containsAnyWord(msg, "start over", "restart", "everything", "all"):
		return 5
	case containsAnyWord(msg, "name"):
		return 1
	case containsAnyWord(msg, "phone", "number", "mobile"):
		return 2
	case containsAnyWord(msg, "date", "time", "day"):
		return 3
	case containsAnyWord(msg, "location", "address", "pickup", "showroom"):
		return 4
	}
	return 0
}

// applyEdit clears the chosen detail and rewinds to the step that collects it.
func (b *browseCar) applyEdit(t *turn) models.Result {
	choice := editChoice(t.msg)
	if choice == 0 {
		return models.Reply(editMenuMessage)
	}
	t.sess.Delete(models.DataKeyEditing)

	var (
		step  models.StepName
		clear []models.DataKey
		ask   models.DataKey
	)
	switch choice {
	case 1:
		step, clear, ask = models.StepTestDriveName, []models.DataKey{models.DataKeyTestDriveName}, models.DataKeyTestDriveName
	case 2:
		step, clear, ask = models.StepTestDrivePhone, []models.DataKey{models.DataKeyTestDrivePhone}, models.DataKeyTestDrivePhone
	case 3:
		step, clear, ask = models.StepTestDriveDate, []models.DataKey{models.DataKeyTestDriveDate, models.DataKeyTestDriveTime}, models.DataKeyTestDriveDate
	case 4:
		step, clear, ask = models.StepTestDriveLocation, []models.DataKey{models.DataKeyTestDriveLocation, models.DataKeyTestDriveAddress}, models.DataKeyTestDriveLocation
	default:
		t.sess.Delete(testDriveSlots...)
		t.sess.Delete(models.DataKeySelectedCar, models.DataKeyShownCars, models.DataKeyBookingRequestID)
		for _, f := range criteriaSlots {
			clearCriterion(t, f)
		}
		if err := t.rewind(models.StepCollectingCriteria); err != nil {
			return models.Fail(models.ErrorKindRouting, err)
		}
		return models.Reply("No problem! Let's start fresh. 🔄\n\n" + fieldQuestion(models.DataKeyBrand))
	}
	t.sess.Delete(clear...)
	if err := t.rewind(step); err != nil {
		return models.Fail(models.ErrorKindRouting, err)
	}
	return models.Reply("Sure! " + fieldQuestion(ask))
}

func (b *browseCar) bookTestDrive(ctx context.Context, t *turn) models.Result {
	d := t.data()
	car, _ := d.Car(models.DataKeySelectedCar)
	hasDL, _ := d.Bool(models.DataKeyTestDriveHasDL)
	booking := models.TestDriveBooking{
		RequestID:     t.bookingRequestID(),
		CustomerName:  d.String(models.DataKeyTestDriveName),
		CustomerPhone: d.String(models.DataKeyTestDrivePhone),
		CarID:         car.ID,
		CarName:       carTitle(car),
		Date:          d.String(models.DataKeyTestDriveDate),
		Time:          d.String(models.DataKeyTestDriveTime),
		Location:      d.String(models.DataKeyTestDriveLocation),
		Address:       d.String(models.DataKeyTestDriveAddress),
		HasLicense:    hasDL,
		Status:        models.BookingStatusPending,
		CreatedAt:     t.deps.Now(),
	}
	if err := booking.Validate(); err != nil {
		slog.Error("browseCar.bookTestDrive: invalid booking", "user", t.sess.UserID(), "error", err)
		return models.Fail(models.ErrorKindInternal, err)
	}
	if t.deps.Cars == nil {
		slog.Error("browseCar.bookTestDrive: no car store configured")
		return models.Reply(testDriveFailedMessage)
	}

	cctx, cancel := t.callCtx(ctx)
	defer cancel()
	id, err := t.deps.Cars.CreateTestDriveBooking(cctx, booking)
	if err != nil {
		// State is kept so a "yes" retries with the same request id.
		slog.Error("browseCar.bookTestDrive: booking failed", "user", t.sess.UserID(), "request_id", booking.RequestID, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Fail(models.ErrorKindTimeout, err)
		}
		return models.Reply(testDriveFailedMessage)
	}
	slog.Info("browseCar.bookTestDrive: booked", "user", t.sess.UserID(), "booking_id", id, "request_id", booking.RequestID)
	t.sess.Clear()

	where := "at our showroom"
	if booking.Location == models.LocationHome {
		where = "with home pickup"
	}
	return models.Reply(fmt.Sprintf("🎉 *Test Drive Booked Successfully!*\n\n"+
		"*Car:* %s\n"+
		"*Name:* %s\n"+
		"*Phone:* %s\n"+
		"*Date & Time:* %s at %s\n"+
		"*Location:* %s\n"+
		"*Booking ID:* #%d\n\n"+
		"Our team will contact you shortly to confirm the details and verify your driving license. "+
		"We're excited to show you this amazing car! 🚗✨\n\n"+
		"Is there anything else I can help you with?",
		booking.CarName, booking.CustomerName, booking.CustomerPhone, booking.Date, booking.Time, where, id))
}
