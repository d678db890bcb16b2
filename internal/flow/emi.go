package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

const (
	emiIntroOptions = "To get started, please:\n" +
		"1️⃣ Browse and select a car first, OR\n" +
		"2️⃣ Tell me the price of the car you're considering (e.g., '8 lakh')\n\n" +
		"What would you like to do?"
	emiIntroMessage = "Great! I'd be happy to help you calculate EMI for your car! 💰🚗\n\n" + emiIntroOptions
	emiMenu         = "Would you like to:\n" +
		"1️⃣ Calculate EMI for another car\n" +
		"2️⃣ Change down payment or tenure\n" +
		"3️⃣ Get more information"
	changeDownPaymentMessage = "No problem! What down payment amount would you like to use?"
)

type emi struct {
	*machine
}

// NewEMI builds the EMI calculator flow.
func NewEMI(d *Deps) Machine {
	e := &emi{}
	e.machine = &machine{
		name: models.FlowEMI,
		deps: d,
		order: []models.StepName{
			models.StepSelectingCar,
			models.StepDownPayment,
			models.StepSelectingTenure,
			models.StepShowingEMI,
		},
		normalize: normalizeEMI,
	}
	e.steps = map[models.StepName]stepDef{
		models.StepSelectingCar:    {handle: e.selectingCar},
		models.StepDownPayment:     {requires: []models.DataKey{models.DataKeySelectedCar}, handle: e.downPayment},
		models.StepSelectingTenure: {requires: []models.DataKey{models.DataKeySelectedCar, models.DataKeyDownPayment}, handle: e.selectingTenure},
		models.StepShowingEMI:      {requires: []models.DataKey{models.DataKeyTenure, models.DataKeyEMI}, handle: e.showingEMI},
	}
	e.start = e.begin
	return e
}

// begin accepts a car handed over by Browse-Car, or a price named in the opening message.
func (e *emi) begin(ctx context.Context, t *turn, payload models.Data) models.Result {
	if car, ok := payload.Car(models.DataKeySelectedCar); ok && car.Price > 0 {
		t.sess.Set(models.DataKeySelectedCar, car)
		return e.askDownPayment(t, car)
	}
	if res := t.fill(ctx, []models.DataKey{models.DataKeyCarPrice}, strictPriceFallback); res != nil {
		return *res
	}
	if t.data().Has(models.DataKeyCarPrice) {
		return e.useCarPrice(t, t.data().Float(models.DataKeyCarPrice))
	}
	return models.Reply(emiIntroMessage)
}

func (e *emi) selectingCar(ctx context.Context, t *turn) models.Result {
	if option, _ := parseOption(t.msg, 2); option == 1 || isAffirmative(t.msg) ||
		containsAnyWord(t.msg, "browse", "show cars", "select a car", "find a car") {
		slog.Debug("emi.selectingCar: sending user to browse", "user", t.sess.UserID())
		return models.SwitchFlow(models.FlowBrowseCar, nil)
	}
	if res := t.fill(ctx, []models.DataKey{models.DataKeyCarPrice}, loosePriceFallback); res != nil {
		return *res
	}
	if t.data().Has(models.DataKeyCarPrice) {
		return e.useCarPrice(t, t.data().Float(models.DataKeyCarPrice))
	}
	return models.Reply(emiIntroOptions)
}

func strictPriceFallback(_ context.Context, t *turn, field models.DataKey) models.Data {
	if amount, ok := parseAmount(t.msg, false); ok {
		return models.Data{field: amount}
	}
	return nil
}

func loosePriceFallback(_ context.Context, t *turn, field models.DataKey) models.Data {
	if amount, ok := parseAmount(t.msg, true); ok {
		return models.Data{field: amount}
	}
	return nil
}

// useCarPrice stands in a price-only car for one picked from the inventory.
func (e *emi) useCarPrice(t *turn, price float64) models.Result {
	car := models.Car{Model: "Your car", Price: price}
	t.sess.Set(models.DataKeySelectedCar, car)
	return e.askDownPayment(t, car)
}

func (e *emi) askDownPayment(t *turn, car models.Car) models.Result {
	t.sess.Set(models.DataKeyCarPrice, car.Price)
	if res, ok := t.moveTo(models.StepDownPayment); !ok {
		return res
	}
	return models.Reply(fmt.Sprintf("Great! I see you've selected the *%s* 🚗\n\n"+
		"Car Price: %s\n\n"+
		"To calculate your EMI, I need to know:\n"+
		"💵 What's your down payment amount? (in rupees or lakhs)", car.DisplayName(), Rupees(car.Price)))
}

func (e *emi) downPayment(ctx context.Context, t *turn) models.Result {
	car, _ := t.data().Car(models.DataKeySelectedCar)
	if strings.TrimSpace(t.msg) == "0" {
		return models.Reply("Please enter a valid down payment amount (greater than 0).")
	}
	if res := t.fill(ctx, []models.DataKey{models.DataKeyDownPayment}, loosePriceFallback); res != nil {
		return *res
	}
	d := t.data()
	if !d.Has(models.DataKeyDownPayment) {
		return models.Reply(fmt.Sprintf("What's your down payment amount? (Car price: %s)", Rupees(car.Price)))
	}
	dp := d.Float(models.DataKeyDownPayment)
	if dp >= car.Price {
		t.sess.Delete(models.DataKeyDownPayment)
		return models.Reply(fmt.Sprintf("Your down payment of %s is more than the car price of %s. Please enter a lower down payment amount.",
			Rupees(dp), Rupees(car.Price)))
	}
	if res, ok := t.moveTo(models.StepSelectingTenure); !ok {
		return res
	}
	return models.Reply(emiOptions(car, dp))
}

func emiOptions(car models.Car, dp float64) string {
	loan := car.Price - dp
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *EMI Options for %s*\n\n", car.DisplayName())
	fmt.Fprintf(&b, "*Car Price:* %s\n", Rupees(car.Price))
	fmt.Fprintf(&b, "*Down Payment:* %s\n", Rupees(dp))
	fmt.Fprintf(&b, "*Loan Amount:* %s\n", Rupees(loan))
	fmt.Fprintf(&b, "*Interest Rate:* %.1f%% per annum\n\n", DefaultAnnualRate)
	b.WriteString("*EMI Options:*\n\n")
	for _, n := range TenureOptions {
		q := CalculateEMI(loan, DefaultAnnualRate, n)
		fmt.Fprintf(&b, "*%d months* (%d years):\n", n, n/12)
		fmt.Fprintf(&b, "   💰 Monthly EMI: %s\n", Rupees(q.EMI))
		fmt.Fprintf(&b, "   📈 Total Interest: %s\n", Rupees(q.TotalInterest))
		fmt.Fprintf(&b, "   💵 Total Amount: %s\n\n", Rupees(q.TotalAmount))
	}
	b.WriteString("Please select your preferred tenure (12, 24, 36, 48, 60, or 72 months):")
	return b.String()
}

func (e *emi) selectingTenure(ctx context.Context, t *turn) models.Result {
	if isChangeRequest(t.msg) {
		return e.changeDownPayment(t)
	}
	if res := t.fill(ctx, []models.DataKey{models.DataKeyTenure}, tenureFallback); res != nil {
		return *res
	}
	d := t.data()
	months := d.Int(models.DataKeyTenure)
	if !slices.Contains(TenureOptions, months) {
		t.sess.Delete(models.DataKeyTenure)
		return models.Reply("Please select a valid tenure option: 12, 24, 36, 48, 60, 72 months\n\nOr type 'change' to modify your down payment.")
	}

	car, _ := d.Car(models.DataKeySelectedCar)
	dp := d.Float(models.DataKeyDownPayment)
	q := CalculateEMI(car.Price-dp, DefaultAnnualRate, months)
	t.sess.Set(models.DataKeyEMI, q.Data())
	if res, ok := t.moveTo(models.StepShowingEMI); !ok {
		return res
	}
	slog.Info("emi.selectingTenure: calculated", "user", t.sess.UserID(), "loan", q.Principal, "months", months, "emi", q.EMI)

	return models.Reply(fmt.Sprintf("💰 *EMI Calculation Result*\n\n"+
		"*Car Details:*\n"+
		"• %s\n"+
		"• Price: %s\n\n"+
		"*Loan Details:*\n"+
		"• Down Payment: %s\n"+
		"• Loan Amount: %s\n"+
		"• Interest Rate: %.1f%% per annum\n"+
		"• Tenure: %d months (%d years)\n\n"+
		"*Monthly EMI:*\n"+
		"💵 %s per month\n\n"+
		"*Breakdown:*\n"+
		"• Total Amount Payable: %s\n"+
		"• Total Interest: %s\n\n"+
		"*Note:* This is an approximate calculation. Final EMI may vary based on your credit profile and bank policies.\n\n"+emiMenu,
		car.DisplayName(), Rupees(car.Price), Rupees(dp), Rupees(q.Principal), DefaultAnnualRate,
		months, months/12, Rupees(q.EMI), Rupees(q.TotalAmount), Rupees(q.TotalInterest)))
}

func tenureFallback(_ context.Context, t *turn, field models.DataKey) models.Data {
	if months, ok := parseTenure(t.msg); ok {
		return models.Data{field: months}
	}
	return nil
}

func (e *emi) changeDownPayment(t *turn) models.Result {
	t.sess.Delete(models.DataKeyDownPayment, models.DataKeyTenure, models.DataKeyEMI)
	if err := t.rewind(models.StepDownPayment); err != nil {
		return models.Fail(models.ErrorKindRouting, err)
	}
	return models.Reply(changeDownPaymentMessage)
}

func (e *emi) showingEMI(_ context.Context, t *turn) models.Result {
	option, _ := parseOption(t.msg, 3)
	switch {
	case option == 1 || containsAnyWord(t.msg, "another", "another car"):
		t.sess.Delete(models.DataKeySelectedCar, models.DataKeyCarPrice, models.DataKeyDownPayment, models.DataKeyTenure, models.DataKeyEMI)
		if err := t.rewind(models.StepSelectingCar); err != nil {
			return models.Fail(models.ErrorKindRouting, err)
		}
		return models.Reply("Great! Let's calculate EMI for another car! 🚗💰\n\n" + emiIntroOptions)
	case option == 2 || isChangeRequest(t.msg):
		return e.changeDownPayment(t)
	case option == 3 || containsAnyWord(t.msg, "information", "info", "details", "more", "rate"):
		return models.Reply(fmt.Sprintf("*EMI Details:*\n\n"+
			"• Interest Rate: %.1f%% per annum\n"+
			"• Monthly Interest Rate: %.2f%%\n"+
			"• Calculation Method: Standard EMI formula\n\n"+
			"*Note:* Final EMI may vary based on:\n"+
			"• Your credit score\n"+
			"• Bank policies\n"+
			"• Current market rates\n"+
			"• Additional charges\n\n"+
			"For exact EMI, please contact our finance team!", DefaultAnnualRate, DefaultAnnualRate/12))
	}
	return models.Reply(emiMenu)
}

// normalizeEMI coerces amounts to rupees and tenures to months.
func normalizeEMI(d models.Data, _ *Deps) {
	normalizeAmount(d, models.DataKeyCarPrice)
	normalizeAmount(d, models.DataKeyDownPayment)
	if s, ok := d[models.DataKeyTenure].(string); ok {
		if months, ok := parseTenure(s); ok {
			d[models.DataKeyTenure] = months
		} else {
			delete(d, models.DataKeyTenure)
		}
	}
	normalizeInt(d, models.DataKeyTenure)
}
