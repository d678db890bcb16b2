package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// criteriaSlots are collected in order before the inventory is searched.
var criteriaSlots = []models.DataKey{models.DataKeyBrand, models.DataKeyBudget, models.DataKeyCarType}

var budgetKeys = []models.DataKey{models.DataKeyBudget, models.DataKeyBudgetMin, models.DataKeyBudgetMax}

// defaultCarTypes backs the car-type fallback when the inventory lists none.
var defaultCarTypes = []string{"Hatchback", "Sedan", "SUV", "MUV", "Coupe", "Convertible", "Pickup"}

// SearchLimit caps how many cars one search shows.
const SearchLimit = 10

const (
	noMatchMessage = "I couldn't find any cars matching your exact criteria. 😔\n\n" +
		"Would you like to:\n" +
		"1. Try a different brand\n" +
		"2. Adjust your budget\n" +
		"3. Change the car type\n\n" +
		"Just let me know what you'd like to change!"
	searchErrorMessage  = "I encountered an issue searching for cars. Please try again in a moment, or contact us if the problem persists."
	selectCarReminder   = "I didn't quite catch that. Please select a car number or type 'change' to modify your search."
	carSelectedReminder = "I didn't quite catch that. Would you like to:\n" +
		"1️⃣ Book a test drive\n" +
		"2️⃣ Calculate EMI\n" +
		"3️⃣ Change search criteria"
)

type browseCar struct {
	*machine
}

// NewBrowseCar builds the Browse-Car flow: criteria, results, selection and the test
// drive booking chain.
func NewBrowseCar(d *Deps) Machine {
	b := &browseCar{}
	b.machine = &machine{
		name: models.FlowBrowseCar,
		deps: d,
		order: []models.StepName{
			models.StepCollectingCriteria,
			models.StepShowingCars,
			models.StepCarSelected,
			models.StepTestDriveDate,
			models.StepTestDriveTime,
			models.StepTestDriveName,
			models.StepTestDrivePhone,
			models.StepTestDriveDL,
			models.StepTestDriveLocation,
			models.StepTestDriveAddress,
			models.StepTestDriveConfirm,
		},
		refs:      []string{models.RefBrands, models.RefCarTypes},
		expand:    map[models.DataKey][]models.DataKey{models.DataKeyBudget: {models.DataKeyBudgetMin, models.DataKeyBudgetMax}},
		normalize: normalizeBrowse,
	}
	b.steps = map[models.StepName]stepDef{
		models.StepCollectingCriteria: {handle: b.collectCriteria},
		models.StepShowingCars:        {requires: criteriaSlots, handle: b.showingCars},
		models.StepCarSelected:        {requires: []models.DataKey{models.DataKeySelectedCar}, handle: b.carSelected},
		models.StepTestDriveDate:      {requires: []models.DataKey{models.DataKeySelectedCar}, handle: b.testDrive},
		models.StepTestDriveTime:      {requires: []models.DataKey{models.DataKeyTestDriveDate}, handle: b.testDrive},
		models.StepTestDriveName:      {requires: []models.DataKey{models.DataKeyTestDriveTime}, handle: b.testDrive},
		models.StepTestDrivePhone:     {requires: []models.DataKey{models.DataKeyTestDriveName}, handle: b.testDrive},
		models.StepTestDriveDL:        {requires: []models.DataKey{models.DataKeyTestDrivePhone}, handle: b.testDrive},
		models.StepTestDriveLocation:  {requires: []models.DataKey{models.DataKeyTestDriveHasDL}, handle: b.testDrive},
		models.StepTestDriveAddress:   {requires: []models.DataKey{models.DataKeyTestDriveLocation}, handle: b.testDrive},
		models.StepTestDriveConfirm:   {requires: confirmRequires, handle: b.testDriveConfirm},
	}
	b.start = b.begin
	return b
}

func (b *browseCar) begin(ctx context.Context, t *turn, payload models.Data) models.Result {
	if len(payload) > 0 {
		t.merge(payload)
	}
	return b.collectCriteria(ctx, t)
}

func (b *browseCar) collectCriteria(ctx context.Context, t *turn) models.Result {
	if isChangeRequest(t.msg) && t.data().Has(models.DataKeyBrand) {
		return b.changeCriteria(ctx, t)
	}
	if res := t.fill(ctx, criteriaSlots, b.criteriaFallback); res != nil {
		return *res
	}
	return b.nextCriteria(ctx, t, "")
}

// nextCriteria asks for the first missing criterion, or searches once all are known.
func (b *browseCar) nextCriteria(ctx context.Context, t *turn, prefix string) models.Result {
	d := t.data()
	var q string
	switch {
	case !d.Has(models.DataKeyBrand):
		q = "Great! I'd be happy to help you find the perfect used car! 🚗\n\n" +
			"Which brand are you interested in?" + examples(t.deps.Refs.Brands(ctx), 5)
	case !d.Has(models.DataKeyBudget):
		q = fmt.Sprintf("Perfect! I see you're interested in %s cars. That's a great choice! 👍\n\n", d.String(models.DataKeyBrand)) +
			fieldQuestion(models.DataKeyBudget)
	case !d.Has(models.DataKeyCarType):
		q = fmt.Sprintf("Excellent! So you're looking for a %s car within your budget. 🎯\n\n", d.String(models.DataKeyBrand)) +
			"What type of car are you looking for?" + examples(b.carTypes(ctx, t), 5)
	default:
		return b.search(ctx, t)
	}
	if prefix != "" {
		return models.Reply(prefix + q)
	}
	return models.Reply(t.polish(ctx, q))
}

func (b *browseCar) carTypes(ctx context.Context, t *turn) []string {
	if types := t.deps.Refs.CarTypes(ctx); len(types) > 0 {
		return types
	}
	return defaultCarTypes
}

// criteriaFallback parses every missing criterion, starting with field, so "Honda sedan
// under 10 lakh" fills all three locally.
func (b *browseCar) criteriaFallback(ctx context.Context, t *turn, field models.DataKey) models.Data {
	d := t.data()
	out := models.Data{}
	for _, f := range criteriaSlots {
		if f != field && d.Has(f) {
			continue
		}
		switch f {
		case models.DataKeyBrand:
			if brand := matchReference(t.msg, t.deps.Refs.Brands(ctx)); brand != "" {
				out[models.DataKeyBrand] = brand
			}
		case models.DataKeyBudget:
			if lo, hi, ok := parseBudget(t.msg); ok {
				out[models.DataKeyBudgetMin] = lo
				out[models.DataKeyBudgetMax] = hi
			}
		case models.DataKeyCarType:
			if carType := matchReference(t.msg, b.carTypes(ctx, t)); carType != "" {
				out[models.DataKeyCarType] = carType
			}
		}
	}
	return out
}

// namedCriterion returns the criterion a change request names, or "" for a full reset.
func namedCriterion(msg string) models.DataKey {
	switch {
	case containsAnyWord(msg, "brand", "make"):
		return models.DataKeyBrand
	case containsAnyWord(msg, "budget", "price", "range"):
		return models.DataKeyBudget
	case containsAnyWord(msg, "type", "body", "car type"):
		return models.DataKeyCarType
	}
	return ""
}

func clearCriterion(t *turn, field models.DataKey) {
	if field == models.DataKeyBudget {
		t.sess.Delete(budgetKeys...)
		return
	}
	t.sess.Delete(field)
}

// changeCriteria clears the named criterion (or all of them) and rewinds to collection.
func (b *browseCar) changeCriteria(ctx context.Context, t *turn) models.Result {
	t.sess.Delete(models.DataKeyShownCars, models.DataKeyNoResults, models.DataKeySelectedCar)
	if err := t.rewind(models.StepCollectingCriteria); err != nil {
		return models.Fail(models.ErrorKindRouting, err)
	}
	field := namedCriterion(t.msg)
	if field == "" {
		for _, f := range criteriaSlots {
			clearCriterion(t, f)
		}
		slog.Debug("browseCar.changeCriteria: criteria reset", "user", t.sess.UserID())
		return models.Reply("No problem! Let's start fresh. 🔄\n\n" + fieldQuestion(models.DataKeyBrand))
	}
	clearCriterion(t, field)
	if res := t.fill(ctx, criteriaSlots, b.criteriaFallback); res != nil {
		return *res
	}
	if missing, ok := t.firstMissing(criteriaSlots); ok && missing == field {
		return models.Reply("No problem! " + fieldQuestion(field))
	}
	return b.nextCriteria(ctx, t, "")
}

func (b *browseCar) search(ctx context.Context, t *turn) models.Result {
	if t.deps.Cars == nil {
		slog.Error("browseCar.search: no car store configured")
		return models.Reply(searchErrorMessage)
	}
	d := t.data()
	q := models.CarQuery{
		Brand:    d.String(models.DataKeyBrand),
		Type:     d.String(models.DataKeyCarType),
		MinPrice: d.Float(models.DataKeyBudgetMin),
		MaxPrice: d.Float(models.DataKeyBudgetMax),
		Limit:    SearchLimit,
	}
	cctx, cancel := t.callCtx(ctx)
	defer cancel()
	cars, err := t.deps.Cars.SearchCars(cctx, q)
	if err != nil {
		slog.Error("browseCar.search: search failed", "user", t.sess.UserID(), "brand", q.Brand, "error", err)
		return models.Reply(searchErrorMessage)
	}
	sort.SliceStable(cars, func(i, j int) bool { return cars[i].Price < cars[j].Price })

	if res, ok := t.moveTo(models.StepShowingCars); !ok {
		return res
	}
	slog.Info("browseCar.search: results", "user", t.sess.UserID(), "brand", q.Brand, "type", q.Type, "count", len(cars))
	if len(cars) == 0 {
		t.sess.Delete(models.DataKeyShownCars)
		t.sess.Set(models.DataKeyNoResults, true)
		return models.Reply(noMatchMessage)
	}
	t.sess.Delete(models.DataKeyNoResults)
	t.sess.Set(models.DataKeyShownCars, cars)
	return models.Reply(formatCarList(cars))
}

func (b *browseCar) showingCars(ctx context.Context, t *turn) models.Result {
	if isChangeRequest(t.msg) {
		return b.changeCriteria(ctx, t)
	}
	d := t.data()
	if noResults, _ := d.Bool(models.DataKeyNoResults); noResults {
		return b.adjustCriteria(ctx, t)
	}

	cars := d.Cars(models.DataKeyShownCars)
	if n, ok := parseOption(t.msg, len(cars)); ok {
		return b.selectCar(t, cars[n-1])
	} else if n > 0 {
		return models.Reply(fmt.Sprintf("Please choose a number between 1 and %d, or type 'change' to modify your search criteria.", len(cars)))
	}
	for _, c := range cars {
		if c.Model != "" && containsWord(t.msg, c.Model) {
			return b.selectCar(t, c)
		}
	}
	return models.Reply(selectCarReminder)
}

// adjustCriteria handles the reply to the no-results menu.
func (b *browseCar) adjustCriteria(ctx context.Context, t *turn) models.Result {
	t.sess.Delete(models.DataKeyNoResults)
	if err := t.rewind(models.StepCollectingCriteria); err != nil {
		return models.Fail(models.ErrorKindRouting, err)
	}
	if n, ok := parseOption(t.msg, len(criteriaSlots)); ok {
		field := criteriaSlots[n-1]
		clearCriterion(t, field)
		return models.Reply("No problem! " + fieldQuestion(field))
	}
	// Free text is treated as new criteria, e.g. "show me Toyota instead".
	return b.collectCriteria(ctx, t)
}

func (b *browseCar) selectCar(t *turn, car models.Car) models.Result {
	t.sess.Set(models.DataKeySelectedCar, car)
	if res, ok := t.moveTo(models.StepCarSelected); !ok {
		return res
	}
	slog.Info("browseCar.selectCar: car selected", "user", t.sess.UserID(), "car_id", car.ID)
	return models.Reply(fmt.Sprintf("Excellent choice! You've selected the *%s* 🎉\n\n"+
		"What would you like to do next?\n\n"+
		"1️⃣ Book a test drive\n"+
		"2️⃣ Calculate EMI\n"+
		"3️⃣ Change search criteria", car.DisplayName()))
}

func (b *browseCar) carSelected(ctx context.Context, t *turn) models.Result {
	car, ok := t.data().Car(models.DataKeySelectedCar)
	if !ok {
		return models.Fail(models.ErrorKindRouting, errors.New("car_selected without a selected car"))
	}
	option, _ := parseOption(t.msg, 3)
	switch {
	case option == 3 || isChangeRequest(t.msg):
		t.sess.Delete(models.DataKeySelectedCar, models.DataKeyShownCars)
		for _, f := range criteriaSlots {
			clearCriterion(t, f)
		}
		if err := t.rewind(models.StepCollectingCriteria); err != nil {
			return models.Fail(models.ErrorKindRouting, err)
		}
		return models.Reply("Sure! Let's start a new search. 🔍\n\n" + fieldQuestion(models.DataKeyBrand))
	case option == 2 || containsAnyWord(t.msg, "emi", "loan", "finance", "installment"):
		slog.Info("browseCar.carSelected: handing off to EMI", "user", t.sess.UserID(), "car_id", car.ID)
		return models.SwitchFlow(models.FlowEMI, models.Data{models.DataKeySelectedCar: car})
	case option == 1 || containsAnyWord(t.msg, "test drive", "test", "drive", "book"):
		if res, ok := t.moveTo(models.StepTestDriveDate); !ok {
			return res
		}
		return models.Reply("Perfect! Let's get your test drive booked! 🚗💨\n\n" + fieldQuestion(models.DataKeyTestDriveDate))
	}
	return models.Reply(carSelectedReminder)
}

// normalizeBrowse derives the budget label from its bounds and coerces test drive answers.
func normalizeBrowse(d models.Data, _ *Deps) {
	normalizeAmount(d, models.DataKeyBudgetMin)
	normalizeAmount(d, models.DataKeyBudgetMax)
	lo, hi := d.Float(models.DataKeyBudgetMin), d.Float(models.DataKeyBudgetMax)
	if lo > 0 && hi > 0 && lo > hi {
		lo, hi = hi, lo
		d[models.DataKeyBudgetMin], d[models.DataKeyBudgetMax] = lo, hi
	}
	if lo > 0 || hi > 0 {
		d[models.DataKeyBudget] = budgetLabel(lo, hi)
	}

	normalizeText(d, models.DataKeyTestDriveName, 2)
	normalizeText(d, models.DataKeyTestDriveAddress, minAddressLength)
	normalizePhone(d, models.DataKeyTestDrivePhone)
	normalizeBool(d, models.DataKeyTestDriveHasDL)
	normalizeLocation(d)
}

func budgetLabel(lo, hi float64) string {
	switch {
	case lo > 0 && hi > 0:
		return fmt.Sprintf("₹%.2f - %.2f Lakh", lo/lakh, hi/lakh)
	case hi > 0:
		return "under ₹" + Lakh(hi)
	}
	return "above ₹" + Lakh(lo)
}
