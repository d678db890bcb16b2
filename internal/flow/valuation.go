package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

var valuationSlots = []models.DataKey{
	models.DataKeyBrand,
	models.DataKeyModel,
	models.DataKeyYear,
	models.DataKeyFuelType,
	models.DataKeyCondition,
}

var titleCase = cases.Title(language.English)

const valuationMenu = "Would you like to:\n" +
	"1️⃣ Value another car\n" +
	"2️⃣ Get more details about this valuation\n" +
	"3️⃣ Back to main menu"

type valuation struct {
	*machine
}

// NewValuation builds the car valuation flow.
func NewValuation(d *Deps) Machine {
	v := &valuation{}
	v.machine = &machine{
		name:      models.FlowValuation,
		deps:      d,
		order:     []models.StepName{models.StepCollectingInfo, models.StepShowingValuation},
		refs:      []string{models.RefBrands, models.RefFuelTypes},
		normalize: normalizeValuation,
	}
	v.steps = map[models.StepName]stepDef{
		models.StepCollectingInfo: {handle: v.collectInfo},
		models.StepShowingValuation: {
			requires: append(append([]models.DataKey(nil), valuationSlots...), models.DataKeyValuation),
			handle:   v.showingValuation,
		},
	}
	v.start = v.begin
	return v
}

func (v *valuation) begin(ctx context.Context, t *turn, payload models.Data) models.Result {
	if len(payload) > 0 {
		t.merge(payload)
	}
	return v.collectInfo(ctx, t)
}

func (v *valuation) collectInfo(ctx context.Context, t *turn) models.Result {
	prevYear, hadYear := t.known(models.DataKeyYear)
	if res := t.fill(ctx, valuationSlots, v.infoFallback); res != nil {
		return *res
	}
	if res := t.rejectInvalidYear(prevYear, hadYear); res != nil {
		return *res
	}
	d := t.data()

	brand, model, year := d.String(models.DataKeyBrand), d.String(models.DataKeyModel), d.Int(models.DataKeyYear)
	var q string
	switch field, _ := t.firstMissing(valuationSlots); field {
	case models.DataKeyBrand:
		q = "Great! I'd be happy to help you get your car valued! 🚗💰\n\n" +
			"Which brand is your car?" + examples(t.deps.Refs.Brands(ctx), 5)
	case models.DataKeyModel:
		q = fmt.Sprintf("Perfect! I see you have a %s car. That's great! 👍\n\nWhat's the model name?", brand)
	case models.DataKeyYear:
		q = fmt.Sprintf("Excellent! So it's a %s %s. 🎯\n\nWhat year was it manufactured?", brand, model)
	case models.DataKeyFuelType:
		q = fmt.Sprintf("Got it! A %d %s %s. 📅\n\nWhat's the fuel type? (%s)", year, brand, model, oxford(t.deps.Refs.FuelTypes(ctx)))
	case models.DataKeyCondition:
		q = fmt.Sprintf("Perfect! So it's a %s %s %s from %d. ⛽\n\n", d.String(models.DataKeyFuelType), brand, model, year) +
			fieldQuestion(models.DataKeyCondition)
	default:
		return v.compute(ctx, t)
	}
	return models.Reply(t.polish(ctx, q))
}

// infoFallback parses every missing detail it can recognize. A free-text model name is
// only taken when the model is the detail being asked for.
func (v *valuation) infoFallback(ctx context.Context, t *turn, field models.DataKey) models.Data {
	d := t.data()
	out := models.Data{}
	for _, f := range valuationSlots {
		if f != field && d.Has(f) {
			continue
		}
		switch f {
		case models.DataKeyBrand:
			if brand := matchBrand(t.msg, t.deps.Refs.Brands(ctx)); brand != "" {
				out[f] = brand
			}
		case models.DataKeyModel:
			if f == field && d.Has(models.DataKeyBrand) {
				if model := parseModel(t.msg, d.String(models.DataKeyBrand)); model != "" {
					out[f] = model
				}
			}
		case models.DataKeyYear:
			if year, ok := parseYear(t.msg); ok {
				out[f] = year
			}
		case models.DataKeyFuelType:
			if fuel := matchReference(t.msg, t.deps.Refs.FuelTypes(ctx)); fuel != "" {
				out[f] = fuel
			}
		case models.DataKeyCondition:
			if cond := parseCondition(t.msg); cond != "" {
				out[f] = cond
			}
		}
	}
	return out
}

// matchBrand looks the brand up in the inventory list, then in the base price table.
func matchBrand(msg string, brands []string) string {
	if brand := matchReference(msg, brands); brand != "" {
		return brand
	}
	for known := range BrandBasePrices {
		if containsWord(msg, known) {
			return titleCase.String(known)
		}
	}
	return ""
}

// parseModel takes a short free-text reply as the model name, dropping a repeated brand.
func parseModel(msg, brand string) string {
	model := strings.TrimSpace(msg)
	if brand != "" && len(model) > len(brand) && strings.EqualFold(model[:len(brand)], brand) {
		model = strings.TrimSpace(model[len(brand):])
	}
	model = strings.Trim(model, ".!?")
	if y, ok := parseYear(model); ok && strconv.Itoa(y) == model {
		return ""
	}
	if model == "" || len([]rune(model)) > 30 || len(strings.Fields(model)) > 4 {
		return ""
	}
	return model
}

func normalizeValuation(d models.Data, _ *Deps) {
	normalizeInt(d, models.DataKeyYear)
	normalizeText(d, models.DataKeyBrand, 2)
	normalizeText(d, models.DataKeyModel, 1)
	if c, ok := d[models.DataKeyCondition].(string); ok {
		if canon := canonicalCondition(c); canon != "" {
			d[models.DataKeyCondition] = canon
		} else {
			delete(d, models.DataKeyCondition)
		}
	}
	if f, ok := d[models.DataKeyFuelType].(string); ok {
		if canon := matchReference(f, DefaultFuelTypes); canon != "" {
			d[models.DataKeyFuelType] = canon
		}
	}
}

func conditionLabel(c string) string {
	return titleCase.String(strings.ReplaceAll(c, "_", " "))
}

func (v *valuation) compute(ctx context.Context, t *turn) models.Result {
	d := t.data()
	brand, model := d.String(models.DataKeyBrand), d.String(models.DataKeyModel)
	cctx, cancel := t.callCtx(ctx)
	base := basePrice(cctx, t.deps.Cars, brand, model)
	cancel()

	val := Calculate(base, d.Int(models.DataKeyYear), d.String(models.DataKeyCondition), t.deps.Now())
	t.sess.Set(models.DataKeyValuation, val.Data())
	if res, ok := t.moveTo(models.StepShowingValuation); !ok {
		return res
	}
	slog.Info("valuation.compute: valued", "user", t.sess.UserID(), "brand", brand, "model", model, "value", val.Value)

	return models.Reply(fmt.Sprintf("📊 *Car Valuation Result*\n\n"+
		"*Car Details:*\n"+
		"• Brand: %s\n"+
		"• Model: %s\n"+
		"• Year: %d (%d years old)\n"+
		"• Fuel Type: %s\n"+
		"• Condition: %s\n\n"+
		"*Approximate Valuation:*\n"+
		"💰 %s (%s)\n\n"+
		"*Note:* This is an approximate valuation based on the information provided. "+
		"For a more accurate valuation, we recommend a physical inspection.\n\n"+valuationMenu,
		brand, model, d.Int(models.DataKeyYear), val.Age, d.String(models.DataKeyFuelType),
		conditionLabel(d.String(models.DataKeyCondition)), Rupees(val.Value), Lakh(val.Value)))
}

func (v *valuation) showingValuation(_ context.Context, t *turn) models.Result {
	option, _ := parseOption(t.msg, 3)
	switch {
	case option == 1 || containsAnyWord(t.msg, "another", "another car", "again"):
		t.sess.Delete(valuationSlots...)
		t.sess.Delete(models.DataKeyValuation)
		if err := t.rewind(models.StepCollectingInfo); err != nil {
			return models.Fail(models.ErrorKindRouting, err)
		}
		return models.Reply("Great! Let's value another car! 🚗\n\nWhich brand is your car?")
	case option == 2 || containsAnyWord(t.msg, "details", "detail", "breakdown", "more"):
		val, ok := valuationFromData(t.data().Sub(models.DataKeyValuation))
		if !ok {
			return models.Reply("I encountered an issue calculating the valuation. Please try again or contact us for a detailed valuation.")
		}
		return models.Reply(fmt.Sprintf("*Valuation Details:*\n\n"+
			"Base Price: %s\n"+
			"Depreciation Factor: %.2f\n"+
			"Condition Multiplier: %.2f\n"+
			"Car Age: %d years\n\n"+
			"For a detailed physical inspection and accurate valuation, please visit our showroom!",
			Rupees(val.BasePrice), val.Depreciation, val.ConditionMultiplier, val.Age))
	case option == 3 || containsAnyWord(t.msg, "menu", "main menu", "back"):
		t.sess.Clear()
		return models.Reply(MainMenuMessage)
	}
	return models.Reply(valuationMenu)
}
