package flow

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// ConditionMultipliers scales a depreciated price by the car's reported condition.
var ConditionMultipliers = map[string]float64{
	ConditionExcellent: 1.0,
	ConditionVeryGood:  0.9,
	ConditionGood:      0.8,
	ConditionAverage:   0.7,
	ConditionFair:      0.6,
	ConditionPoor:      0.5,
}

// DefaultConditionMultiplier applies to a condition outside the scale.
const DefaultConditionMultiplier = 0.7

// BrandBasePrices is used when the inventory has no comparable cars.
var BrandBasePrices = map[string]float64{
	"tata":     800000,
	"hyundai":  900000,
	"maruti":   700000,
	"mahindra": 850000,
	"honda":    1000000,
	"toyota":   1100000,
	"ford":     950000,
	"renault":  800000,
	"skoda":    1200000,
	"nissan":   900000,
}

// DefaultBasePrice applies to brands missing from BrandBasePrices.
const DefaultBasePrice = 800000

const (
	minDepreciation = 0.2
	valuationStep   = 1000
)

// Valuation is an approximate resale estimate.
type Valuation struct {
	BasePrice           float64
	Age                 int
	Depreciation        float64
	ConditionMultiplier float64
	Value               float64
}

// DepreciationFactor is linear: 10% a year for five years, then 5% a year, floored at 0.2.
func DepreciationFactor(age int) float64 {
	if age < 0 {
		age = 0
	}
	var f float64
	if age <= 5 {
		f = 1 - 0.1*float64(age)
	} else {
		f = 0.5 - 0.05*float64(age-5)
	}
	return math.Max(f, minDepreciation)
}

// ConditionMultiplier returns the multiplier for a canonical condition.
func ConditionMultiplier(condition string) float64 {
	if m, ok := ConditionMultipliers[condition]; ok {
		return m
	}
	return DefaultConditionMultiplier
}

// Calculate values a car of the given year and condition against base. The result is
// rounded to the nearest thousand and always lies within [0.2*base, base].
func Calculate(base float64, year int, condition string, now time.Time) Valuation {
	age := now.Year() - year
	if age < 0 {
		age = 0
	}
	v := Valuation{
		BasePrice:           base,
		Age:                 age,
		Depreciation:        DepreciationFactor(age),
		ConditionMultiplier: ConditionMultiplier(condition),
	}
	value := math.Round(base*v.Depreciation*v.ConditionMultiplier/valuationStep) * valuationStep
	v.Value = math.Min(math.Max(value, minDepreciation*base), base)
	return v
}

// Data renders the valuation for storage on the conversation record.
func (v Valuation) Data() models.Data {
	return models.Data{
		"base_price":           v.BasePrice,
		"age":                  v.Age,
		"depreciation":         v.Depreciation,
		"condition_multiplier": v.ConditionMultiplier,
		"value":                v.Value,
	}
}

// valuationFromData reads back a valuation stored with Data.
func valuationFromData(d models.Data) (Valuation, bool) {
	if !d.Has("value") {
		return Valuation{}, false
	}
	return Valuation{
		BasePrice:           d.Float("base_price"),
		Age:                 d.Int("age"),
		Depreciation:        d.Float("depreciation"),
		ConditionMultiplier: d.Float("condition_multiplier"),
		Value:               d.Float("value"),
	}, true
}

// basePrice is the mean inventory price of comparable cars: the same model when listed,
// otherwise the same brand, otherwise the brand table.
func basePrice(ctx context.Context, cars models.CarStore, brand, model string) float64 {
	if cars != nil {
		found, err := cars.SearchCars(ctx, models.CarQuery{Brand: brand, Limit: 10})
		if err != nil {
			slog.Warn("flow.basePrice: inventory lookup failed, using brand table", "brand", brand, "error", err)
		} else {
			var sameModel []models.Car
			for _, c := range found {
				if model != "" && strings.EqualFold(c.Model, model) {
					sameModel = append(sameModel, c)
				}
			}
			if p := meanPrice(sameModel); p > 0 {
				return p
			}
			if p := meanPrice(found); p > 0 {
				return p
			}
		}
	}
	if p, ok := BrandBasePrices[strings.ToLower(strings.TrimSpace(brand))]; ok {
		return p
	}
	return DefaultBasePrice
}

func meanPrice(cars []models.Car) float64 {
	var sum float64
	var n int
	for _, c := range cars {
		if c.Price > 0 {
			sum += c.Price
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
