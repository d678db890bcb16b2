package flow

import (
	"math"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// DefaultAnnualRate is the loan interest rate quoted to customers, in percent per annum.
const DefaultAnnualRate = 9.5

// EMIResult is one amortized loan quote.
type EMIResult struct {
	Principal     float64
	AnnualRate    float64
	TenureMonths  int
	EMI           float64
	TotalAmount   float64
	TotalInterest float64
}

// CalculateEMI applies the standard reducing-balance formula
// EMI = P*r*(1+r)^n / ((1+r)^n - 1) with r the monthly rate. A zero rate spreads the
// principal evenly; a non-positive principal or tenure yields a zero quote.
func CalculateEMI(principal, annualRate float64, tenureMonths int) EMIResult {
	res := EMIResult{Principal: principal, AnnualRate: annualRate, TenureMonths: tenureMonths}
	if principal <= 0 || tenureMonths <= 0 {
		return res
	}
	n := float64(tenureMonths)
	r := annualRate / 12 / 100
	if r == 0 {
		res.EMI = round2(principal / n)
	} else {
		growth := math.Pow(1+r, n)
		res.EMI = round2(principal * r * growth / (growth - 1))
	}
	res.TotalAmount = round2(res.EMI * n)
	res.TotalInterest = round2(res.TotalAmount - principal)
	return res
}

// Data renders the quote for storage on the conversation record.
func (e EMIResult) Data() models.Data {
	return models.Data{
		"principal":      e.Principal,
		"annual_rate":    e.AnnualRate,
		"tenure_months":  e.TenureMonths,
		"emi":            e.EMI,
		"total_amount":   e.TotalAmount,
		"total_interest": e.TotalInterest,
	}
}
