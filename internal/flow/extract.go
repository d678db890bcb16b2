package flow

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Local best-effort parsers used when the extractor fails or finds nothing for the field
// being collected.

const (
	lakh     = 100000.0
	thousand = 1000.0
	minYear  = 1990
)

var (
	numberPattern = `(\d+(?:\.\d+)?)`
	unitPattern   = `\s*(lakhs?|lacs?|l|k|thousand)?\b`

	budgetRange    = regexp.MustCompile(numberPattern + `\s*(?:lakhs?|lacs?|l|k)?\s*(?:-|to)\s*` + numberPattern + unitPattern)
	budgetBetween  = regexp.MustCompile(`between\s*` + numberPattern + `\s*(?:lakhs?|lacs?|l|k)?\s*and\s*` + numberPattern + unitPattern)
	budgetUpper    = regexp.MustCompile(`(?:under|below|upto|up to|max|maximum|less than|within)\s*(?:rs\.?|inr|₹)?\s*` + numberPattern + unitPattern)
	budgetLower    = regexp.MustCompile(`(?:above|over|min|minimum|more than|at least|atleast)\s*(?:rs\.?|inr|₹)?\s*` + numberPattern + unitPattern)
	amountWithUnit = regexp.MustCompile(numberPattern + `\s*(lakhs?|lacs?|k|thousand)\b`)
	rawAmount      = regexp.MustCompile(`(?:₹|rs\.?|inr)?\s*(\d{5,})`)
	anyNumber      = regexp.MustCompile(`^\s*(?:₹|rs\.?|inr)?\s*` + numberPattern + `\s*$`)

	yearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

	tenureYears  = regexp.MustCompile(`(\d+)\s*(?:years?|yrs?)\b`)
	tenureMonths = regexp.MustCompile(`(\d+)\s*(?:months?|mos?)?\b`)

	optionPattern = regexp.MustCompile(`^\s*(?:option\s*)?(\d{1,2})\s*[.)]?\s*$`)

	registrationPattern = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z]{2}\d{4}$`)
	registrationInText  = regexp.MustCompile(`[A-Z]{2}\d{2}[A-Z]{2}\d{4}`)
	registrationNoise   = regexp.MustCompile(`[\s\-]+`)

	nonDigits   = regexp.MustCompile(`\D`)
	namePrefix  = regexp.MustCompile(`(?i)^(?:my name is|my name's|name is|i am|i'm|im|this is|it's|its|call me)\s+`)
	nameAllowed = regexp.MustCompile(`^[\p{L}][\p{L} .'\-]*$`)
)

// TenureOptions are the loan tenures offered, in months.
var TenureOptions = []int{12, 24, 36, 48, 60, 72}

func lower(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

// stripGrouping removes thousands separators so "5,00,000" parses as 500000.
func stripGrouping(msg string) string {
	return strings.ReplaceAll(msg, ",", "")
}

// toRupees converts a number with an optional unit into rupees. Bare numbers under 100
// are read as lakh.
func toRupees(num, unit string) (float64, bool) {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch {
	case strings.HasPrefix(unit, "lakh"), strings.HasPrefix(unit, "lac"), unit == "l":
		return v * lakh, true
	case unit == "k", unit == "thousand":
		return v * thousand, true
	case v < 100:
		return v * lakh, true
	}
	return v, true
}

// parseBudget reads a budget range in rupees. Either bound may be zero (open).
func parseBudget(msg string) (minPrice, maxPrice float64, ok bool) {
	s := stripGrouping(lower(msg))
	for _, re := range []*regexp.Regexp{budgetBetween, budgetRange} {
		if m := re.FindStringSubmatch(s); m != nil {
			lo, okLo := toRupees(m[1], m[3])
			hi, okHi := toRupees(m[2], m[3])
			if okLo && okHi {
				if lo > hi {
					lo, hi = hi, lo
				}
				return lo, hi, true
			}
		}
	}
	if m := budgetUpper.FindStringSubmatch(s); m != nil {
		if hi, ok := toRupees(m[1], m[2]); ok {
			return 0, hi, true
		}
	}
	if m := budgetLower.FindStringSubmatch(s); m != nil {
		if lo, ok := toRupees(m[1], m[2]); ok {
			return lo, 0, true
		}
	}
	if m := amountWithUnit.FindStringSubmatch(s); m != nil {
		if hi, ok := toRupees(m[1], m[2]); ok {
			return 0, hi, true
		}
	}
	if m := rawAmount.FindStringSubmatch(s); m != nil {
		if hi, ok := toRupees(m[1], ""); ok {
			return 0, hi, true
		}
	}
	return 0, 0, false
}

// parseAmount reads a single rupee amount. With loose set, a bare number is accepted
// (under 100 means lakh); otherwise a unit or at least five digits is required.
func parseAmount(msg string, loose bool) (float64, bool) {
	s := stripGrouping(lower(msg))
	if m := amountWithUnit.FindStringSubmatch(s); m != nil {
		return toRupees(m[1], m[2])
	}
	if m := rawAmount.FindStringSubmatch(s); m != nil {
		return toRupees(m[1], "")
	}
	if loose {
		if m := anyNumber.FindStringSubmatch(s); m != nil {
			return toRupees(m[1], "")
		}
	}
	return 0, false
}

// parseYear returns the first four-digit year in msg, without range validation.
func parseYear(msg string) (int, bool) {
	m := yearPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	return y, err == nil
}

func validYear(year int, now time.Time) bool {
	return year >= minYear && year <= now.Year()
}

// Condition values, best first.
const (
	ConditionExcellent = "excellent"
	ConditionVeryGood  = "very_good"
	ConditionGood      = "good"
	ConditionAverage   = "average"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
)

var conditionKeywords = []struct {
	condition string
	words     []string
}{
	{ConditionExcellent, []string{"excellent", "perfect", "mint", "like new", "showroom condition"}},
	{ConditionVeryGood, []string{"very good", "verygood", "very_good", "great condition", "almost new", "great"}},
	{ConditionPoor, []string{"poor", "bad", "damaged", "needs repair", "rough"}},
	{ConditionGood, []string{"good", "well maintained", "decent"}},
	{ConditionAverage, []string{"average", "okay", "ok", "normal", "regular"}},
	{ConditionFair, []string{"fair", "usable"}},
}

// parseCondition maps free text onto the condition scale.
func parseCondition(msg string) string {
	s := " " + wordsOnly(msg) + " "
	for _, ck := range conditionKeywords {
		for _, w := range ck.words {
			if strings.Contains(s, " "+strings.ReplaceAll(w, "_", " ")+" ") {
				return ck.condition
			}
		}
	}
	return ""
}

// canonicalCondition normalizes an extracted condition ("Very Good", "very-good") onto
// the scale, or returns "".
func canonicalCondition(v string) string {
	key := strings.NewReplacer(" ", "_", "-", "_").Replace(lower(v))
	if _, ok := ConditionMultipliers[key]; ok {
		return key
	}
	return parseCondition(v)
}

// parsePhone keeps the last ten digits of a number with at least ten digits.
func parsePhone(msg string) (string, bool) {
	digits := nonDigits.ReplaceAllString(msg, "")
	if len(digits) < 10 {
		return "", false
	}
	return digits[len(digits)-10:], true
}

// normalizeRegistration uppercases and removes spaces and hyphens.
func normalizeRegistration(msg string) string {
	return registrationNoise.ReplaceAllString(strings.ToUpper(strings.TrimSpace(msg)), "")
}

// validRegistration reports whether a normalized registration matches AA00AA0000.
func validRegistration(reg string) bool {
	return registrationPattern.MatchString(reg)
}

// parseRegistration finds a registration number in msg.
func parseRegistration(msg string) (string, bool) {
	whole := normalizeRegistration(msg)
	if validRegistration(whole) {
		return whole, true
	}
	for _, tok := range strings.Fields(strings.ToUpper(msg)) {
		tok = strings.Trim(tok, ".,;:!?()")
		if validRegistration(normalizeRegistration(tok)) {
			return normalizeRegistration(tok), true
		}
	}
	if m := registrationInText.FindString(whole); m != "" {
		return m, true
	}
	return "", false
}

// parseTenure reads a tenure in months: "36", "3 years", or option index 1..6.
func parseTenure(msg string) (int, bool) {
	s := lower(msg)
	if m := tenureYears.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		months := y * 12
		return months, slices.Contains(TenureOptions, months)
	}
	if n, ok := parseOption(s, len(TenureOptions)); ok {
		return TenureOptions[n-1], true
	}
	if m := tenureMonths.FindStringSubmatch(s); m != nil {
		months, _ := strconv.Atoi(m[1])
		return months, slices.Contains(TenureOptions, months)
	}
	return 0, false
}

// parseOption reads a bare menu number in 1..maxOption.
func parseOption(msg string, maxOption int) (int, bool) {
	m := optionPattern.FindStringSubmatch(lower(msg))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > maxOption {
		return n, false
	}
	return n, true
}

// parseName strips introductions and accepts letters, spaces and simple punctuation.
func parseName(msg string) (string, bool) {
	name := strings.TrimSpace(namePrefix.ReplaceAllString(strings.TrimSpace(msg), ""))
	name = strings.TrimRight(name, ".!")
	if len([]rune(name)) < 2 || !nameAllowed.MatchString(name) {
		return "", false
	}
	return name, true
}

// Negations checked before any affirmative phrase, so "I have no license" reads as no.
var yesNoNegations = []string{
	"not", "don't", "dont", "do not", "haven't", "havent", "have no", "never", "without",
	"nope", "nah", "no license", "no licence", "no dl",
}

// parseYesNo reads a yes or no answer.
func parseYesNo(msg string) (bool, bool) {
	words := wordsOnly(msg)
	switch {
	case isAffirmative(msg):
		return true, true
	case isNegative(msg), containsAnyWord(msg, yesNoNegations...), strings.HasPrefix(words, "no "):
		return false, true
	case containsWord(msg, "i have"), words == "have", strings.HasPrefix(words, "yes "):
		return true, true
	}
	return false, false
}

// matchReference returns the entry of refs named in msg, preferring the longest match.
func matchReference(msg string, refs []string) string {
	s := " " + wordsOnly(msg) + " "
	best := ""
	for _, r := range refs {
		w := wordsOnly(r)
		if w == "" {
			continue
		}
		if strings.Contains(s, " "+w+" ") && len(r) > len(best) {
			best = r
		}
	}
	if best != "" {
		return best
	}
	// A short reply may name only part of an entry ("maruti" for "Maruti Suzuki").
	whole := wordsOnly(msg)
	if len(whole) < 3 {
		return ""
	}
	for _, r := range refs {
		if strings.Contains(" "+wordsOnly(r)+" ", " "+whole+" ") {
			return r
		}
	}
	return ""
}

// matchServiceType maps a menu number or keyword onto ServiceTypes.
func matchServiceType(msg string) string {
	if n, ok := parseOption(msg, len(ServiceTypes)); ok {
		return ServiceTypes[n-1]
	}
	s := " " + wordsOnly(msg) + " "
	keywords := []struct {
		word string
		svc  string
	}{
		{"regular", "Regular Service"},
		{"major", "Major Service"},
		{"accident", "Accident Repair"},
		{"repair", "Accident Repair"},
		{"insurance", "Insurance Claim"},
		{"claim", "Insurance Claim"},
		{"other", "Other"},
	}
	for _, k := range keywords {
		if strings.Contains(s, " "+k.word+" ") {
			return k.svc
		}
	}
	for _, svc := range ServiceTypes {
		if strings.EqualFold(strings.TrimSpace(msg), svc) {
			return svc
		}
	}
	return ""
}

var wordSplitter = regexp.MustCompile(`[^\p{L}\p{N}']+`)

// wordsOnly lowercases and collapses everything but letters, digits and apostrophes.
func wordsOnly(msg string) string {
	return strings.TrimSpace(wordSplitter.ReplaceAllString(strings.ToLower(msg), " "))
}

func containsWord(msg, phrase string) bool {
	return strings.Contains(" "+wordsOnly(msg)+" ", " "+wordsOnly(phrase)+" ")
}

func containsAnyWord(msg string, phrases ...string) bool {
	for _, p := range phrases {
		if containsWord(msg, p) {
			return true
		}
	}
	return false
}

var (
	affirmatives = []string{
		"yes", "y", "yeah", "yep", "yup", "sure", "correct", "confirm", "confirmed", "ok", "okay",
		"right", "that's right", "thats right", "yes please", "yes that's right", "absolutely", "book it",
	}
	negatives = []string{
		"no", "n", "nope", "nah", "wrong", "incorrect", "not", "that's wrong", "thats wrong", "no that's wrong",
	}
	changeWords = []string{"change", "modify", "different", "new search", "start over", "edit", "restart"}
)

func isAffirmative(msg string) bool {
	return slices.Contains(affirmatives, wordsOnly(msg))
}

func isNegative(msg string) bool {
	return slices.Contains(negatives, wordsOnly(msg))
}

func isChangeRequest(msg string) bool {
	return containsAnyWord(msg, changeWords...)
}

// round2 rounds to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
