package router

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// signature is the vocabulary a flow is recognized by.
type signature struct {
	flow models.FlowName
	// loose phrases start a flow from idle.
	loose []string
	// strict phrases interrupt another active flow.
	strict []string
	// intents are substrings of classifier intent names mapping to this flow.
	intents []string
}

// signatures is ordered by switch priority: service > emi > valuation > browse.
var signatures = []signature{
	{
		flow: models.FlowServiceBooking,
		loose: []string{
			"book service", "service booking", "book a service", "servicing",
			"repair", "maintenance", "service",
		},
		strict: []string{
			"book service", "book a service", "service booking", "book servicing",
			"book my car for service", "car service", "schedule service",
		},
		intents: []string{"service", "repair", "maintenance"},
	},
	{
		flow: models.FlowEMI,
		loose: []string{
			"emi", "loan", "installment", "instalment", "finance", "down payment",
			"monthly payment", "monthly emi",
		},
		strict: []string{
			"calculate emi", "emi calculator", "emi calculation", "check emi",
			"emi options", "loan calculation", "calculate loan",
		},
		intents: []string{"emi", "loan", "finance"},
	},
	{
		flow: models.FlowValuation,
		loose: []string{
			"value", "valuation", "worth", "resale", "appraise", "sell", "selling",
			"how much is my", "estimate",
		},
		strict: []string{
			"value my car", "car valuation", "valuation of my car", "sell my car",
			"how much is my car worth", "what is my car worth", "appraise my car",
		},
		intents: []string{"valuation", "value", "sell", "appraise"},
	},
	{
		flow: models.FlowBrowseCar,
		loose: []string{
			"browse", "buy", "buying", "purchase", "looking for", "want to buy", "search",
			"find car", "find a car", "show me cars", "used car",
		},
		strict: []string{
			"browse cars", "browse car", "show me cars", "buy a car", "buy car",
			"looking for a car", "want to buy a car", "search cars", "find a car",
		},
		intents: []string{"browse", "buy", "purchase", "search"},
	},
}

// carTypeWords count as browse vocabulary when idle.
var carTypeWords = []string{"sedan", "suv", "hatchback", "muv", "coupe", "convertible", "pickup", "compact suv"}

var (
	shortResponses = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"no": true, "n": true, "nope": true, "nah": true,
		"ok": true, "okay": true, "k": true, "fine": true, "done": true,
		"correct": true, "confirm": true, "right": true, "wrong": true,
	}
	exitPhrases = map[string]bool{
		"exit": true, "quit": true, "cancel": true, "stop": true, "menu": true,
		"main menu": true, "back to menu": true, "back to main menu": true,
	}
	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "hii": true, "start": true,
		"good morning": true, "good afternoon": true, "good evening": true, "namaste": true,
	}
	carKeywords = []string{
		"car", "vehicle", "automobile", "suv", "sedan", "hatchback", "engine", "brake",
		"tyre", "tire", "battery", "mileage", "fuel", "petrol", "diesel", "cng", "electric",
		"insurance", "registration", "license", "driving", "test drive", "price", "cost",
		"buy", "sell", "loan", "finance", "emi", "warranty", "service", "repair",
	}

	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(msg string) string {
	s := strings.ToLower(msg)
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// containsPhrase matches phrase on word boundaries inside an already normalized message.
func containsPhrase(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	padded := " " + normalized + " "
	return strings.Contains(padded, " "+phrase+" ")
}

func containsAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(normalized, p) {
			return true
		}
	}
	return false
}
