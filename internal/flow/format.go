package flow

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

var rupeePrinter = message.NewPrinter(language.MustParse("en-IN"))

// Rupees formats an amount as "₹12,34,567".
func Rupees(v float64) string {
	return rupeePrinter.Sprintf("₹%.0f", v)
}

// Lakh formats an amount in lakh with two decimals.
func Lakh(v float64) string {
	return fmt.Sprintf("%.2f Lakh", v/lakh)
}

// MainMenuMessage lists what the bot can do.
const MainMenuMessage = "Sure! How can I help you today? 😊\n\n" +
	"You can:\n" +
	"• Browse used cars\n" +
	"• Get car valuation\n" +
	"• Calculate EMI\n" +
	"• Book a service\n\n" +
	"What would you like to do?"

// WelcomeMessage greets a user with no active flow.
const WelcomeMessage = "Hello! 👋 Welcome to CarSherpa, your used-car assistant. 🚗\n\n" +
	"I can help you:\n" +
	"• Browse used cars\n" +
	"• Get car valuation\n" +
	"• Calculate EMI\n" +
	"• Book a service\n\n" +
	"What would you like to do?"

// fieldQuestion is the plain re-ask for a single field.
func fieldQuestion(field models.DataKey) string {
	switch field {
	case models.DataKeyBrand:
		return "Which brand are you interested in?"
	case models.DataKeyBudget, models.DataKeyBudgetMin, models.DataKeyBudgetMax:
		return "What's your budget range? (e.g., '5-10 lakh', 'under 8 lakh')"
	case models.DataKeyCarType:
		return "What type of car are you looking for? (e.g., Hatchback, Sedan, SUV)"
	case models.DataKeyModel:
		return "What's the model of your car?"
	case models.DataKeyYear:
		return "What year was it manufactured?"
	case models.DataKeyFuelType:
		return "What's the fuel type? (Petrol, Diesel, Electric, CNG, or Hybrid)"
	case models.DataKeyCondition:
		return "How would you describe the condition? (Excellent, Very Good, Good, Average, Fair, or Poor)"
	case models.DataKeyCarPrice:
		return "What's the price of the car? (e.g., '8 lakh' or '800000')"
	case models.DataKeyDownPayment:
		return "What's your down payment amount? (e.g., '2 lakh' or '200000')"
	case models.DataKeyTenure:
		return "Which tenure would you like? (12, 24, 36, 48, 60, or 72 months)"
	case models.DataKeyMake:
		return "Which brand/make is your car?"
	case models.DataKeyRegistration:
		return "What's the registration number of your car? (e.g., KA01AB1234)"
	case models.DataKeyServiceType:
		return "What type of service do you need? (Regular Service, Major Service, Accident Repair, Insurance Claim, or Other)"
	case models.DataKeyCustomerName, models.DataKeyTestDriveName:
		return "Could you please share your name?"
	case models.DataKeyCustomerPhone, models.DataKeyTestDrivePhone:
		return "Could you please share your phone number?"
	case models.DataKeyTestDriveDate:
		return "When would you like to schedule the test drive? Please provide a date (e.g., 'Today', 'Tomorrow', 'Friday', '15th January')."
	case models.DataKeyTestDriveTime:
		return "What time would you prefer? (e.g., '5 pm', '2:30', 'morning', 'afternoon')"
	case models.DataKeyTestDriveHasDL:
		return "Do you have a valid driving license? (Yes/No)"
	case models.DataKeyTestDriveLocation:
		return "Where would you prefer the test drive?\n\n1️⃣ Showroom visit\n2️⃣ Home pickup"
	case models.DataKeyTestDriveAddress:
		return "Please provide your complete address for the home pickup."
	}
	return "Could you please provide the correct information?"
}

// describePending renders tentative values as "brand: Honda, car type: Sedan."
func describePending(pending models.Data) string {
	if len(pending) == 0 {
		return "Could you confirm what you meant?"
	}
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := strings.ReplaceAll(k, "_", " ")
		parts = append(parts, fmt.Sprintf("%s: %s", label, pending.String(models.DataKey(k))))
	}
	return "I have " + strings.Join(parts, ", ") + "."
}

// examples renders up to n entries as "(e.g., A, B, C)", or "" for an empty list.
func examples(list []string, n int) string {
	if len(list) == 0 {
		return ""
	}
	if len(list) > n {
		list = list[:n]
	}
	return " (e.g., " + strings.Join(list, ", ") + ")"
}

// oxford joins items as "A, B, or C".
func oxford(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}

func formatCarList(cars []models.Car) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Great! I found %d car(s) for you:\n\n", len(cars))
	for i, c := range cars {
		year := ""
		if c.Year > 0 {
			year = fmt.Sprintf(" (%d)", c.Year)
		}
		fmt.Fprintf(&b, "*%d. %s%s*\n", i+1, c.DisplayName(), year)
		fmt.Fprintf(&b, "   💰 Price: ₹%.2f Lakh\n", c.PriceLakh())
		if c.Type != "" {
			fmt.Fprintf(&b, "   🚗 Type: %s\n", c.Type)
		}
		if c.FuelType != "" {
			fmt.Fprintf(&b, "   ⛽ Fuel: %s\n", c.FuelType)
		}
		if c.Transmission != "" {
			fmt.Fprintf(&b, "   🔧 Transmission: %s\n", c.Transmission)
		}
		if c.Mileage > 0 {
			b.WriteString(rupeePrinter.Sprintf("   📊 Mileage: %d km\n", c.Mileage))
		}
		if c.RegistrationNumber != "" {
			fmt.Fprintf(&b, "   🆔 Reg: %s\n", c.RegistrationNumber)
		}
		b.WriteString("\n")
	}
	b.WriteString("Please reply with the *number* of the car you're interested in, or type 'change' to modify your search criteria.")
	return b.String()
}

// carTitle renders "Brand Model Variant (Year)".
func carTitle(c models.Car) string {
	if c.Year > 0 {
		return fmt.Sprintf("%s (%d)", c.DisplayName(), c.Year)
	}
	return c.DisplayName()
}
