package genai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

const assistantPersona = "You are the WhatsApp assistant of a used-car dealership in India. " +
	"Customers browse cars, get their car valued, calculate loan EMIs and book services."

// fieldHints describes each extractable key to the model.
var fieldHints = map[models.DataKey]string{
	models.DataKeyBrand:             "car brand, from the brands list when possible",
	models.DataKeyBudgetMin:         "minimum budget in rupees (number)",
	models.DataKeyBudgetMax:         "maximum budget in rupees (number); '10 lakh' is 1000000",
	models.DataKeyCarType:           "body type, from the car_types list",
	models.DataKeyModel:             "car model name without the brand",
	models.DataKeyYear:              "manufacturing year (4-digit number)",
	models.DataKeyFuelType:          "fuel type, from the fuel_types list",
	models.DataKeyCondition:         "one of: Excellent, Very Good, Good, Fair, Poor",
	models.DataKeyCarPrice:          "car price in rupees (number)",
	models.DataKeyDownPayment:       "down payment in rupees (number)",
	models.DataKeyTenure:            "loan tenure in months (number)",
	models.DataKeyMake:              "vehicle make/brand",
	models.DataKeyRegistration:      "vehicle registration number such as KA01AB1234",
	models.DataKeyServiceType:       "one of the service_types list, or the customer's own words",
	models.DataKeyCustomerName:      "customer's full name",
	models.DataKeyCustomerPhone:     "customer's 10-digit mobile number",
	models.DataKeyTestDriveDate:     "preferred test drive date as the customer said it",
	models.DataKeyTestDriveTime:     "preferred test drive time as the customer said it",
	models.DataKeyTestDriveName:     "customer's full name",
	models.DataKeyTestDrivePhone:    "customer's 10-digit mobile number",
	models.DataKeyTestDriveHasDL:    "whether the customer has a driving license (true/false)",
	models.DataKeyTestDriveLocation: "showroom or home",
	models.DataKeyTestDriveAddress:  "address for a home test drive",
}

func analysisSystemPrompt(req models.AnalysisRequest) string {
	var b strings.Builder
	b.WriteString(assistantPersona)
	b.WriteString("\n\nExtract structured information from the customer's latest message. ")
	b.WriteString("Only extract values the customer actually stated; never guess. ")
	b.WriteString("Amounts are in Indian rupees; convert lakh and crore to plain numbers.\n\n")
	fmt.Fprintf(&b, "Current flow: %s\nCurrent step: %s\n\n", orNone(string(req.Flow)), orNone(string(req.Step)))

	b.WriteString("Fields you may extract:\n")
	for _, f := range req.Fields {
		hint := fieldHints[f]
		if hint == "" {
			hint = "free text"
		}
		fmt.Fprintf(&b, "- %s: %s\n", f, hint)
	}

	if len(req.References) > 0 {
		b.WriteString("\nReference lists:\n")
		names := make([]string, 0, len(req.References))
		for name := range req.References {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(req.References[name], ", "))
		}
	}

	b.WriteString("\nRespond with a single JSON object:\n")
	b.WriteString(`{"fields": {<field>: <value>}, "confidence": <0-1>, "needs_clarification": <bool>, "clarification_question": "<text or empty>", "user_intent": "<short label>"}`)
	return b.String()
}

func analysisUserPrompt(req models.AnalysisRequest) string {
	var b strings.Builder
	if len(req.Data) > 0 {
		if data, err := json.Marshal(req.Data); err == nil {
			fmt.Fprintf(&b, "Already collected: %s\n", data)
		}
	}
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "Customer message: %s", req.Message)
	return b.String()
}

func generationSystemPrompt(req models.GenerationRequest) string {
	var b strings.Builder
	b.WriteString(assistantPersona)
	b.WriteString("\n\nWrite the next WhatsApp reply. Keep it short and friendly. ")
	if req.Flow != models.FlowNone {
		b.WriteString("Rephrase the draft reply naturally for the customer's message. ")
		b.WriteString("Keep every question, number, price and numbered option from the draft exactly. ")
		b.WriteString("Do not add new facts or offers.")
		return b.String()
	}
	if req.CarRelated {
		b.WriteString("The customer asked a car-related question outside the guided flows. ")
		b.WriteString("Answer helpfully in a few sentences and mention you can help them browse cars, value a car, calculate EMI or book a service.")
	} else {
		b.WriteString("The customer's message is not about cars. Politely steer them back to car-related help without answering the off-topic request.")
	}
	return b.String()
}

func generationUserPrompt(req models.GenerationRequest) string {
	var b strings.Builder
	if req.Flow != models.FlowNone {
		fmt.Fprintf(&b, "Flow: %s, step: %s\n", req.Flow, req.Step)
	}
	if req.Analysis != nil && req.Analysis.UserIntent != "" {
		fmt.Fprintf(&b, "Detected intent: %s\n", req.Analysis.UserIntent)
	}
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "Customer message: %s\n", req.Message)
	if req.Fallback != "" {
		fmt.Fprintf(&b, "Draft reply:\n%s", req.Fallback)
	}
	return b.String()
}

const intentSystemPrompt = assistantPersona + "\n\n" +
	"Classify the customer's message. Use one of these intents: browse_car, car_valuation, " +
	"emi_calculation, service_booking, greeting, car_question, general_question.\n" +
	`Respond with a single JSON object: {"intent": "<intent>", "summary": "<one line>", ` +
	`"confidence": <0-1>, "entities": {<name>: <value>}}`

func intentUserPrompt(message string, flow models.FlowName, step models.StepName) string {
	if flow == models.FlowNone {
		return "Customer message: " + message
	}
	return fmt.Sprintf("The customer is in the %s flow at step %s.\nCustomer message: %s", flow, step, message)
}

func writeHistory(b *strings.Builder, history []models.Exchange) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Recent conversation:\n")
	for _, h := range history {
		fmt.Fprintf(b, "Customer: %s\nAssistant: %s\n", h.User, h.Bot)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
