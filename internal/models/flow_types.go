// Package models defines flow type definitions to avoid circular imports.
package models

// FlowName identifies which state machine owns a user's input.
type FlowName string

// StepName identifies a position within a flow's fixed sequence.
type StepName string

// DataKey represents a key for storing flow-specific data on a conversation record.
type DataKey string

// Flow name constants.
const (
	FlowNone           FlowName = ""
	FlowBrowseCar      FlowName = "browse_car"
	FlowValuation      FlowName = "valuation"
	FlowEMI            FlowName = "emi"
	FlowServiceBooking FlowName = "service_booking"
)

// KnownFlows lists every flow in switch priority order.
var KnownFlows = []FlowName{FlowServiceBooking, FlowEMI, FlowValuation, FlowBrowseCar}

// IsKnownFlow reports whether f names one of the four flows.
func IsKnownFlow(f FlowName) bool {
	for _, k := range KnownFlows {
		if k == f {
			return true
		}
	}
	return false
}

// Browse-Car steps.
const (
	StepCollectingCriteria StepName = "collecting_criteria"
	StepShowingCars        StepName = "showing_cars"
	StepCarSelected        StepName = "car_selected"
	StepTestDriveDate      StepName = "test_drive_date"
	StepTestDriveTime      StepName = "test_drive_time"
	StepTestDriveName      StepName = "test_drive_name"
	StepTestDrivePhone     StepName = "test_drive_phone"
	StepTestDriveDL        StepName = "test_drive_dl"
	StepTestDriveLocation  StepName = "test_drive_location"
	StepTestDriveAddress   StepName = "test_drive_address"
	StepTestDriveConfirm   StepName = "test_drive_confirm"
)

// Valuation steps.
const (
	StepCollectingInfo   StepName = "collecting_info"
	StepShowingValuation StepName = "showing_valuation"
)

// EMI steps.
const (
	StepSelectingCar    StepName = "selecting_car"
	StepDownPayment     StepName = "down_payment"
	StepSelectingTenure StepName = "selecting_tenure"
	StepShowingEMI      StepName = "showing_emi"
)

// Service-Booking steps.
const (
	StepShowingServices           StepName = "showing_services"
	StepCollectingVehicleDetails  StepName = "collecting_vehicle_details"
	StepCollectingServiceType     StepName = "collecting_service_type"
	StepCollectingCustomerDetails StepName = "collecting_customer_details"
)

// Shared data keys.
const (
	DataKeyPending              DataKey = "pending"
	DataKeyAwaitingConfirmation DataKey = "awaiting_confirmation"
	DataKeyClarification        DataKey = "clarification_question"
	DataKeyBookingRequestID     DataKey = "booking_request_id"
	DataKeySelectedCar          DataKey = "selected_car"
	DataKeyEditing              DataKey = "editing"
)

// Browse-Car data keys.
const (
	DataKeyBrand             DataKey = "brand"
	DataKeyBudgetMin         DataKey = "budget_min"
	DataKeyBudgetMax         DataKey = "budget_max"
	DataKeyBudget            DataKey = "budget"
	DataKeyCarType           DataKey = "car_type"
	DataKeyShownCars         DataKey = "shown_cars"
	DataKeyNoResults         DataKey = "no_results"
	DataKeyTestDriveDate     DataKey = "test_drive_date"
	DataKeyTestDriveTime     DataKey = "test_drive_time"
	DataKeyTestDriveName     DataKey = "test_drive_name"
	DataKeyTestDrivePhone    DataKey = "test_drive_phone"
	DataKeyTestDriveHasDL    DataKey = "test_drive_has_dl"
	DataKeyTestDriveLocation DataKey = "test_drive_location"
	DataKeyTestDriveAddress  DataKey = "test_drive_address"
)

// Valuation data keys.
const (
	DataKeyModel     DataKey = "model"
	DataKeyYear      DataKey = "year"
	DataKeyFuelType  DataKey = "fuel_type"
	DataKeyCondition DataKey = "condition"
	DataKeyValuation DataKey = "valuation"
)

// EMI data keys.
const (
	DataKeyCarPrice    DataKey = "car_price"
	DataKeyDownPayment DataKey = "down_payment"
	DataKeyTenure      DataKey = "tenure_months"
	DataKeyEMI         DataKey = "emi_result"
)

// Service-Booking data keys.
const (
	DataKeyService       DataKey = "service"
	DataKeyMake          DataKey = "make"
	DataKeyRegistration  DataKey = "registration_number"
	DataKeyServiceType   DataKey = "service_type"
	DataKeyCustomerName  DataKey = "customer_name"
	DataKeyCustomerPhone DataKey = "customer_phone"
)
