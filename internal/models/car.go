package models

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Car is one vehicle in the dealership inventory.
type Car struct {
	ID                 int64   `json:"id"`
	Brand              string  `json:"brand"`
	Model              string  `json:"model"`
	Variant            string  `json:"variant,omitempty"`
	Type               string  `json:"type,omitempty"`
	Year               int     `json:"year,omitempty"`
	FuelType           string  `json:"fuel_type,omitempty"`
	Transmission       string  `json:"transmission,omitempty"`
	Mileage            int     `json:"mileage,omitempty"`
	Price              float64 `json:"price"`
	Color              string  `json:"color,omitempty"`
	EngineCC           int     `json:"engine_cc,omitempty"`
	PowerBHP           float64 `json:"power_bhp,omitempty"`
	Seats              int     `json:"seats,omitempty"`
	Description        string  `json:"description,omitempty"`
	RegistrationNumber string  `json:"registration_number,omitempty"`
	Status             string  `json:"status,omitempty"`
}

// CarStatusAvailable marks a car that can be searched and booked.
const CarStatusAvailable = "available"

// DisplayName returns "Brand Model Variant".
func (c Car) DisplayName() string {
	parts := []string{c.Brand, c.Model}
	if c.Variant != "" {
		parts = append(parts, c.Variant)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// PriceLakh returns the price expressed in lakh rupees.
func (c Car) PriceLakh() float64 {
	return c.Price / 100000
}

// CarQuery filters an inventory search. Zero values mean "no filter".
type CarQuery struct {
	Brand    string
	Type     string
	MinPrice float64
	MaxPrice float64
	Limit    int
}

// BookingStatusPending is the initial status of every booking.
const BookingStatusPending = "pending"

// Test drive locations.
const (
	LocationShowroom = "showroom"
	LocationHome     = "home"
)

// TestDriveBooking is a confirmed test drive request.
type TestDriveBooking struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"request_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	CarID         int64     `json:"vehicle_id"`
	CarName       string    `json:"car_name"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Location      string    `json:"location"`
	Address       string    `json:"address,omitempty"`
	HasLicense    bool      `json:"has_license"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ServiceBooking is a confirmed service appointment request.
type ServiceBooking struct {
	ID                 int64     `json:"id"`
	RequestID          string    `json:"request_id"`
	CustomerName       string    `json:"customer_name"`
	CustomerPhone      string    `json:"customer_phone"`
	VehicleMake        string    `json:"vehicle_make"`
	VehicleModel       string    `json:"vehicle_model"`
	VehicleYear        int       `json:"vehicle_year"`
	RegistrationNumber string    `json:"registration_number"`
	Service            string    `json:"service"`
	ServiceType        string    `json:"service_type"`
	Status             string    `json:"status"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Validate checks the fields every service booking needs.
func (b ServiceBooking) Validate() error {
	if b.RequestID == "" {
		return fmt.Errorf("service booking: request id is required")
	}
	if b.CustomerName == "" || b.CustomerPhone == "" {
		return fmt.Errorf("service booking: customer name and phone are required")
	}
	return nil
}

// Validate checks the fields every test drive booking needs.
func (b TestDriveBooking) Validate() error {
	if b.RequestID == "" {
		return fmt.Errorf("test drive booking: request id is required")
	}
	if b.CustomerName == "" || b.CustomerPhone == "" {
		return fmt.Errorf("test drive booking: customer name and phone are required")
	}
	return nil
}

// CarStore is the car/price database and booking collaborator.
type CarStore interface {
	AvailableBrands(ctx context.Context) ([]string, error)
	AvailableCarTypes(ctx context.Context) ([]string, error)
	AvailableFuelTypes(ctx context.Context) ([]string, error)
	SearchCars(ctx context.Context, q CarQuery) ([]Car, error)
	GetCar(ctx context.Context, id int64) (*Car, error)
	// CreateTestDriveBooking stores a booking. A repeated RequestID returns the existing id.
	CreateTestDriveBooking(ctx context.Context, b TestDriveBooking) (int64, error)
	// CreateServiceBooking stores a booking. A repeated RequestID returns the existing id.
	CreateServiceBooking(ctx context.Context, b ServiceBooking) (int64, error)
}
