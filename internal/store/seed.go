package store

import "github.com/BTreeMap/CarSherpa/internal/models"

// SampleInventory is a demo inventory for development databases and the in-memory store.
var SampleInventory = []models.Car{
	{Brand: "Maruti Suzuki", Model: "Swift", Variant: "VXI", Type: "Hatchback", Year: 2019, FuelType: "Petrol", Transmission: "Manual", Mileage: 38000, Price: 525000, Color: "Red", EngineCC: 1197, PowerBHP: 82, Seats: 5},
	{Brand: "Maruti Suzuki", Model: "Baleno", Variant: "Zeta", Type: "Hatchback", Year: 2020, FuelType: "Petrol", Transmission: "Automatic", Mileage: 29000, Price: 690000, Color: "Blue", EngineCC: 1197, PowerBHP: 89, Seats: 5},
	{Brand: "Maruti Suzuki", Model: "Ertiga", Variant: "VXI", Type: "MUV", Year: 2021, FuelType: "CNG", Transmission: "Manual", Mileage: 41000, Price: 945000, Color: "White", EngineCC: 1462, PowerBHP: 87, Seats: 7},
	{Brand: "Hyundai", Model: "i20", Variant: "Asta", Type: "Hatchback", Year: 2021, FuelType: "Petrol", Transmission: "Manual", Mileage: 22000, Price: 780000, Color: "Grey", EngineCC: 1197, PowerBHP: 82, Seats: 5},
	{Brand: "Hyundai", Model: "Verna", Variant: "SX", Type: "Sedan", Year: 2019, FuelType: "Diesel", Transmission: "Manual", Mileage: 56000, Price: 860000, Color: "Silver", EngineCC: 1493, PowerBHP: 113, Seats: 5},
	{Brand: "Hyundai", Model: "Creta", Variant: "SX(O)", Type: "SUV", Year: 2022, FuelType: "Diesel", Transmission: "Automatic", Mileage: 18000, Price: 1475000, Color: "White", EngineCC: 1493, PowerBHP: 113, Seats: 5},
	{Brand: "Honda", Model: "City", Variant: "VX", Type: "Sedan", Year: 2020, FuelType: "Petrol", Transmission: "Manual", Mileage: 32000, Price: 850000, Color: "White", EngineCC: 1498, PowerBHP: 119, Seats: 5},
	{Brand: "Honda", Model: "Amaze", Variant: "S", Type: "Sedan", Year: 2019, FuelType: "Diesel", Transmission: "Manual", Mileage: 45000, Price: 620000, Color: "Brown", EngineCC: 1498, PowerBHP: 99, Seats: 5},
	{Brand: "Tata", Model: "Nexon", Variant: "XZ+", Type: "SUV", Year: 2021, FuelType: "Petrol", Transmission: "Manual", Mileage: 27000, Price: 890000, Color: "Blue", EngineCC: 1199, PowerBHP: 118, Seats: 5},
	{Brand: "Tata", Model: "Nexon EV", Variant: "Max", Type: "SUV", Year: 2023, FuelType: "Electric", Transmission: "Automatic", Mileage: 9000, Price: 1525000, Color: "Teal", PowerBHP: 141, Seats: 5},
	{Brand: "Mahindra", Model: "XUV700", Variant: "AX5", Type: "SUV", Year: 2022, FuelType: "Diesel", Transmission: "Automatic", Mileage: 24000, Price: 1890000, Color: "Black", EngineCC: 2184, PowerBHP: 182, Seats: 7},
	{Brand: "Toyota", Model: "Innova Crysta", Variant: "GX", Type: "MUV", Year: 2018, FuelType: "Diesel", Transmission: "Manual", Mileage: 88000, Price: 1350000, Color: "Silver", EngineCC: 2393, PowerBHP: 148, Seats: 7},
}
