package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// SampleCars is a small inventory used across tests.
var SampleCars = []models.Car{
	{ID: 1, Brand: "Honda", Model: "City", Variant: "VX", Type: "Sedan", Year: 2020, FuelType: "Petrol", Transmission: "Manual", Mileage: 32000, Price: 850000, Status: models.CarStatusAvailable},
	{ID: 2, Brand: "Honda", Model: "Amaze", Type: "Sedan", Year: 2019, FuelType: "Diesel", Transmission: "Manual", Mileage: 45000, Price: 620000, Status: models.CarStatusAvailable},
	{ID: 3, Brand: "Honda", Model: "WR-V", Type: "SUV", Year: 2021, FuelType: "Petrol", Transmission: "Automatic", Mileage: 18000, Price: 980000, Status: models.CarStatusAvailable},
	{ID: 4, Brand: "Hyundai", Model: "Creta", Type: "SUV", Year: 2022, FuelType: "Diesel", Transmission: "Automatic", Mileage: 12000, Price: 1450000, Status: models.CarStatusAvailable},
	{ID: 5, Brand: "Maruti Suzuki", Model: "Swift", Type: "Hatchback", Year: 2018, FuelType: "Petrol", Transmission: "Manual", Mileage: 52000, Price: 480000, Status: models.CarStatusAvailable},
}

// ErrFake is returned by fakes configured to fail.
var ErrFake = errors.New("fake failure")

// FakeCarStore is an in-memory models.CarStore. Bookings are idempotent on RequestID.
type FakeCarStore struct {
	mu sync.Mutex

	Cars       []models.Car
	Brands     []string
	CarTypes   []string
	FuelTypes  []string
	ListErr    error
	SearchErr  error
	BookingErr error

	BrandCalls  int
	SearchCalls int
	Queries     []models.CarQuery
	TestDrives  []models.TestDriveBooking
	Services    []models.ServiceBooking
	requests    map[string]int64
	nextBooking int64
}

// NewFakeCarStore returns a store over a copy of SampleCars.
func NewFakeCarStore() *FakeCarStore {
	return &FakeCarStore{Cars: append([]models.Car(nil), SampleCars...)}
}

func (f *FakeCarStore) distinct(pick func(models.Car) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range f.Cars {
		if v := pick(c); v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func (f *FakeCarStore) AvailableBrands(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BrandCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.Brands != nil {
		return f.Brands, nil
	}
	return f.distinct(func(c models.Car) string { return c.Brand }), nil
}

func (f *FakeCarStore) AvailableCarTypes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.CarTypes != nil {
		return f.CarTypes, nil
	}
	return f.distinct(func(c models.Car) string { return c.Type }), nil
}

func (f *FakeCarStore) AvailableFuelTypes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.FuelTypes != nil {
		return f.FuelTypes, nil
	}
	return f.distinct(func(c models.Car) string { return c.FuelType }), nil
}

func (f *FakeCarStore) SearchCars(ctx context.Context, q models.CarQuery) ([]models.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls++
	f.Queries = append(f.Queries, q)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var out []models.Car
	for _, c := range f.Cars {
		if q.Brand != "" && !strings.EqualFold(c.Brand, q.Brand) {
			continue
		}
		if q.Type != "" && !strings.EqualFold(c.Type, q.Type) {
			continue
		}
		if q.MinPrice > 0 && c.Price < q.MinPrice {
			continue
		}
		if q.MaxPrice > 0 && c.Price > q.MaxPrice {
			continue
		}
		out = append(out, c)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *FakeCarStore) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Cars {
		if c.ID == id {
			car := c
			return &car, nil
		}
	}
	return nil, nil
}

func (f *FakeCarStore) book(requestID string) (int64, bool) {
	if f.requests == nil {
		f.requests = map[string]int64{}
	}
	if id, ok := f.requests[requestID]; ok {
		return id, true
	}
	f.nextBooking++
	f.requests[requestID] = f.nextBooking
	return f.nextBooking, false
}

func (f *FakeCarStore) CreateTestDriveBooking(ctx context.Context, b models.TestDriveBooking) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BookingErr != nil {
		return 0, f.BookingErr
	}
	id, existed := f.book(b.RequestID)
	if !existed {
		b.ID = id
		f.TestDrives = append(f.TestDrives, b)
	}
	return id, nil
}

func (f *FakeCarStore) CreateServiceBooking(ctx context.Context, b models.ServiceBooking) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BookingErr != nil {
		return 0, f.BookingErr
	}
	id, existed := f.book(b.RequestID)
	if !existed {
		b.ID = id
		f.Services = append(f.Services, b)
	}
	return id, nil
}

// MapExtractor answers with the fields scripted for each exact message. Unknown messages
// yield an empty analysis.
type MapExtractor struct {
	mu       sync.Mutex
	Fields   map[string]models.Data
	Err      error
	Requests []models.AnalysisRequest
}

func (m *MapExtractor) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &models.Analysis{Fields: m.Fields[req.Message].Clone(), Confidence: 0.9}, nil
}

// ExtractorFunc adapts a function to models.Extractor.
type ExtractorFunc func(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error)

func (f ExtractorFunc) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
	return f(ctx, req)
}

// ClassifierFunc adapts a function to models.IntentClassifier.
type ClassifierFunc func(ctx context.Context, message string, flow models.FlowName, step models.StepName) (*models.Intent, error)

func (f ClassifierFunc) Classify(ctx context.Context, message string, flow models.FlowName, step models.StepName) (*models.Intent, error) {
	return f(ctx, message, flow, step)
}

// ResponderFunc adapts a function to models.Responder.
type ResponderFunc func(ctx context.Context, req models.GenerationRequest) (string, error)

func (f ResponderFunc) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	return f(ctx, req)
}
