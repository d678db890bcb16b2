package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// InMemoryStore serves the inventory, bookings and dedup records from memory. It is used
// when no database is configured; nothing survives a restart.
type InMemoryStore struct {
	mu         sync.RWMutex
	cars       []models.Car
	testDrives []models.TestDriveBooking
	services   []models.ServiceBooking
	requests   map[string]int64
	inbound    map[string]time.Time
	nextID     int64
	now        func() time.Time
}

// NewInMemoryStore creates a store over a copy of cars. Cars without an id are numbered.
func NewInMemoryStore(cars []models.Car) *InMemoryStore {
	s := &InMemoryStore{
		requests: make(map[string]int64),
		inbound:  make(map[string]time.Time),
		now:      time.Now,
	}
	for i, c := range cars {
		if c.ID == 0 {
			c.ID = int64(i + 1)
		}
		if c.Status == "" {
			c.Status = models.CarStatusAvailable
		}
		s.cars = append(s.cars, c)
	}
	slog.Debug("NewInMemoryStore: created", "cars", len(s.cars))
	return s
}

func (s *InMemoryStore) distinct(pick func(models.Car) string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, c := range s.cars {
		if c.Status != models.CarStatusAvailable {
			continue
		}
		if v := pick(c); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// AvailableBrands lists the brands of available cars.
func (s *InMemoryStore) AvailableBrands(ctx context.Context) ([]string, error) {
	return s.distinct(func(c models.Car) string { return c.Brand }), nil
}

// AvailableCarTypes lists the body types of available cars.
func (s *InMemoryStore) AvailableCarTypes(ctx context.Context) ([]string, error) {
	return s.distinct(func(c models.Car) string { return c.Type }), nil
}

// AvailableFuelTypes lists the fuel types of available cars.
func (s *InMemoryStore) AvailableFuelTypes(ctx context.Context) ([]string, error) {
	return s.distinct(func(c models.Car) string { return c.FuelType }), nil
}

// SearchCars returns available cars matching q, cheapest first.
func (s *InMemoryStore) SearchCars(ctx context.Context, q models.CarQuery) ([]models.Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Car
	for _, c := range s.cars {
		switch {
		case c.Status != models.CarStatusAvailable:
		case q.Brand != "" && !strings.EqualFold(c.Brand, q.Brand):
		case q.Type != "" && !strings.EqualFold(c.Type, q.Type):
		case q.MinPrice > 0 && c.Price < q.MinPrice:
		case q.MaxPrice > 0 && c.Price > q.MaxPrice:
		default:
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCar returns a car by id, or nil when it does not exist.
func (s *InMemoryStore) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cars {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

// book returns the id for requestID, allocating one when it is new.
func (s *InMemoryStore) book(requestID string) (int64, bool) {
	if id, ok := s.requests[requestID]; ok {
		return id, false
	}
	s.nextID++
	s.requests[requestID] = s.nextID
	return s.nextID, true
}

// CreateTestDriveBooking stores a booking. A repeated RequestID returns the existing id.
func (s *InMemoryStore) CreateTestDriveBooking(ctx context.Context, b models.TestDriveBooking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, created := s.book("td:" + b.RequestID)
	if created {
		b.ID, b.CreatedAt = id, s.now()
		if b.Status == "" {
			b.Status = models.BookingStatusPending
		}
		s.testDrives = append(s.testDrives, b)
		slog.Info("InMemoryStore.CreateTestDriveBooking: booked", "id", id, "car", b.CarName)
	}
	return id, nil
}

// CreateServiceBooking stores a booking. A repeated RequestID returns the existing id.
func (s *InMemoryStore) CreateServiceBooking(ctx context.Context, b models.ServiceBooking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, created := s.book("svc:" + b.RequestID)
	if created {
		b.ID, b.CreatedAt = id, s.now()
		if b.Status == "" {
			b.Status = models.BookingStatusPending
		}
		s.services = append(s.services, b)
		slog.Info("InMemoryStore.CreateServiceBooking: booked", "id", id, "service_type", b.ServiceType)
	}
	return id, nil
}

// Bookings returns copies of the stored bookings.
func (s *InMemoryStore) Bookings() ([]models.TestDriveBooking, []models.ServiceBooking) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.testDrives), slices.Clone(s.services)
}

// RecordInbound reports whether messageID is new.
func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = s.now()
	return true, nil
}

// MarkProcessed is a no-op; the in-memory record only tracks arrival.
func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	return nil
}

// PruneInbound drops dedup records received before cutoff.
func (s *InMemoryStore) PruneInbound(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.inbound {
		if at.Before(before) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}
