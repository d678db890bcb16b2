package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

func TestInMemoryStore_Search(t *testing.T) {
	s := NewInMemoryStore(SampleInventory)
	ctx := context.Background()

	cars, err := s.SearchCars(ctx, models.CarQuery{Type: "suv", MaxPrice: 1000000})
	if err != nil {
		t.Fatalf("SearchCars failed: %v", err)
	}
	if len(cars) != 1 || cars[0].Model != "Nexon" {
		t.Errorf("expected only the Nexon, got %+v", cars)
	}

	all, _ := s.SearchCars(ctx, models.CarQuery{})
	if len(all) != DefaultSearchLimit {
		t.Errorf("expected default limit %d, got %d", DefaultSearchLimit, len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Price > all[i].Price {
			t.Fatalf("results not sorted by price: %+v", all)
		}
	}

	car, _ := s.GetCar(ctx, all[0].ID)
	if car == nil || car.ID != all[0].ID {
		t.Errorf("GetCar returned %+v", car)
	}
	if car, _ := s.GetCar(ctx, 999); car != nil {
		t.Errorf("expected nil for unknown id, got %+v", car)
	}

	types, _ := s.AvailableCarTypes(ctx)
	if len(types) != 4 || types[0] != "Hatchback" {
		t.Errorf("unexpected car types %v", types)
	}
}

func TestInMemoryStore_SkipsUnavailableCars(t *testing.T) {
	s := NewInMemoryStore([]models.Car{
		{Brand: "Kia", Model: "Seltos", Price: 1200000, Status: "sold"},
		{Brand: "Honda", Model: "Jazz", Price: 550000},
	})
	brands, _ := s.AvailableBrands(context.Background())
	if len(brands) != 1 || brands[0] != "Honda" {
		t.Errorf("expected only Honda, got %v", brands)
	}
}

func TestInMemoryStore_Bookings(t *testing.T) {
	s := NewInMemoryStore(nil)
	ctx := context.Background()

	td := models.TestDriveBooking{RequestID: "r1", CustomerName: "Ravi", CustomerPhone: "9123456780", CarID: 1}
	svc := models.ServiceBooking{RequestID: "r1", CustomerName: "Ravi", CustomerPhone: "9123456780"}
	a, _ := s.CreateTestDriveBooking(ctx, td)
	b, _ := s.CreateServiceBooking(ctx, svc)
	if a == b {
		t.Error("test drive and service bookings with the same request id must not collide")
	}
	if again, _ := s.CreateServiceBooking(ctx, svc); again != b {
		t.Errorf("expected idempotent booking id %d, got %d", b, again)
	}
	drives, services := s.Bookings()
	if len(drives) != 1 || len(services) != 1 || services[0].Status != models.BookingStatusPending {
		t.Errorf("unexpected bookings %+v %+v", drives, services)
	}
	if _, err := s.CreateTestDriveBooking(ctx, models.TestDriveBooking{}); !errors.Is(err, models.ErrBookingStore) {
		t.Errorf("expected ErrBookingStore, got %v", err)
	}
}

func TestInMemoryStore_Dedup(t *testing.T) {
	s := NewInMemoryStore(nil)
	now := time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if fresh, _ := s.RecordInbound(ctx, "m1", "u1"); !fresh {
		t.Error("expected first message to be new")
	}
	if fresh, _ := s.RecordInbound(ctx, "m1", "u1"); fresh {
		t.Error("expected duplicate")
	}

	now = now.Add(2 * time.Hour)
	if n, err := s.PruneInbound(ctx, now.Add(-time.Hour)); err != nil || n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}
	if fresh, _ := s.RecordInbound(ctx, "m1", "u1"); !fresh {
		t.Error("expected message to be new after pruning")
	}
}
