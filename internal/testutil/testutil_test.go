package testutil

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

type mockReporter struct {
	failed bool
}

func (m *mockReporter) Helper() {}

func (m *mockReporter) Errorf(format string, args ...any) { m.failed = true }

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200},
		{name: "mismatched status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockReporter{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if mockT.failed != tt.shouldFail {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, mockT.failed)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":"done"}`)
	resp := AssertJSONResponse(t, rr, "ok")
	if resp["result"] != "done" {
		t.Errorf("expected result 'done', got %v", resp["result"])
	}
}

func TestFakeCarStore_SearchFilters(t *testing.T) {
	s := NewFakeCarStore()
	ctx := context.Background()

	cars, err := s.SearchCars(ctx, models.CarQuery{Brand: "honda", Type: "Sedan", MinPrice: 500000, MaxPrice: 1000000, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cars) != 2 {
		t.Fatalf("expected 2 Honda sedans, got %d", len(cars))
	}
	if s.SearchCalls != 1 {
		t.Errorf("expected 1 search call, got %d", s.SearchCalls)
	}

	brands, _ := s.AvailableBrands(ctx)
	if len(brands) != 3 || brands[0] != "Honda" {
		t.Errorf("unexpected brands: %v", brands)
	}
}

func TestFakeCarStore_BookingIdempotent(t *testing.T) {
	s := NewFakeCarStore()
	ctx := context.Background()
	b := models.ServiceBooking{RequestID: "req-1", CustomerName: "Asha", CustomerPhone: "9876543210"}

	id1, err := s.CreateServiceBooking(ctx, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, _ := s.CreateServiceBooking(ctx, b)
	if id1 != id2 {
		t.Errorf("expected same id for repeated request, got %d and %d", id1, id2)
	}
	if len(s.Services) != 1 {
		t.Errorf("expected 1 stored booking, got %d", len(s.Services))
	}
}

func TestMapExtractor(t *testing.T) {
	e := &MapExtractor{Fields: map[string]models.Data{"Honda": {models.DataKeyBrand: "Honda"}}}
	a, err := e.Analyze(context.Background(), models.AnalysisRequest{Message: "Honda"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Fields.String(models.DataKeyBrand) != "Honda" {
		t.Errorf("expected brand Honda, got %v", a.Fields)
	}
	a, _ = e.Analyze(context.Background(), models.AnalysisRequest{Message: "unknown"})
	if len(a.Fields) != 0 {
		t.Errorf("expected no fields, got %v", a.Fields)
	}
	if len(e.Requests) != 2 {
		t.Errorf("expected 2 recorded requests, got %d", len(e.Requests))
	}
}
