package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// DefaultFuelTypes is used when the inventory lists no fuel types.
var DefaultFuelTypes = []string{"Petrol", "Diesel", "Electric", "CNG", "Hybrid"}

// ServiceTypes is the fixed service-type menu, in option order.
var ServiceTypes = []string{"Regular Service", "Major Service", "Accident Repair", "Insurance Claim", "Other"}

// ReferenceCache holds the read-mostly reference lists (brands, car types, fuel types)
// loaded lazily from the car store. Concurrent misses share one load. Load errors are
// never cached.
type ReferenceCache struct {
	cars  models.CarStore
	mu    sync.RWMutex
	lists map[string][]string
	group singleflight.Group
}

// NewReferenceCache creates an empty cache over cars.
func NewReferenceCache(cars models.CarStore) *ReferenceCache {
	return &ReferenceCache{cars: cars, lists: make(map[string][]string)}
}

// Get returns the named list, loading it on a miss.
func (c *ReferenceCache) Get(ctx context.Context, name string) ([]string, error) {
	if name == models.RefServices {
		return append([]string(nil), ServiceTypes...), nil
	}
	c.mu.RLock()
	list, ok := c.lists[name]
	c.mu.RUnlock()
	if ok {
		return list, nil
	}

	v, err, shared := c.group.Do(name, func() (any, error) {
		loaded, err := c.load(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lists[name] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("ReferenceCache.Get: loaded", "list", name, "shared", shared)
	return v.([]string), nil
}

// List is Get with errors logged and mapped to the list's fallback.
func (c *ReferenceCache) List(ctx context.Context, name string) []string {
	list, err := c.Get(ctx, name)
	if err != nil {
		slog.Warn("ReferenceCache.List: load failed", "list", name, "error", err)
		if name == models.RefFuelTypes {
			return append([]string(nil), DefaultFuelTypes...)
		}
		return nil
	}
	return list
}

// Brands returns the available brands.
func (c *ReferenceCache) Brands(ctx context.Context) []string { return c.List(ctx, models.RefBrands) }

// CarTypes returns the available car types.
func (c *ReferenceCache) CarTypes(ctx context.Context) []string {
	return c.List(ctx, models.RefCarTypes)
}

// FuelTypes returns the available fuel types.
func (c *ReferenceCache) FuelTypes(ctx context.Context) []string {
	return c.List(ctx, models.RefFuelTypes)
}

// Invalidate drops every cached list so the next read reloads from the store.
func (c *ReferenceCache) Invalidate() {
	c.mu.Lock()
	c.lists = make(map[string][]string)
	c.mu.Unlock()
	slog.Info("ReferenceCache.Invalidate: reference lists cleared")
}

func (c *ReferenceCache) load(ctx context.Context, name string) ([]string, error) {
	if c.cars == nil {
		return nil, fmt.Errorf("reference list %s: no car store configured", name)
	}
	var (
		list []string
		err  error
	)
	switch name {
	case models.RefBrands:
		list, err = c.cars.AvailableBrands(ctx)
	case models.RefCarTypes:
		list, err = c.cars.AvailableCarTypes(ctx)
	case models.RefFuelTypes:
		list, err = c.cars.AvailableFuelTypes(ctx)
		if err == nil && len(list) == 0 {
			list = append([]string(nil), DefaultFuelTypes...)
		}
	default:
		return nil, fmt.Errorf("unknown reference list %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load reference list %s: %w", name, err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
