package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// DefaultSearchLimit is used when a query does not set one.
const DefaultSearchLimit = 10

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

const carColumns = `SELECT id, brand, model, COALESCE(variant, ''), COALESCE(type, ''), COALESCE(year, 0),
	COALESCE(fuel_type, ''), COALESCE(transmission, ''), COALESCE(mileage, 0), price, COALESCE(color, ''),
	COALESCE(engine_cc, 0), COALESCE(power_bhp, 0), COALESCE(seats, 0), COALESCE(description, ''),
	COALESCE(registration_number, ''), status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCar(row rowScanner) (models.Car, error) {
	var c models.Car
	err := row.Scan(&c.ID, &c.Brand, &c.Model, &c.Variant, &c.Type, &c.Year,
		&c.FuelType, &c.Transmission, &c.Mileage, &c.Price, &c.Color,
		&c.EngineCC, &c.PowerBHP, &c.Seats, &c.Description,
		&c.RegistrationNumber, &c.Status)
	return c, err
}

func (s *sqlStore) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM cars WHERE status = ? AND %[1]s IS NOT NULL AND %[1]s <> '' ORDER BY %[1]s`, column)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), models.CarStatusAvailable)
	if err != nil {
		slog.Error("sqlStore.distinct: query failed", "dialect", s.dialect, "column", column, "error", err)
		return nil, fmt.Errorf("failed to list %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", column, err)
	}
	return out, nil
}

// AvailableBrands lists the brands of available cars.
func (s *sqlStore) AvailableBrands(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "brand")
}

// AvailableCarTypes lists the body types of available cars.
func (s *sqlStore) AvailableCarTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "type")
}

// AvailableFuelTypes lists the fuel types of available cars.
func (s *sqlStore) AvailableFuelTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "fuel_type")
}

// SearchCars returns available cars matching q, cheapest first.
func (s *sqlStore) SearchCars(ctx context.Context, q models.CarQuery) ([]models.Car, error) {
	query := carColumns + ` FROM cars WHERE status = ?`
	args := []any{models.CarStatusAvailable}
	if q.Brand != "" {
		query += ` AND LOWER(brand) = LOWER(?)`
		args = append(args, q.Brand)
	}
	if q.Type != "" {
		query += ` AND LOWER(type) = LOWER(?)`
		args = append(args, q.Type)
	}
	if q.MinPrice > 0 {
		query += ` AND price >= ?`
		args = append(args, q.MinPrice)
	}
	if q.MaxPrice > 0 {
		query += ` AND price <= ?`
		args = append(args, q.MaxPrice)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query += ` ORDER BY price ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		slog.Error("sqlStore.SearchCars: query failed", "dialect", s.dialect, "error", err)
		return nil, fmt.Errorf("failed to search cars: %w", err)
	}
	defer rows.Close()

	var cars []models.Car
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan car row: %w", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate car rows: %w", err)
	}
	slog.Debug("sqlStore.SearchCars: succeeded", "brand", q.Brand, "type", q.Type, "min", q.MinPrice, "max", q.MaxPrice, "count", len(cars))
	return cars, nil
}

// GetCar returns a car by id, or nil when it does not exist.
func (s *sqlStore) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(carColumns+` FROM cars WHERE id = ?`), id)
	c, err := scanCar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("sqlStore.GetCar: query failed", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get car %d: %w", id, err)
	}
	return &c, nil
}

// InsertCar adds a car to the inventory and returns its id.
func (s *sqlStore) InsertCar(ctx context.Context, c models.Car) (int64, error) {
	if c.Status == "" {
		c.Status = models.CarStatusAvailable
	}
	query := `INSERT INTO cars (brand, model, variant, type, year, fuel_type, transmission, mileage, price,
		color, engine_cc, power_bhp, seats, description, registration_number, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query),
		c.Brand, c.Model, nilIfEmpty(c.Variant), nilIfEmpty(c.Type), c.Year, nilIfEmpty(c.FuelType),
		nilIfEmpty(c.Transmission), c.Mileage, c.Price, nilIfEmpty(c.Color), c.EngineCC, c.PowerBHP,
		c.Seats, nilIfEmpty(c.Description), nilIfEmpty(c.RegistrationNumber), c.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert car %s: %w", c.DisplayName(), err)
	}
	return id, nil
}

// seedIfEmpty inserts cars when the inventory table has no rows.
func (s *sqlStore) seedIfEmpty(ctx context.Context, cars []models.Car) error {
	if len(cars) == 0 {
		return nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cars`).Scan(&n); err != nil {
		return fmt.Errorf("failed to count cars: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, c := range cars {
		if _, err := s.InsertCar(ctx, c); err != nil {
			return err
		}
	}
	slog.Info("sqlStore.seedIfEmpty: inventory seeded", "dialect", s.dialect, "count", len(cars))
	return nil
}

// CreateTestDriveBooking stores a booking. A repeated RequestID returns the existing id.
func (s *sqlStore) CreateTestDriveBooking(ctx context.Context, b models.TestDriveBooking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	if b.Status == "" {
		b.Status = models.BookingStatusPending
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO test_drive_bookings
		(request_id, customer_name, customer_phone, vehicle_id, car_name, preferred_date, preferred_time,
		 location, address, has_license, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`),
		b.RequestID, b.CustomerName, b.CustomerPhone, b.CarID, b.CarName, b.Date, b.Time,
		b.Location, nilIfEmpty(b.Address), b.HasLicense, b.Status, nilIfEmpty(b.Notes), now, now)
	if err != nil {
		slog.Error("sqlStore.CreateTestDriveBooking: insert failed", "request_id", b.RequestID, "error", err)
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	return s.bookingID(ctx, "test_drive_bookings", b.RequestID)
}

// CreateServiceBooking stores a booking. A repeated RequestID returns the existing id.
func (s *sqlStore) CreateServiceBooking(ctx context.Context, b models.ServiceBooking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	if b.Status == "" {
		b.Status = models.BookingStatusPending
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO service_bookings
		(request_id, customer_name, customer_phone, vehicle_make, vehicle_model, vehicle_year,
		 registration_number, service, service_type, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`),
		b.RequestID, b.CustomerName, b.CustomerPhone, b.VehicleMake, b.VehicleModel, b.VehicleYear,
		b.RegistrationNumber, b.Service, b.ServiceType, b.Status, nilIfEmpty(b.Notes), now, now)
	if err != nil {
		slog.Error("sqlStore.CreateServiceBooking: insert failed", "request_id", b.RequestID, "error", err)
		return 0, fmt.Errorf("%w: %w", models.ErrBookingStore, err)
	}
	return s.bookingID(ctx, "service_bookings", b.RequestID)
}

func (s *sqlStore) bookingID(ctx context.Context, table, requestID string) (int64, error) {
	var id int64
	query := s.dialect.rebind(`SELECT id FROM ` + table + ` WHERE request_id = ?`)
	if err := s.db.QueryRowContext(ctx, query, requestID).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: lookup %s: %w", models.ErrBookingStore, requestID, err)
	}
	slog.Debug("sqlStore.bookingID: booking stored", "table", table, "request_id", requestID, "id", id)
	return id, nil
}

// SaveConversation upserts a conversation snapshot.
func (s *sqlStore) SaveConversation(ctx context.Context, rec models.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation data for %s: %w", rec.UserID, err)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history for %s: %w", rec.UserID, err)
	}
	updated := rec.LastUpdated.UTC()
	if rec.LastUpdated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO conversations (user_id, flow, step, data, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET flow = excluded.flow, step = excluded.step,
		data = excluded.data, history = excluded.history, updated_at = excluded.updated_at`),
		rec.UserID, string(rec.Flow), string(rec.Step), string(data), string(history), updated)
	if err != nil {
		return fmt.Errorf("failed to save conversation for %s: %w", rec.UserID, err)
	}
	return nil
}

// DeleteConversation removes a conversation snapshot.
func (s *sqlStore) DeleteConversation(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM conversations WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", userID, err)
	}
	return nil
}

// LoadConversations returns snapshots updated at or after since.
func (s *sqlStore) LoadConversations(ctx context.Context, since time.Time) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT user_id, flow, step, data, history, updated_at
		FROM conversations WHERE updated_at >= ? ORDER BY updated_at`), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	defer rows.Close()

	var recs []models.Record
	for rows.Next() {
		var rec models.Record
		var flow, step, data, history string
		if err := rows.Scan(&rec.UserID, &flow, &step, &data, &history, &rec.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		rec.Flow = models.FlowName(flow)
		rec.Step = models.StepName(step)
		rec.Data = models.Data{}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
				slog.Warn("sqlStore.LoadConversations: skipping unreadable snapshot", "user", rec.UserID, "error", err)
				continue
			}
		}
		if history != "" && history != "null" {
			if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
				slog.Warn("sqlStore.LoadConversations: dropping unreadable history", "user", rec.UserID, "error", err)
				rec.History = nil
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return recs, nil
}

// RecordInbound inserts a dedup record and reports whether the message is new.
func (s *sqlStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, userID, s.now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed sets the processed_at timestamp for a message.
func (s *sqlStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`), s.now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// PruneInbound deletes dedup records received before cutoff.
func (s *sqlStore) PruneInbound(ctx context.Context, before time.Time) (int64, error) {
	return s.prune(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, before)
}

// PruneConversations deletes conversation snapshots last updated before cutoff.
func (s *sqlStore) PruneConversations(ctx context.Context, before time.Time) (int64, error) {
	return s.prune(ctx, `DELETE FROM conversations WHERE updated_at < ?`, before)
}

func (s *sqlStore) prune(ctx context.Context, query string, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected check failed: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("sqlStore.Close: closing database connection", "dialect", s.dialect)
	if err := s.db.Close(); err != nil {
		slog.Error("sqlStore.Close: failed to close database", "dialect", s.dialect, "error", err)
		return err
	}
	return nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
