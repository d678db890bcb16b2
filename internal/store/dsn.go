package store

import "strings"

// Database driver names understood by database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DetectDSNType returns the driver for a connection string: DriverPostgres for URLs
// with a postgres scheme or libpq key=value strings, DriverSQLite for anything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	if strings.HasPrefix(lower, "file:") {
		return DriverSQLite
	}
	for _, key := range []string{"host=", "user=", "dbname=", "password=", "sslmode="} {
		if strings.Contains(lower, key) {
			return DriverPostgres
		}
	}
	return DriverSQLite
}
