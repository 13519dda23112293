// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt converts a boolean to an integer for SQL storage.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Real returns the column type for floating-point epoch timestamps.
//
//	SQLite:   REAL
//	Postgres: DOUBLE PRECISION
func Real(driver string) string {
	if IsPostgres(driver) {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

// Greatest returns the scalar greatest-of function name.
//
//	SQLite:   MAX (multi-argument form)
//	Postgres: GREATEST
func Greatest(driver string) string {
	if IsPostgres(driver) {
		return "GREATEST"
	}
	return "MAX"
}
