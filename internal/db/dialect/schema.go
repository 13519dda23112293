package dialect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ColumnExists reports whether a table already has the given column, for
// guarding idempotent ALTER TABLE migrations.
//
//	SQLite:   PRAGMA table_info
//	Postgres: information_schema.columns
func ColumnExists(ctx context.Context, db *sqlx.DB, table, column string) (bool, error) {
	if IsPostgres(db.DriverName()) {
		var one int
		err := db.QueryRowContext(ctx, db.Rebind(
			`SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
		), table, column).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("column probe failed: %w", err)
		}
		return true, nil
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("column probe failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
