// Package db opens and pools the relational store shared by every component.
package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
)

// Pool provides separate read and write database connections.
//
// For SQLite with WAL mode, this enables concurrent reads while serializing
// writes through a single connection. The writer pool uses MaxOpenConns(1) to
// avoid SQLITE_BUSY on write contention, while the reader pool allows multiple
// concurrent connections for SELECT queries.
//
// For PostgreSQL, both Writer and Reader return the same *sqlx.DB since pgx
// handles connection pooling internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Options selects the backing driver and its connection settings.
type Options struct {
	Driver      string        // dialect.SQLite3 or dialect.PGX
	Path        string        // sqlite database file
	BusyTimeout time.Duration // sqlite lock wait
	DSN         string        // postgres connection string
	MaxConns    int           // postgres pool ceiling
	MinConns    int           // postgres idle floor
}

// Open builds a Pool for the configured driver. SQLite gets a single-writer
// pool plus a read-only pool; Postgres shares one pool for both roles.
func Open(opts Options) (*Pool, error) {
	switch opts.Driver {
	case "", dialect.SQLite3:
		writer, err := OpenSQLite(opts.Path, opts.BusyTimeout)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(opts.Path, opts.BusyTimeout)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return &Pool{
			writer: sqlx.NewDb(writer, dialect.SQLite3),
			reader: sqlx.NewDb(reader, dialect.SQLite3),
		}, nil
	case dialect.PGX, "postgres":
		conn, err := OpenPostgres(opts.DSN, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, err
		}
		shared := sqlx.NewDb(conn, dialect.PGX)
		return &Pool{writer: shared, reader: shared}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
	}
}

// Writer returns the connection pool used for INSERT, UPDATE, DELETE, and
// transactions. For SQLite this is limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries. For SQLite
// this opens multiple read-only connections that can operate concurrently
// with the writer via WAL snapshots.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// Avoid double-close when both pools share the same *sqlx.DB (Postgres).
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
