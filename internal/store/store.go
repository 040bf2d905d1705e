// Package store provides SQL-backed persistence for flightops.
//
// Two drivers are supported: SQLite (modernc, the default, single node) and
// PostgreSQL (pgx stdlib, for deployments where several daemons share one
// database). Every mutation of a plan's status or a worker's availability is
// a conditional UPDATE whose affected-row count is checked, so concurrent
// schedulers can never double-assign.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MaxBulkIDs caps the number of plan ids accepted by bulk result calls.
const MaxBulkIDs = 5000

var (
	// ErrNotFound indicates the plan, worker or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReservationConflict indicates the worker or plan changed state
	// between selection and reservation.
	ErrReservationConflict = errors.New("reservation conflict")

	// ErrInvalidTransition indicates the plan is not in a state that allows the change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateReference indicates the external response number is already in use.
	ErrDuplicateReference = errors.New("external response number already assigned")

	// ErrTooManyIDs indicates a bulk call exceeded MaxBulkIDs.
	ErrTooManyIDs = fmt.Errorf("too many ids (max %d)", MaxBulkIDs)

	// ErrResourceLocked indicates the resource is already locked by another holder.
	ErrResourceLocked = errors.New("resource already locked")
)

// Config selects the driver and data source.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Store provides access to the flightops database.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens a SQLite store at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Config{Driver: DriverSQLite, DSN: dbPath})
}

// Open opens a store for the configured driver and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		if dir := filepath.Dir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		// WAL mode for concurrent readers while the scheduler writes
		db, err = sql.Open("sqlite", cfg.DSN+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(16)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the name of the underlying driver.
func (s *Store) Driver() string {
	return s.driver
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return s.addColumn(ctx, "flight_plans", "attempt", "BIGINT NOT NULL DEFAULT 0")
}

// addColumn adds a column to a table created by an older schema.
func (s *Store) addColumn(ctx context.Context, table, column, decl string) error {
	if s.driver == DriverPostgres {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`, table, column, decl))
		return err
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS workers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		address TEXT NOT NULL,
		availability TEXT NOT NULL DEFAULT 'available',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flight_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		worker_id INTEGER REFERENCES workers(id),
		result_id INTEGER,
		authorization_status TEXT NOT NULL DEFAULT 'none',
		authorization_message TEXT NOT NULL DEFAULT '',
		external_response_number TEXT UNIQUE,
		owner TEXT NOT NULL DEFAULT '',
		folder TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		plan_id INTEGER PRIMARY KEY REFERENCES flight_plans(id) ON DELETE CASCADE,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		plan_id INTEGER,
		worker_id INTEGER,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flight_plans_status ON flight_plans(status, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_flight_plans_worker ON flight_plans(worker_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_plan_id ON assignments(plan_id);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS workers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		address TEXT NOT NULL,
		availability TEXT NOT NULL DEFAULT 'available',
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flight_plans (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		worker_id BIGINT REFERENCES workers(id),
		result_id BIGINT,
		authorization_status TEXT NOT NULL DEFAULT 'none',
		authorization_message TEXT NOT NULL DEFAULT '',
		external_response_number TEXT UNIQUE,
		owner TEXT NOT NULL DEFAULT '',
		folder TEXT NOT NULL DEFAULT '',
		attempt BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		plan_id BIGINT PRIMARY KEY REFERENCES flight_plans(id) ON DELETE CASCADE,
		payload BYTEA NOT NULL,
		size INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		plan_id BIGINT,
		worker_id BIGINT,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		details TEXT,
		timestamp TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flight_plans_status ON flight_plans(status, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_flight_plans_worker ON flight_plans(worker_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_plan_id ON assignments(plan_id);
	`

// execer is the subset of *sql.DB and *sql.Tx used by shared helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint")
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}
