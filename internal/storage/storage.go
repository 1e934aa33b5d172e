package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("already exists")
	ErrRegistrationTokenInvalid = errors.New("registration token invalid")
	ErrRegistrationTokenExpired = errors.New("registration token expired")
	ErrRegistrationTokenUsed    = errors.New("registration token already used")
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Storage is the durable store behind every service. Queries are written
// with ? placeholders and rebound for the active driver.
type Storage struct {
	db *sqlx.DB
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; an in-memory database also lives on a single connection
		db.SetMaxOpenConns(1)
	}

	s := NewStorage(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Driver() string {
	return s.db.DriverName()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) rebind(query string) string {
	return s.db.Rebind(query)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_time_format=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_time_format=sqlite&_pragma=busy_timeout(5000)"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
