package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgForeignKeyViolation = "23503"

type PostgresStore struct {
	log     *log.Logger
	conn    *sql.DB
	timeout time.Duration
}

func NewPostgresStore(logger *log.Logger, dsn string, timeout time.Duration) (*PostgresStore, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{log: logger, conn: db, timeout: timeout}
	if err := s.Ping(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate brings the schema up to date using the embedded migrations.
func (s *PostgresStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer src.Close()

	driver, err := pgmigrate.WithInstance(s.conn, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	s.log.Printf("database schema at version %d (dirty=%t)", version, dirty)
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.conn.PingContext(ctx)
}

func (s *PostgresStore) Close(_ context.Context) error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation
}
