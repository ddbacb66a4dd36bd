// Package postgres implements storage on PostgreSQL with sqlx and lib/pq.
// The schema is managed by golang-migrate from embedded migration files.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/example/approvalflow/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	db  *sqlx.DB
	dsn string
}

// New connects to the database at dsn (a postgres:// URL).
func New(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStorage{db: db, dsn: dsn}, nil
}

// Begin starts a new transaction.
func (s *PostgresStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newUnitOfWork(tx), nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Migrate applies all pending up migrations.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, s.dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Truncate removes every row; used to reset a shared database between tests.
func (s *PostgresStorage) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE step_approvals, step_instances, workflow_instances,
			step_required_roles, step_definitions, workflow_definitions, roles
	`)
	return err
}

type unitOfWork struct {
	tx          *sqlx.Tx
	roles       *roleRepo
	definitions *definitionRepo
	instances   *instanceRepo
}

func newUnitOfWork(tx *sqlx.Tx) *unitOfWork {
	return &unitOfWork{
		tx:          tx,
		roles:       &roleRepo{tx: tx},
		definitions: &definitionRepo{tx: tx},
		instances:   &instanceRepo{tx: tx},
	}
}

func (u *unitOfWork) Roles() storage.RoleRepository {
	return u.roles
}

func (u *unitOfWork) Definitions() storage.DefinitionRepository {
	return u.definitions
}

func (u *unitOfWork) Instances() storage.InstanceRepository {
	return u.instances
}

func (u *unitOfWork) Commit() error {
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback() error {
	return u.tx.Rollback()
}
