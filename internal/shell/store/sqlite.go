package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers from concurrent environments.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Resource Operations
// =============================================================================

// resourceRow represents a resource row in the database.
type resourceRow struct {
	ID         int64   `db:"id"`
	Kind       string  `db:"kind"`
	Ref        string  `db:"ref"`
	Session    string  `db:"session"`
	Object     string  `db:"object"`
	CreatedAt  string  `db:"created_at"`
	ReleasedAt *string `db:"released_at"`
}

func (r resourceRow) toResource() Resource {
	res := Resource{
		ID:      r.ID,
		Kind:    Kind(r.Kind),
		Ref:     r.Ref,
		Session: r.Session,
		Object:  r.Object,
	}
	res.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	if r.ReleasedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.ReleasedAt)
		if err == nil {
			res.ReleasedAt = &t
		}
	}
	return res
}

func (s *SQLiteStore) Record(ctx context.Context, r Resource) error {
	if !r.Kind.Valid() {
		return NewStoreError("Record", string(r.Kind), r.Ref, "unknown kind", ErrInvalidKind)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO resources (kind, ref, session, object, created_at, released_at)
		VALUES (:kind, :ref, :session, :object, :created_at, NULL)
		ON CONFLICT (kind, ref) DO UPDATE SET
			session = excluded.session,
			object = excluded.object,
			created_at = excluded.created_at,
			released_at = NULL`

	_, err := s.db.NamedExecContext(ctx, query, map[string]any{
		"kind":       string(r.Kind),
		"ref":        r.Ref,
		"session":    r.Session,
		"object":     r.Object,
		"created_at": createdAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return NewStoreError("Record", string(r.Kind), r.Ref, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) Release(ctx context.Context, kind Kind, ref string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE resources SET released_at = ? WHERE kind = ? AND ref = ? AND released_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), string(kind), ref)
	if err != nil {
		return NewStoreError("Release", string(kind), ref, err.Error(), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("Release", string(kind), ref, err.Error(), err)
	}
	if n == 0 {
		return NewStoreError("Release", string(kind), ref, "not recorded or already released", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Outstanding(ctx context.Context, opts ListOptions) ([]Resource, error) {
	query := `SELECT id, kind, ref, session, object, created_at, released_at
		FROM resources WHERE released_at IS NULL`
	var args []any
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	if opts.Session != "" {
		query += ` AND session = ?`
		args = append(args, opts.Session)
	}
	query += ` ORDER BY id`

	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("Outstanding", string(opts.Kind), "", err.Error(), err)
	}

	resources := make([]Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, row.toResource())
	}
	return resources, nil
}
