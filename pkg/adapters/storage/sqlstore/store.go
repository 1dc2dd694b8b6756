// Package sqlstore implements the activity log on PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/aescanero/kanban-live/pkg/ports"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var (
	//go:embed schema_postgres.sql
	postgresSchema string
	//go:embed schema_sqlite.sql
	sqliteSchema string
)

const (
	insertEntryQuery = `INSERT INTO activity_log (action, task_id, task_title, from_status, to_status, details, dedup_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (dedup_key) DO NOTHING
RETURNING id, created_at`

	selectColumns = "SELECT id, action, task_id, task_title, from_status, to_status, details, dedup_key, created_at FROM activity_log"

	selectByDedupKeyQuery = selectColumns + " WHERE dedup_key = $1"
	selectRecentQuery     = selectColumns + " ORDER BY created_at DESC, id DESC LIMIT $1"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// Config holds connection settings for Open.
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ports.ActivityStore over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logger}
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	var driver string
	switch cfg.Dialect {
	case Postgres:
		driver = "postgres"
	case SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", cfg.Dialect)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Dialect == SQLite {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := New(db, cfg.Dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the activity_log table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == SQLite {
		schema = sqliteSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Append inserts entry. When an entry with the same dedup key exists the
// stored entry is returned together with ports.ErrDuplicate.
func (s *Store) Append(ctx context.Context, entry *domain.ActivityEntry) (*domain.ActivityEntry, error) {
	saved := *entry
	var created dbTime

	err := s.db.QueryRowContext(ctx, s.rebind(insertEntryQuery),
		string(entry.Action),
		nullInt64(entry.TaskID),
		nullString(entry.TaskTitle),
		nullString(entry.FromStatus),
		nullString(entry.ToStatus),
		nullString(entry.Details),
		dedupArg(entry.DedupKey),
	).Scan(&saved.ID, &created)

	if errors.Is(err, sql.ErrNoRows) {
		existing, lookupErr := s.byDedupKey(ctx, entry.DedupKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		s.logger.Debug("activity entry already recorded",
			zap.String("dedup_key", entry.DedupKey),
			zap.Int64("id", existing.ID))
		return existing, ports.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert activity entry: %w", err)
	}

	saved.CreatedAt = created.Time
	return &saved, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectRecentQuery), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent activity: %w", err)
	}
	return entries, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) byDedupKey(ctx context.Context, key string) (*domain.ActivityEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectByDedupKeyQuery), key)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load duplicate entry: %w", err)
	}
	return entry, nil
}

// rebind rewrites $N placeholders for dialects that use ?.
func (s *Store) rebind(query string) string {
	if s.dialect == SQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*domain.ActivityEntry, error) {
	var (
		entry      domain.ActivityEntry
		action     string
		taskID     sql.NullInt64
		taskTitle  sql.NullString
		fromStatus sql.NullString
		toStatus   sql.NullString
		details    sql.NullString
		dedupKey   sql.NullString
		created    dbTime
	)
	if err := row.Scan(&entry.ID, &action, &taskID, &taskTitle, &fromStatus, &toStatus, &details, &dedupKey, &created); err != nil {
		return nil, fmt.Errorf("failed to scan activity entry: %w", err)
	}

	entry.Action = domain.Action(action)
	if taskID.Valid {
		entry.TaskID = &taskID.Int64
	}
	entry.TaskTitle = stringPtr(taskTitle)
	entry.FromStatus = stringPtr(fromStatus)
	entry.ToStatus = stringPtr(toStatus)
	entry.Details = stringPtr(details)
	entry.DedupKey = dedupKey.String
	entry.CreatedAt = created.Time
	return &entry, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// dedupArg stores an empty key as NULL so legacy rows never collide.
func dedupArg(key string) sql.NullString {
	return sql.NullString{String: key, Valid: key != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
