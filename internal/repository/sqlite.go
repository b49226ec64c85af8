package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	compasserrors "compass/internal/errors"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS directives (
	id         TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteRepository stores directive bodies in a single SQLite table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create directives table: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (string, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM directives WHERE id = ?`, NormalizeID(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &compasserrors.DirectiveNotFoundError{ID: id, Err: fmt.Errorf("sqlite: %w", compasserrors.ErrNotFound)}
	}
	if err != nil {
		return "", &compasserrors.RepositoryUnavailableError{ID: id, Err: err}
	}
	return body, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM directives WHERE id = ?`, NormalizeID(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &compasserrors.RepositoryUnavailableError{ID: id, Err: err}
	}
	return true, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM directives ORDER BY id`)
	if err != nil {
		return nil, &compasserrors.RepositoryUnavailableError{Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &compasserrors.RepositoryUnavailableError{Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &compasserrors.RepositoryUnavailableError{Err: err}
	}
	return ids, nil
}

// Put upserts a directive body. Used by `compass import`; the engine itself
// only reads.
func (r *SQLiteRepository) Put(ctx context.Context, id, body string) error {
	id = NormalizeID(id)
	if id == "" {
		return errors.New("directive id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO directives (id, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		id, body, r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put directive %q: %w", id, err)
	}
	return nil
}

// Import copies every directive from src into the database in one transaction.
func (r *SQLiteRepository) Import(ctx context.Context, src Repository, ids []string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := r.now().UTC().Format(time.RFC3339)
	count := 0
	for _, id := range ids {
		body, err := src.Get(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("import %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO directives (id, body, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			NormalizeID(id), body, stamp,
		); err != nil {
			return 0, fmt.Errorf("import %q: %w", id, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
