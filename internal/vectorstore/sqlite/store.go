// Package sqlite is a vector store persisted in a single SQLite file.
// Search is a brute-force cosine scan over the collection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"ragapi/internal/domain"
	"ragapi/internal/vectorstore/sqlite/migrations"
	"ragapi/internal/vectorstore/similarity"
)

// Store implements domain.VectorStore on SQLite.
type Store struct {
	db         *sql.DB
	path       string
	collection string
}

var _ domain.VectorStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at path. ":memory:" is
// accepted and pinned to a single connection.
func NewStore(path, collection string) (*Store, error) {
	if collection == "" {
		collection = "knowledge_base"
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		// WAL lets searches proceed while an ingestion writes.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, path: path, collection: collection}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Init records the collection's dimension, or checks it against the one
// already recorded.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	existing, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if existing != 0 {
		if existing != dimension {
			return fmt.Errorf("%w: collection %s holds %d, got %d", domain.ErrDimensionMismatch, s.collection, existing, dimension)
		}
		return nil
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, dimension) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`, s.collection, dimension)
	return err
}

func (s *Store) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

// Upsert writes all units in one transaction and reports how many are new.
func (s *Store) Upsert(ctx context.Context, units []domain.Unit) (int, error) {
	dim, err := s.dimension(ctx)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		return 0, fmt.Errorf("%w: collection %s not initialised", domain.ErrCollectionMissing, s.collection)
	}
	for _, u := range units {
		if len(u.Embedding) != dim {
			return 0, fmt.Errorf("%w: collection %s holds %d, got %d", domain.ErrDimensionMismatch, s.collection, dim, len(u.Embedding))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	created := 0
	for _, u := range units {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM units WHERE collection = ? AND id = ?", s.collection, u.ID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created++
		case err != nil:
			return 0, fmt.Errorf("checking unit %s: %w", u.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO units (collection, id, source_id, idx, text, embedding)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				source_id = excluded.source_id,
				idx = excluded.idx,
				text = excluded.text,
				embedding = excluded.embedding
		`, s.collection, u.ID, u.SourceID, u.Index, u.Text, similarity.Encode(u.Embedding))
		if err != nil {
			return 0, fmt.Errorf("writing unit %s: %w", u.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// Search scans the collection in insertion order and returns the topK units
// by cosine similarity.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, idx, text, embedding FROM units
		WHERE collection = ? ORDER BY rowid`, s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			m    domain.Match
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.SourceID, &m.Index, &m.Text, &blob); err != nil {
			return nil, err
		}
		emb, err := similarity.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", m.ID, err)
		}
		if m.Score, err = similarity.Cosine(emb, vector); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return similarity.TopK(matches, topK), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units WHERE collection = ?", s.collection).Scan(&n)
	return n, err
}

// Reset deletes the collection's units and its recorded dimension.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, "DELETE FROM units WHERE collection = ?", s.collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", s.collection); err != nil {
		return err
	}
	return tx.Commit()
}
