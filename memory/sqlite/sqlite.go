// Package sqlite implements memory.Store using pure-Go SQLite
// (modernc.org/sqlite). Content and metadata are stored as JSON; keyword
// candidates are selected with LIKE and ranked in process with memory.Rank.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/memory"
)

var schema = []string{`CREATE TABLE IF NOT EXISTS memories (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	scope TEXT NOT NULL,
	content TEXT NOT NULL,
	search_text TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories (scope, created_at)`,
}

// Store implements memory.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ memory.Store = (*Store)(nil)

// New opens (or creates) the database at dsn, e.g. a file path or
// "file::memory:?cache=shared", and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Add implements memory.Store.
func (s *Store) Add(ctx context.Context, scope string, mems []core.Memory) ([]core.Memory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	stored := make([]core.Memory, 0, len(mems))

	for _, m := range mems {
		if m.ID == "" {
			m.ID = core.NewID()
		}

		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}

		content, err := json.Marshal(m.Content)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}

		var metadata []byte
		if m.Metadata != nil {
			if metadata, err = json.Marshal(m.Metadata); err != nil {
				return nil, fmt.Errorf("encode metadata: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memories (id, scope, content, search_text, source, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, scope, string(content), strings.ToLower(memory.Text(m)), m.Source, nullable(metadata), m.CreatedAt.UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("insert memory: %w", err)
		}

		stored = append(stored, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return stored, nil
}

// Search implements memory.Store.
func (s *Store) Search(ctx context.Context, scope, query string, limit int) ([]core.Memory, error) {
	terms := memory.Terms(query)

	q := `SELECT id, content, source, metadata, created_at FROM memories WHERE scope = ?`
	args := []any{scope}

	if len(terms) > 0 {
		likes := make([]string, 0, len(terms))

		for _, t := range terms {
			likes = append(likes, "search_text LIKE ?")
			args = append(args, "%"+t+"%")
		}

		q += " AND (" + strings.Join(likes, " OR ") + ")"
	}

	q += " ORDER BY created_at DESC, seq DESC"

	if len(terms) == 0 && limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var candidates []core.Memory

	for rows.Next() {
		var (
			m        core.Memory
			content  string
			metadata sql.NullString
			created  int64
		)

		if err := rows.Scan(&m.ID, &content, &m.Source, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", m.ID, err)
		}

		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
			}
		}

		m.CreatedAt = time.Unix(0, created).UTC()
		candidates = append(candidates, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return memory.Rank(candidates, query, limit), nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, scope, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE scope = ? AND id = ?`, scope, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}

	return nil
}

func nullable(b []byte) any {
	if b == nil {
		return nil
	}

	return string(b)
}
