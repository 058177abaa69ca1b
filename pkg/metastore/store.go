// Package metastore persists DocBrain's relational state: knowledge bases,
// documents, curated questions, conversations, and messages.
//
// It runs on PostgreSQL, MySQL, or SQLite via database/sql. Queries are
// written with ? placeholders and rebound to $n for postgres. Status updates
// are precondition-guarded: the UPDATE carries the expected current status in
// its WHERE clause, so concurrent workers cannot double-process a row.
//
// MySQL connections need parseTime=true in the DSN so TIMESTAMP columns scan
// into time.Time.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/config"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("metastore: not found")

	// ErrPreconditionFailed means a guarded update found the row in a
	// different state than expected. The caller lost a race or attempted
	// an illegal transition.
	ErrPreconditionFailed = errors.New("metastore: precondition failed")
)

// Store is the SQL-backed metadata store.
type Store struct {
	db      *sql.DB
	dialect config.DatabaseDriver
}

// Open connects per config, verifies the connection, and creates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	// Config uses "sqlite" but the go-sqlite3 driver registers as "sqlite3"
	driverName := string(cfg.Driver)
	if cfg.Driver == config.DriverSQLite {
		driverName = "sqlite3"
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := New(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection and initializes the schema.
func New(db *sql.DB, dialect config.DatabaseDriver) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so the job queue can share the database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the configured SQL dialect.
func (s *Store) Dialect() config.DatabaseDriver {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// SCHEMA
// ============================================================================

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
    id VARCHAR(255) PRIMARY KEY,
    owner_id VARCHAR(255),
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(255) PRIMARY KEY,
    knowledge_base_id VARCHAR(255) NOT NULL,
    title VARCHAR(1024) NOT NULL,
    content_type VARCHAR(255),
    content %BLOB%,
    storage_path TEXT,
    status VARCHAR(50) NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    summary TEXT,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(knowledge_base_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS questions (
    id VARCHAR(255) PRIMARY KEY,
    knowledge_base_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    answer_kind VARCHAR(50) NOT NULL,
    status VARCHAR(50) NOT NULL,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_kb ON questions(knowledge_base_id);
CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(status);

CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(255) PRIMARY KEY,
    knowledge_base_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    title VARCHAR(1024),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_kb ON conversations(knowledge_base_id);

CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    status VARCHAR(50) NOT NULL,
    content TEXT,
    sources TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// initSchema creates all tables if they don't exist.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blobType := "BLOB"
	switch s.dialect {
	case config.DriverPostgres:
		blobType = "BYTEA"
	case config.DriverMySQL:
		blobType = "LONGBLOB"
	}
	schemaSQL := strings.ReplaceAll(schemaTemplate, "%BLOB%", blobType)

	// MySQL rejects multi-statement Exec by default; run each statement
	// separately. MySQL also has no CREATE INDEX IF NOT EXISTS, so index
	// errors about duplicates are tolerated there.
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if s.dialect == config.DriverMySQL && strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
			stmt = strings.Replace(stmt, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX", 1)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				if strings.Contains(err.Error(), "Duplicate key name") {
					continue
				}
				return fmt.Errorf("failed to create index: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// rebind converts ? placeholders to $n for postgres. Other dialects use the
// query unchanged.
func (s *Store) rebind(query string) string {
	if s.dialect != config.DriverPostgres {
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

// marshalJSON serializes v for a TEXT column; nil becomes the empty string.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a TEXT column into out; empty input is a no-op.
func unmarshalJSON(data string, out any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

// guardedUpdate runs an UPDATE whose WHERE clause carries a precondition.
// Zero rows affected means either a missing row or a failed precondition;
// existsQuery distinguishes the two.
func (s *Store) guardedUpdate(ctx context.Context, query string, args []any, existsQuery string, existsArgs ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.rebind(existsQuery), existsArgs...).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}
	return ErrPreconditionFailed
}
