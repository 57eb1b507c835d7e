// Package store is the persistence layer: a single SQLite database
// reached through two access patterns, a concurrent Read and a
// serialized Transaction(fn), with CREATE TABLE IF NOT EXISTS schema
// blocks and pragma_table_info-guarded ALTER TABLE migrations for
// evolving an existing database file in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/apperr"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read
// helpers run inside or outside a transaction without duplicating
// query code.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer is satisfied by both *sql.DB and *sql.Tx for write
// statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryExecer is the union the write-primitive helpers in this
// package accept, so every insert/update works unchanged whether
// called standalone or inside Store.Transaction.
type QueryExecer interface {
	Queryer
	Execer
}

// Store wraps the SQLite connection pool and schema management.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) the database file at dbPath, applies the
// schema, and returns a ready Store.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// Two-connection pool discourages SQLITE_BUSY: writers serialize
	// through Transaction while readers can use the second connection.
	db.SetMaxOpenConns(2)

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for callers (e.g. webapi) that only ever
// need concurrent reads and have no reason to go through Transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transaction runs fn inside a serialized write transaction,
// committing on success and rolling back on error or panic. Every
// multi-statement write path in this module (grouping attach,
// merge reassignment, trend persistence) goes through this rather
// than issuing bare statements against s.db, per the design note's
// "Transaction(fn) (serialized)" entry.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Busy(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return apperr.Busy(err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		link TEXT UNIQUE,
		title TEXT,
		content TEXT,
		published_date TEXT,
		source TEXT,
		processed_date TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_date)`,

	`CREATE TABLE IF NOT EXISTS article_signatures (
		article_id INTEGER PRIMARY KEY,
		entity_hash TEXT NOT NULL,
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signatures_hash ON article_signatures(entity_hash)`,

	`CREATE TABLE IF NOT EXISTS two_phase_article_groups (
		group_id INTEGER PRIMARY KEY AUTOINCREMENT,
		main_topic TEXT NOT NULL,
		sub_topic TEXT NOT NULL,
		group_label TEXT NOT NULL,
		description TEXT,
		consistency_score REAL DEFAULT 1.0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS two_phase_article_group_memberships (
		article_id INTEGER NOT NULL,
		group_id INTEGER NOT NULL,
		added_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (article_id, group_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (group_id) REFERENCES two_phase_article_groups(group_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_memberships_group ON two_phase_article_group_memberships(group_id)`,

	`CREATE TABLE IF NOT EXISTS article_companies (
		article_id INTEGER NOT NULL,
		company_name TEXT NOT NULL,
		PRIMARY KEY (article_id, company_name),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS article_cves (
		article_id INTEGER NOT NULL,
		cve_id TEXT NOT NULL,
		published_date TEXT,
		PRIMARY KEY (article_id, cve_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS cve_info (
		cve_id TEXT PRIMARY KEY,
		base_score REAL,
		vendor TEXT,
		affected_products TEXT,
		cve_url TEXT,
		vendor_link TEXT,
		solution TEXT,
		times_mentioned INTEGER DEFAULT 0,
		raw_json TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS trending_groups (
		trend_id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		trend_label TEXT NOT NULL,
		summary TEXT NOT NULL,
		importance_score REAL DEFAULT 5.0,
		confidence_score REAL DEFAULT 1.0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS trending_group_memberships (
		article_id INTEGER NOT NULL,
		trend_id INTEGER NOT NULL,
		added_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (article_id, trend_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (trend_id) REFERENCES trending_groups(trend_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS entity_profiles (
		entity_id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		description TEXT,
		first_seen TEXT,
		last_seen TEXT,
		mention_count INTEGER DEFAULT 1,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_name, entity_type)
	)`,
	`CREATE TABLE IF NOT EXISTS article_entities (
		article_id INTEGER NOT NULL,
		entity_id INTEGER NOT NULL,
		relevance_score REAL DEFAULT 1.0,
		context_snippet TEXT,
		PRIMARY KEY (article_id, entity_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (entity_id) REFERENCES entity_profiles(entity_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS group_entities (
		group_id INTEGER NOT NULL,
		entity_id INTEGER NOT NULL,
		relevance_score REAL DEFAULT 1.0,
		PRIMARY KEY (group_id, entity_id),
		FOREIGN KEY (group_id) REFERENCES two_phase_article_groups(group_id) ON DELETE CASCADE,
		FOREIGN KEY (entity_id) REFERENCES entity_profiles(entity_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS trend_entities (
		trend_id INTEGER NOT NULL,
		entity_id INTEGER NOT NULL,
		relevance_score REAL DEFAULT 1.0,
		PRIMARY KEY (trend_id, entity_id),
		FOREIGN KEY (trend_id) REFERENCES trending_groups(trend_id) ON DELETE CASCADE,
		FOREIGN KEY (entity_id) REFERENCES entity_profiles(entity_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS exemplar_groups (
		exemplar_id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		pattern_description TEXT,
		success_score REAL DEFAULT 1.0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS exemplar_articles (
		exemplar_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		PRIMARY KEY (exemplar_id, article_id),
		FOREIGN KEY (exemplar_id) REFERENCES exemplar_groups(exemplar_id) ON DELETE CASCADE,
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS article_external_references (
		article_id INTEGER,
		original_url TEXT,
		normalized_url TEXT,
		domain TEXT,
		reference_type TEXT,
		PRIMARY KEY (article_id, normalized_url),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_references_domain ON article_external_references(domain)`,

	`CREATE TABLE IF NOT EXISTS named_events (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_name TEXT NOT NULL,
		first_seen_date TEXT DEFAULT CURRENT_TIMESTAMP,
		last_seen_date TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_name)
	)`,
	`CREATE TABLE IF NOT EXISTS article_events (
		article_id INTEGER,
		event_id INTEGER,
		PRIMARY KEY (article_id, event_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (event_id) REFERENCES named_events(event_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS quotes (
		quote_id INTEGER PRIMARY KEY AUTOINCREMENT,
		quote_text TEXT NOT NULL,
		quote_hash TEXT NOT NULL,
		speaker TEXT,
		first_seen_date TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(quote_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_speaker ON quotes(speaker)`,
	`CREATE TABLE IF NOT EXISTS article_quotes (
		article_id INTEGER,
		quote_id INTEGER,
		PRIMARY KEY (article_id, quote_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (quote_id) REFERENCES quotes(quote_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS article_authors (
		article_id INTEGER,
		author_name TEXT,
		PRIMARY KEY (article_id, author_name),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_authors_name ON article_authors(author_name)`,
}

// migrate creates every table and index idempotently, then applies
// any additive column migrations via the pragma_table_info-guarded
// pattern used for schema evolution.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w\n%s", err, stmt)
		}
	}
	return s.addColumnIfMissing(ctx, "two_phase_article_groups", "description", "TEXT")
}

// addColumnIfMissing checks pragma_table_info before ALTER TABLE so
// repeated Opens of an older database file pick up new columns
// without erroring on "duplicate column name".
func (s *Store) addColumnIfMissing(ctx context.Context, table, column, ddlType string) error {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table)
	if err := s.db.QueryRowContext(ctx, query, column).Scan(&count); err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddlType)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}
