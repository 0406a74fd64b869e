package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trawler-io/trawler/internal/model"

	_ "modernc.org/sqlite"
)

const createConfigsTable = `
CREATE TABLE IF NOT EXISTS tenant_configs (
    tenant_id  TEXT PRIMARY KEY,
    config     TEXT NOT NULL,
    updated_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. Configurations are stored as JSON
// documents keyed by tenant id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createConfigsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tenant_configs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a tenant's scrape configuration.
func (s *SQLiteStore) GetConfig(ctx context.Context, tenantID string) (*model.ScrapeConfig, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT config FROM tenant_configs WHERE tenant_id = ?", tenantID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	var cfg model.ScrapeConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("decode config for tenant %s: %w", tenantID, err)
	}
	return &cfg, nil
}

// PutConfig saves a tenant's scrape configuration, replacing any previous one.
func (s *SQLiteStore) PutConfig(ctx context.Context, tenantID string, cfg *model.ScrapeConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_configs (tenant_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		tenantID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put config: %w", err)
	}
	return nil
}
