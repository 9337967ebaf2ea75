package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sydlexius/pushhook/internal/provider"
)

// SQLiteStore keeps webhooks in the webhooks table. Save rewrites the table
// inside one transaction so readers never see a partial collection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an opened, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns all webhooks in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, name, providers, priority, message, retry, expire, created_at
		FROM webhooks ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	hooks := []Webhook{}
	for rows.Next() {
		var w Webhook
		var providersJSON, createdAt string
		if err := rows.Scan(&w.ID, &w.Token, &w.Name, &providersJSON, &w.Priority, &w.Message, &w.Retry, &w.Expire, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		if err := json.Unmarshal([]byte(providersJSON), &w.Providers); err != nil {
			w.Providers = []provider.Name{}
		}
		w.CreatedAt = parseTime(createdAt)
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// Save replaces the table content with hooks.
func (s *SQLiteStore) Save(ctx context.Context, hooks []Webhook) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM webhooks`); err != nil {
		return fmt.Errorf("clearing webhooks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO webhooks (id, token, name, providers, priority, message, retry, expire, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for i, w := range hooks {
		providersJSON, err := json.Marshal(w.Providers)
		if err != nil {
			return fmt.Errorf("marshaling providers: %w", err)
		}
		createdAt := ""
		if !w.CreatedAt.IsZero() {
			createdAt = w.CreatedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx, w.ID, w.Token, w.Name, string(providersJSON), w.Priority, w.Message, w.Retry, w.Expire, createdAt, i); err != nil {
			return fmt.Errorf("inserting webhook %s: %w", w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing webhooks: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
