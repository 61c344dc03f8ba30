package blacklist

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists blacklist entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed blacklist store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the blacklist table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blacklist (
			subject   TEXT PRIMARY KEY,
			reason    TEXT NOT NULL,
			source    VARCHAR(50) NOT NULL DEFAULT 'manual',
			added_by  TEXT NOT NULL DEFAULT '',
			added_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_blacklist_added_at
			ON blacklist (added_at DESC);
	`)
	return err
}

func (p *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blacklist (subject, reason, source, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject) DO UPDATE
		SET reason = EXCLUDED.reason, source = EXCLUDED.source,
		    added_by = EXCLUDED.added_by, added_at = EXCLUDED.added_at
	`, entry.Subject, entry.Reason, entry.Source, entry.AddedBy, entry.AddedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, subject string) (*Entry, error) {
	entry := &Entry{}
	err := p.db.QueryRowContext(ctx, `
		SELECT subject, reason, source, added_by, added_at
		FROM blacklist WHERE subject = $1
	`, subject).Scan(&entry.Subject, &entry.Reason, &entry.Source, &entry.AddedBy, &entry.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *PostgresStore) Delete(ctx context.Context, subject string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM blacklist WHERE subject = $1`, subject)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT subject, reason, source, added_by, added_at
		FROM blacklist
		ORDER BY added_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(&entry.Subject, &entry.Reason, &entry.Source, &entry.AddedBy, &entry.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
