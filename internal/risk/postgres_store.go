package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id                   VARCHAR(64) PRIMARY KEY,
			subject              TEXT NOT NULL,
			subject_type         VARCHAR(20) NOT NULL,
			score                NUMERIC(5,1) NOT NULL CHECK (score >= 0 AND score <= 100),
			level                VARCHAR(10) NOT NULL CHECK (level IN ('SAFE', 'LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			threats              JSONB NOT NULL DEFAULT '[]',
			recommendations      TEXT[] NOT NULL DEFAULT '{}',
			signals_unavailable  TEXT[] NOT NULL DEFAULT '{}',
			partial              BOOLEAN NOT NULL DEFAULT FALSE,
			evaluated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_subject
			ON risk_assessments (subject, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_critical
			ON risk_assessments (evaluated_at DESC) WHERE level = 'CRITICAL';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *RiskAssessment) error {
	threatsJSON, err := json.Marshal(a.Threats)
	if err != nil {
		return fmt.Errorf("failed to marshal threats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, subject, subject_type, score, level, threats, recommendations, signals_unavailable, partial, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID,
		a.Subject,
		string(a.SubjectType),
		a.Score,
		string(a.Level),
		threatsJSON,
		pq.Array(a.Recommendations),
		pq.Array(a.SignalsUnavailable),
		a.Partial,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, subject_type, score, level, threats, recommendations, signals_unavailable, partial, evaluated_at
		FROM risk_assessments
		WHERE subject = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		var a RiskAssessment
		var threatsJSON []byte

		if err := rows.Scan(
			&a.ID,
			&a.Subject,
			&a.SubjectType,
			&a.Score,
			&a.Level,
			&threatsJSON,
			pq.Array(&a.Recommendations),
			pq.Array(&a.SignalsUnavailable),
			&a.Partial,
			&a.EvaluatedAt,
		); err != nil {
			continue
		}
		_ = json.Unmarshal(threatsJSON, &a.Threats)
		result = append(result, &a)
	}
	return result, rows.Err()
}
