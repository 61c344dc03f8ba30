package community

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore persists community state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed community store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the community tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS community_reports (
			id                      VARCHAR(64) PRIMARY KEY,
			subject                 TEXT NOT NULL,
			reporter                VARCHAR(56) NOT NULL,
			claim_type              VARCHAR(30) NOT NULL,
			description             TEXT NOT NULL,
			status                  VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'verified', 'rejected', 'spam')),
			requires_manual_review  BOOLEAN NOT NULL DEFAULT FALSE,
			upvotes                 INTEGER NOT NULL DEFAULT 0,
			downvotes               INTEGER NOT NULL DEFAULT 0,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			reviewed_at             TIMESTAMPTZ,
			reviewed_by             TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_community_reports_subject
			ON community_reports (subject, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_community_reports_reporter
			ON community_reports (reporter, created_at DESC);

		CREATE TABLE IF NOT EXISTS report_votes (
			report_id   VARCHAR(64) NOT NULL REFERENCES community_reports (id),
			voter       VARCHAR(56) NOT NULL,
			direction   VARCHAR(4) NOT NULL CHECK (direction IN ('up', 'down')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (report_id, voter)
		);

		CREATE TABLE IF NOT EXISTS reporter_stats (
			reporter            VARCHAR(56) PRIMARY KEY,
			total               INTEGER NOT NULL DEFAULT 0,
			verified            INTEGER NOT NULL DEFAULT 0,
			spam                INTEGER NOT NULL DEFAULT 0,
			rejected            INTEGER NOT NULL DEFAULT 0,
			reputation          NUMERIC(5,1) NOT NULL DEFAULT 50,
			recent_submissions  JSONB NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS appeals (
			id          VARCHAR(64) PRIMARY KEY,
			report_id   VARCHAR(64) NOT NULL REFERENCES community_reports (id),
			subject     TEXT NOT NULL,
			appellant   VARCHAR(56) NOT NULL,
			reason      TEXT NOT NULL,
			status      VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at  TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_appeals_report
			ON appeals (report_id);

		CREATE TABLE IF NOT EXISTS asset_verifications (
			code            VARCHAR(12) NOT NULL,
			issuer          VARCHAR(56) NOT NULL,
			status          VARCHAR(12) NOT NULL,
			declared_level  VARCHAR(10) NOT NULL DEFAULT '',
			verified_by     TEXT NOT NULL DEFAULT '',
			verified_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (code, issuer)
		);

		CREATE TABLE IF NOT EXISTS contract_verifications (
			contract_id  VARCHAR(56) PRIMARY KEY,
			verified     BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) CreateReport(ctx context.Context, r *Report) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO community_reports
			(id, subject, reporter, claim_type, description, status,
			 requires_manual_review, upvotes, downvotes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.Subject, r.Reporter, r.ClaimType, r.Description, r.Status,
		r.RequiresManualReview, r.Upvotes, r.Downvotes, r.CreatedAt)
	return err
}

func (p *PostgresStore) GetReport(ctx context.Context, id string) (*Report, error) {
	r := &Report{}
	var reviewedAt sql.NullTime
	var reviewedBy sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, subject, reporter, claim_type, description, status,
		       requires_manual_review, upvotes, downvotes, created_at,
		       reviewed_at, reviewed_by
		FROM community_reports WHERE id = $1
	`, id).Scan(&r.ID, &r.Subject, &r.Reporter, &r.ClaimType, &r.Description,
		&r.Status, &r.RequiresManualReview, &r.Upvotes, &r.Downvotes,
		&r.CreatedAt, &reviewedAt, &reviewedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Time
	}
	r.ReviewedBy = reviewedBy.String
	return r, nil
}

func (p *PostgresStore) UpdateReport(ctx context.Context, r *Report) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE community_reports
		SET status = $2, requires_manual_review = $3, upvotes = $4,
		    downvotes = $5, reviewed_at = $6, reviewed_by = $7
		WHERE id = $1
	`, r.ID, r.Status, r.RequiresManualReview, r.Upvotes, r.Downvotes,
		r.ReviewedAt, nullString(r.ReviewedBy))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListReportsBySubject(ctx context.Context, subject string, limit int) ([]*Report, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subject, reporter, claim_type, description, status,
		       requires_manual_review, upvotes, downvotes, created_at,
		       reviewed_at, reviewed_by
		FROM community_reports
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (p *PostgresStore) ListRecentByReporter(ctx context.Context, reporter string, since time.Time) ([]*Report, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subject, reporter, claim_type, description, status,
		       requires_manual_review, upvotes, downvotes, created_at,
		       reviewed_at, reviewed_by
		FROM community_reports
		WHERE reporter = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, reporter, since)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (p *PostgresStore) CountReportsBySubject(ctx context.Context, subject string) (ReportCounts, error) {
	var counts ReportCounts
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'verified'),
		       COUNT(*) FILTER (WHERE status = 'pending')
		FROM community_reports WHERE subject = $1
	`, subject).Scan(&counts.Verified, &counts.Pending)
	return counts, err
}

func (p *PostgresStore) CreateVote(ctx context.Context, v *Vote) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO report_votes (report_id, voter, direction, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_id, voter) DO NOTHING
	`, v.ReportID, v.Voter, v.Direction, v.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyVoted
	}
	return nil
}

func (p *PostgresStore) GetReporterStats(ctx context.Context, reporter string) (*ReporterStats, error) {
	stats := &ReporterStats{}
	var recentJSON []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT reporter, total, verified, spam, rejected, reputation, recent_submissions
		FROM reporter_stats WHERE reporter = $1
	`, reporter).Scan(&stats.Reporter, &stats.Total, &stats.Verified,
		&stats.Spam, &stats.Rejected, &stats.Reputation, &recentJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(recentJSON) > 0 {
		if err := json.Unmarshal(recentJSON, &stats.RecentSubmissions); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (p *PostgresStore) PutReporterStats(ctx context.Context, stats *ReporterStats) error {
	recentJSON, err := json.Marshal(stats.RecentSubmissions)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reporter_stats
			(reporter, total, verified, spam, rejected, reputation, recent_submissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (reporter) DO UPDATE
		SET total = EXCLUDED.total, verified = EXCLUDED.verified,
		    spam = EXCLUDED.spam, rejected = EXCLUDED.rejected,
		    reputation = EXCLUDED.reputation,
		    recent_submissions = EXCLUDED.recent_submissions
	`, stats.Reporter, stats.Total, stats.Verified, stats.Spam,
		stats.Rejected, stats.Reputation, recentJSON)
	return err
}

func (p *PostgresStore) CreateAppeal(ctx context.Context, a *Appeal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO appeals (id, report_id, subject, appellant, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.ReportID, a.Subject, a.Appellant, a.Reason, a.Status, a.CreatedAt)
	return err
}

func (p *PostgresStore) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	a := &Appeal{}
	var decidedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, report_id, subject, appellant, reason, status, created_at, decided_at
		FROM appeals WHERE id = $1
	`, id).Scan(&a.ID, &a.ReportID, &a.Subject, &a.Appellant, &a.Reason,
		&a.Status, &a.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	return a, nil
}

func (p *PostgresStore) UpdateAppeal(ctx context.Context, a *Appeal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE appeals SET status = $2, decided_at = $3 WHERE id = $1
	`, a.ID, a.Status, a.DecidedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) PutAssetVerification(ctx context.Context, v *AssetVerification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO asset_verifications
			(code, issuer, status, declared_level, verified_by, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code, issuer) DO UPDATE
		SET status = EXCLUDED.status, declared_level = EXCLUDED.declared_level,
		    verified_by = EXCLUDED.verified_by, verified_at = EXCLUDED.verified_at
	`, v.Code, v.Issuer, v.Status, v.DeclaredLevel, v.VerifiedBy, v.VerifiedAt)
	return err
}

func (p *PostgresStore) GetAssetVerification(ctx context.Context, code, issuer string) (*AssetVerification, error) {
	v := &AssetVerification{}
	err := p.db.QueryRowContext(ctx, `
		SELECT code, issuer, status, declared_level, verified_by, verified_at
		FROM asset_verifications WHERE code = $1 AND issuer = $2
	`, code, issuer).Scan(&v.Code, &v.Issuer, &v.Status, &v.DeclaredLevel,
		&v.VerifiedBy, &v.VerifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p *PostgresStore) PutContractVerification(ctx context.Context, contractID string, verified bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO contract_verifications (contract_id, verified, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (contract_id) DO UPDATE
		SET verified = EXCLUDED.verified, updated_at = NOW()
	`, contractID, verified)
	return err
}

func (p *PostgresStore) IsContractVerified(ctx context.Context, contractID string) (bool, error) {
	var verified bool
	err := p.db.QueryRowContext(ctx, `
		SELECT verified FROM contract_verifications WHERE contract_id = $1
	`, contractID).Scan(&verified)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return verified, err
}

func scanReports(rows *sql.Rows) ([]*Report, error) {
	defer func() { _ = rows.Close() }()

	var out []*Report
	for rows.Next() {
		r := &Report{}
		var reviewedAt sql.NullTime
		var reviewedBy sql.NullString
		if err := rows.Scan(&r.ID, &r.Subject, &r.Reporter, &r.ClaimType,
			&r.Description, &r.Status, &r.RequiresManualReview, &r.Upvotes,
			&r.Downvotes, &r.CreatedAt, &reviewedAt, &reviewedBy); err != nil {
			return nil, err
		}
		if reviewedAt.Valid {
			r.ReviewedAt = &reviewedAt.Time
		}
		r.ReviewedBy = reviewedBy.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
