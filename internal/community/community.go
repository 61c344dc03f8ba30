// Package community implements the crowd-sourced threat reporting pipeline
// and the trust guard that keeps it honest.
//
// Anyone can report a subject as malicious, which makes the raw report
// stream an attack surface of its own: spam floods, bot bursts, and
// reputation-bombing of legitimate assets. The guard filters submissions
// (rate caps, duplicate windows, bot detection, reporter reputation) before
// a report may count toward the risk models' community signal. Moderators
// settle reports as verified or spam, which in turn moves the reporter's
// reputation.
package community

import (
	"context"
	"errors"
	"time"
)

// Report lifecycle states.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
	StatusSpam     = "spam"
)

// Claim types a report may carry.
const (
	ClaimScam     = "scam"
	ClaimPhishing = "phishing"
	ClaimImpostor = "impostor"
	ClaimRugPull  = "rug_pull"
	ClaimOther    = "other"
)

// ValidClaim reports whether ct names a known claim type.
func ValidClaim(ct string) bool {
	switch ct {
	case ClaimScam, ClaimPhishing, ClaimImpostor, ClaimRugPull, ClaimOther:
		return true
	}
	return false
}

// Vote directions.
const (
	VoteUp   = "up"
	VoteDown = "down"
)

// Appeal states.
const (
	AppealPending  = "pending"
	AppealApproved = "approved"
	AppealRejected = "rejected"
)

// Guard verdicts.
var (
	// ErrRateLimited indicates the reporter hit the rolling submission cap.
	ErrRateLimited = errors.New("community: rate limited")
	// ErrSpamFlagged indicates the reporter's history disqualifies the
	// submission outright.
	ErrSpamFlagged = errors.New("community: flagged for spam")
	// ErrDuplicate indicates the same reporter already reported the same
	// subject within the duplicate window.
	ErrDuplicate = errors.New("community: duplicate report")
	// ErrNotFound indicates a missing report, appeal, or verification.
	ErrNotFound = errors.New("community: not found")
	// ErrAlreadyVoted indicates the voter already cast a vote on the report.
	ErrAlreadyVoted = errors.New("community: already voted")
)

// Report is one community threat report.
type Report struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Reporter    string `json:"reporter"`
	ClaimType   string `json:"claimType"`
	Description string `json:"description"`
	Status      string `json:"status"`

	// RequiresManualReview is set at submission time for reporters below
	// the auto-trust reputation threshold, and by bot-burst detection.
	RequiresManualReview bool `json:"requiresManualReview"`

	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`

	CreatedAt  time.Time  `json:"createdAt"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
}

// ReporterStats is the per-reporter ledger the guard and reputation formula
// read. Counters move only when a report settles or an approved appeal
// overturns a settlement; reputation is derived.
type ReporterStats struct {
	Reporter string `json:"reporter"`

	Total    int `json:"total"`
	Verified int `json:"verified"`
	Spam     int `json:"spam"`
	Rejected int `json:"rejected"`

	Reputation float64 `json:"reputation"`

	// RecentSubmissions holds submission times inside the rolling rate
	// window, oldest first.
	RecentSubmissions []time.Time `json:"recentSubmissions,omitempty"`
}

// Vote is one voter's verdict on a pending report. At most one vote per
// (report, voter) pair ever exists.
type Vote struct {
	ReportID  string    `json:"reportId"`
	Voter     string    `json:"voter"`
	Direction string    `json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
}

// Appeal contests a verified report or a blacklisting.
type Appeal struct {
	ID        string     `json:"id"`
	ReportID  string     `json:"reportId"`
	Subject   string     `json:"subject"`
	Appellant string     `json:"appellant"`
	Reason    string     `json:"reason"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

// AssetVerification is an operator-settled verification record for an
// issued asset. The risk models read it as the verification signal.
type AssetVerification struct {
	Code          string    `json:"code"`
	Issuer        string    `json:"issuer"`
	Status        string    `json:"status"` // pending | verified | rejected
	DeclaredLevel string    `json:"declaredLevel,omitempty"`
	VerifiedBy    string    `json:"verifiedBy,omitempty"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// ReportCounts aggregates settled and pending report totals for a subject.
type ReportCounts struct {
	Verified int `json:"verified"`
	Pending  int `json:"pending"`
}

// Store persists reports, reporter stats, appeals, and verifications.
type Store interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	UpdateReport(ctx context.Context, r *Report) error
	ListReportsBySubject(ctx context.Context, subject string, limit int) ([]*Report, error)
	// ListRecentByReporter returns the reporter's reports created at or
	// after since, newest first.
	ListRecentByReporter(ctx context.Context, reporter string, since time.Time) ([]*Report, error)
	CountReportsBySubject(ctx context.Context, subject string) (ReportCounts, error)

	// CreateVote persists a vote, failing with ErrAlreadyVoted when the
	// voter has already voted on the report.
	CreateVote(ctx context.Context, v *Vote) error

	GetReporterStats(ctx context.Context, reporter string) (*ReporterStats, error)
	PutReporterStats(ctx context.Context, stats *ReporterStats) error

	CreateAppeal(ctx context.Context, a *Appeal) error
	GetAppeal(ctx context.Context, id string) (*Appeal, error)
	UpdateAppeal(ctx context.Context, a *Appeal) error

	PutAssetVerification(ctx context.Context, v *AssetVerification) error
	GetAssetVerification(ctx context.Context, code, issuer string) (*AssetVerification, error)
	PutContractVerification(ctx context.Context, contractID string, verified bool) error
	IsContractVerified(ctx context.Context, contractID string) (bool, error)
}
