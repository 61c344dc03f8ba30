package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenguard/lumenguard/internal/blacklist"
	"github.com/lumenguard/lumenguard/internal/idgen"
	"github.com/lumenguard/lumenguard/internal/metrics"
	"github.com/lumenguard/lumenguard/internal/syncutil"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// voteAutoThreshold is the net vote margin at which a pending report settles
// automatically: +5 verifies, -5 rejects.
const voteAutoThreshold = 5

// SubmitResult is returned for an accepted report.
type SubmitResult struct {
	Report               *Report `json:"report"`
	RequiresManualReview bool    `json:"requiresManualReview"`
}

// Service ties the guard, the store, and moderation together. All writes
// touching one reporter's state run under that reporter's shard lock so the
// check-then-increment of the rate window cannot interleave.
type Service struct {
	store     Store
	guard     *Guard
	blacklist *blacklist.Service // optional: promote verified reports
	logger    *slog.Logger

	reporterLocks syncutil.ShardedMutex
	reportLocks   *syncutil.ContextShardedMutex

	onReport func(*Report) // optional broadcast hook
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBlacklist enables automatic blacklist promotion of subjects whose
// reports are verified by a moderator.
func WithBlacklist(bl *blacklist.Service) ServiceOption {
	return func(s *Service) { s.blacklist = bl }
}

// WithReportHook registers a callback invoked after every accepted report.
func WithReportHook(fn func(*Report)) ServiceOption {
	return func(s *Service) { s.onReport = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// withClock overrides the clock, for tests.
func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a community service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		guard:       NewGuard(),
		logger:      slog.Default(),
		reportLocks: syncutil.NewContextShardedMutex(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitReport runs a submission through the trust guard and persists it
// when accepted. Rejections return ErrRateLimited, ErrSpamFlagged, or
// ErrDuplicate; validation failures return a plain error.
func (s *Service) SubmitReport(ctx context.Context, subject, reporter, claimType, description string) (*SubmitResult, error) {
	if subject == "" || !validation.IsValidAccountID(reporter) {
		return nil, fmt.Errorf("community: invalid subject or reporter")
	}
	if !ValidClaim(claimType) {
		return nil, fmt.Errorf("community: unknown claim type %q", claimType)
	}

	// Serialize per reporter: the rate-window check and the increment below
	// must be atomic with respect to concurrent submissions from the same
	// reporter. Different reporters proceed in parallel.
	unlock := s.reporterLocks.Lock(reporter)
	defer unlock()

	now := s.now()

	stats, err := s.loadStats(ctx, reporter)
	if err != nil {
		return nil, fmt.Errorf("load reporter stats: %w", err)
	}

	review, err := s.guard.ValidateSubmission(stats, now)
	if err != nil {
		metrics.CommunityReportsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	recent, err := s.store.ListRecentByReporter(ctx, reporter, now.Add(-RateWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent reports: %w", err)
	}
	if s.guard.CheckDuplicate(subject, recent, now) {
		metrics.CommunityReportsTotal.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicate
	}

	// Bot bursts flag for review, never block.
	timestamps := append(stats.RecentSubmissions, now)
	if s.guard.DetectBotBehavior(timestamps) {
		review = true
	}

	report := &Report{
		ID:                   idgen.WithPrefix("rpt_"),
		Subject:              subject,
		Reporter:             reporter,
		ClaimType:            claimType,
		Description:          validation.SanitizeString(description, validation.MaxDescriptionLength),
		Status:               StatusPending,
		RequiresManualReview: review,
		CreatedAt:            now,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	stats.Total++
	stats.RecentSubmissions = append(pruneWindow(stats.RecentSubmissions, now), now)
	if err := s.store.PutReporterStats(ctx, stats); err != nil {
		// The report exists; a stale window only under-counts briefly.
		s.logger.Warn("failed to update reporter stats", "reporter", reporter, "error", err)
	}

	metrics.CommunityReportsTotal.WithLabelValues("accepted").Inc()
	if s.onReport != nil {
		s.onReport(report)
	}

	return &SubmitResult{Report: report, RequiresManualReview: review}, nil
}

// CastVote records one voter's vote on a pending report. Each voter gets a
// single vote per report; a net margin of +-voteAutoThreshold settles the
// report without moderator action.
func (s *Service) CastVote(ctx context.Context, reportID, voter, direction string) (*Report, error) {
	if direction != VoteUp && direction != VoteDown {
		return nil, fmt.Errorf("community: unknown vote direction %q", direction)
	}
	if !validation.IsValidAccountID(voter) {
		return nil, fmt.Errorf("community: invalid voter")
	}

	// Serialize per report: the read-increment-write on the counters must
	// not interleave, or concurrent votes drop counts and the auto-settle
	// margin mis-fires. The lock is held across store calls, so waiters
	// respect the request context.
	unlock, err := s.reportLocks.LockContext(ctx, reportID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != StatusPending {
		return nil, fmt.Errorf("community: report %s is already settled", reportID)
	}

	if err := s.store.CreateVote(ctx, &Vote{
		ReportID:  reportID,
		Voter:     voter,
		Direction: direction,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, err
	}

	if direction == VoteUp {
		report.Upvotes++
	} else {
		report.Downvotes++
	}

	switch net := report.Upvotes - report.Downvotes; {
	case net >= voteAutoThreshold:
		if err := s.settle(ctx, report, StatusVerified, "community-vote"); err != nil {
			return nil, err
		}
	case net <= -voteAutoThreshold:
		if err := s.settle(ctx, report, StatusRejected, "community-vote"); err != nil {
			return nil, err
		}
	default:
		if err := s.store.UpdateReport(ctx, report); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// Moderate settles a report with an explicit verdict: verified, rejected,
// or spam.
func (s *Service) Moderate(ctx context.Context, reportID, verdict, moderator string) (*Report, error) {
	switch verdict {
	case StatusVerified, StatusRejected, StatusSpam:
	default:
		return nil, fmt.Errorf("community: unknown verdict %q", verdict)
	}

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status != StatusPending {
		return nil, fmt.Errorf("community: report %s is already settled", reportID)
	}

	if err := s.settle(ctx, report, verdict, moderator); err != nil {
		return nil, err
	}
	return report, nil
}

// settle finalizes a report and updates the reporter's reputation under the
// reporter's shard lock.
func (s *Service) settle(ctx context.Context, report *Report, verdict, decidedBy string) error {
	now := s.now()
	report.Status = verdict
	report.ReviewedAt = &now
	report.ReviewedBy = decidedBy
	if err := s.store.UpdateReport(ctx, report); err != nil {
		return err
	}
	metrics.ReportModerationsTotal.WithLabelValues(verdict).Inc()

	unlock := s.reporterLocks.Lock(report.Reporter)
	defer unlock()

	stats, err := s.loadStats(ctx, report.Reporter)
	if err != nil {
		return fmt.Errorf("load reporter stats: %w", err)
	}
	switch verdict {
	case StatusVerified:
		stats.Verified++
	case StatusRejected:
		stats.Rejected++
	case StatusSpam:
		stats.Spam++
	}
	stats.Reputation = s.guard.CalculateReputation(stats)
	if err := s.store.PutReporterStats(ctx, stats); err != nil {
		return fmt.Errorf("update reporter stats: %w", err)
	}

	if verdict == StatusVerified && s.blacklist != nil {
		if _, err := s.blacklist.Add(ctx, report.Subject, "verified community report: "+report.ClaimType,
			blacklist.SourceCommunity, decidedBy); err != nil && !errors.Is(err, blacklist.ErrExists) {
			s.logger.Warn("failed to promote verified report to blacklist",
				"subject", report.Subject, "error", err)
		}
	}

	return nil
}

// SubmitAppeal opens a pending appeal against a settled report. Appeals
// default to manual review; shouldAutoApprove only fires when the subject
// is independently verified elsewhere.
func (s *Service) SubmitAppeal(ctx context.Context, reportID, appellant, reason string) (*Appeal, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	appeal := &Appeal{
		ID:        idgen.WithPrefix("apl_"),
		ReportID:  report.ID,
		Subject:   report.Subject,
		Appellant: appellant,
		Reason:    validation.SanitizeString(reason, validation.MaxDescriptionLength),
		Status:    AppealPending,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateAppeal(ctx, appeal); err != nil {
		return nil, fmt.Errorf("create appeal: %w", err)
	}

	if s.shouldAutoApprove(ctx, report.Subject) {
		now := s.now()
		appeal.Status = AppealApproved
		appeal.DecidedAt = &now
		if err := s.store.UpdateAppeal(ctx, appeal); err != nil {
			return nil, fmt.Errorf("auto-approve appeal: %w", err)
		}
	}

	return appeal, nil
}

// DecideAppeal settles a pending appeal. Approval overturns the underlying
// report: the report flips to rejected, the reporter's ledger moves one
// verified to rejected, and any community blacklisting of the subject is
// lifted, so only future assessments change.
func (s *Service) DecideAppeal(ctx context.Context, appealID, decision, decidedBy string) (*Appeal, error) {
	if decision != AppealApproved && decision != AppealRejected {
		return nil, fmt.Errorf("community: unknown appeal decision %q", decision)
	}

	appeal, err := s.store.GetAppeal(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != AppealPending {
		return nil, fmt.Errorf("community: appeal %s is already decided", appealID)
	}

	now := s.now()
	appeal.Status = decision
	appeal.DecidedAt = &now
	if err := s.store.UpdateAppeal(ctx, appeal); err != nil {
		return nil, err
	}

	if decision == AppealApproved {
		if err := s.overturnReport(ctx, appeal.ReportID, decidedBy); err != nil {
			return nil, err
		}
	}
	return appeal, nil
}

// overturnReport reverses a verified report after an approved appeal.
func (s *Service) overturnReport(ctx context.Context, reportID, decidedBy string) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.Status == StatusVerified {
		now := s.now()
		report.Status = StatusRejected
		report.ReviewedAt = &now
		report.ReviewedBy = decidedBy
		if err := s.store.UpdateReport(ctx, report); err != nil {
			return err
		}

		unlock := s.reporterLocks.Lock(report.Reporter)
		stats, err := s.loadStats(ctx, report.Reporter)
		if err == nil {
			if stats.Verified > 0 {
				stats.Verified--
			}
			stats.Rejected++
			stats.Reputation = s.guard.CalculateReputation(stats)
			err = s.store.PutReporterStats(ctx, stats)
		}
		unlock()
		if err != nil {
			s.logger.Warn("failed to rebalance reporter stats after appeal",
				"reporter", report.Reporter, "error", err)
		}
	}

	if s.blacklist != nil {
		if err := s.blacklist.Remove(ctx, report.Subject); err != nil && !errors.Is(err, blacklist.ErrNotFound) {
			return fmt.Errorf("lift blacklisting: %w", err)
		}
	}
	return nil
}

// shouldAutoApprove is deliberately conservative: only a subject that holds
// an independent verified record gets an automatic pass.
func (s *Service) shouldAutoApprove(ctx context.Context, subject string) bool {
	code, issuer, ok := splitAssetSubject(subject)
	if !ok {
		return false
	}
	v, err := s.store.GetAssetVerification(ctx, code, issuer)
	return err == nil && v != nil && v.Status == StatusVerified
}

// VerifyAsset records an operator verification decision for an asset.
func (s *Service) VerifyAsset(ctx context.Context, code, issuer, status, declaredLevel, verifiedBy string) (*AssetVerification, error) {
	switch status {
	case StatusPending, StatusVerified, StatusRejected:
	default:
		return nil, fmt.Errorf("community: unknown verification status %q", status)
	}
	if !validation.IsValidAssetCode(code) || !validation.IsValidAccountID(issuer) {
		return nil, fmt.Errorf("community: invalid asset %s:%s", code, issuer)
	}

	v := &AssetVerification{
		Code:          code,
		Issuer:        issuer,
		Status:        status,
		DeclaredLevel: declaredLevel,
		VerifiedBy:    verifiedBy,
		VerifiedAt:    s.now(),
	}
	if err := s.store.PutAssetVerification(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifyContract records an operator verification decision for a contract.
func (s *Service) VerifyContract(ctx context.Context, contractID string, verified bool) error {
	if !validation.IsValidContractID(contractID) {
		return fmt.Errorf("community: invalid contract ID %q", contractID)
	}
	return s.store.PutContractVerification(ctx, contractID, verified)
}

// Reports returns a subject's reports for display.
func (s *Service) Reports(ctx context.Context, subject string, limit int) ([]*Report, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListReportsBySubject(ctx, subject, limit)
}

// CountReports aggregates the settled and pending report totals the risk
// models consume. Only guard-passed reports are in the store, so the counts
// are already trust-filtered.
func (s *Service) CountReports(ctx context.Context, subject string) (ReportCounts, error) {
	return s.store.CountReportsBySubject(ctx, subject)
}

// ReporterReputation returns the current stats for a reporter.
func (s *Service) ReporterReputation(ctx context.Context, reporter string) (*ReporterStats, error) {
	return s.loadStats(ctx, reporter)
}

// loadStats fetches stats, creating the neutral starting record for
// first-time reporters.
func (s *Service) loadStats(ctx context.Context, reporter string) (*ReporterStats, error) {
	stats, err := s.store.GetReporterStats(ctx, reporter)
	if err == nil && stats != nil {
		return stats, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &ReporterStats{
		Reporter:   reporter,
		Reputation: NewReporterReputation,
	}, nil
}

// splitAssetSubject parses a code:issuer subject. Account and contract
// subjects return ok=false.
func splitAssetSubject(subject string) (code, issuer string, ok bool) {
	for i := 0; i < len(subject); i++ {
		if subject[i] == ':' {
			return subject[:i], subject[i+1:], i > 0 && i+1 < len(subject)
		}
	}
	return "", "", false
}
