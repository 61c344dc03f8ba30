package community

import (
	"sort"
	"time"
)

// Trust guard thresholds.
const (
	// MaxReportsPerWindow caps submissions per reporter per rolling window.
	MaxReportsPerWindow = 5
	// RateWindow is the rolling submission window.
	RateWindow = 24 * time.Hour
	// DuplicateWindow is how long a (subject, reporter) pair blocks
	// resubmission.
	DuplicateWindow = time.Hour
	// BotGap is the minimum believable spacing between consecutive human
	// reports inside a burst.
	BotGap = 60 * time.Second
	// BotMinBurst is the smallest burst the bot check considers.
	BotMinBurst = 3

	// SpamReputation is the reputation floor below which a reporter with
	// prior spam is rejected outright.
	SpamReputation = 30
	// AutoTrustReputation is the reputation above which reports skip
	// manual review.
	AutoTrustReputation = 70
	// NewReporterReputation is the neutral starting reputation.
	NewReporterReputation = 50

	verifiedBonusRatio = 0.8
	verifiedBonus      = 10.0
)

// Guard implements the submission filters. It is stateless; callers hold
// the per-reporter lock and pass current state in.
type Guard struct{}

// NewGuard creates a Guard.
func NewGuard() *Guard { return &Guard{} }

// ValidateSubmission decides whether a reporter may submit now.
// Returns ErrRateLimited or ErrSpamFlagged on rejection; on acceptance the
// boolean reports whether the submission needs manual review.
func (g *Guard) ValidateSubmission(stats *ReporterStats, now time.Time) (requiresManualReview bool, err error) {
	if countInWindow(stats.RecentSubmissions, now) >= MaxReportsPerWindow {
		return false, ErrRateLimited
	}
	if stats.Reputation < SpamReputation && stats.Spam >= 1 {
		return false, ErrSpamFlagged
	}
	return stats.Reputation < AutoTrustReputation, nil
}

// CheckDuplicate reports whether the reporter already reported the subject
// inside the duplicate window. recent is the reporter's own recent reports.
func (g *Guard) CheckDuplicate(subject string, recent []*Report, now time.Time) bool {
	cutoff := now.Add(-DuplicateWindow)
	for _, r := range recent {
		if r.Subject == subject && r.CreatedAt.After(cutoff) {
			return true
		}
	}
	return false
}

// DetectBotBehavior reports whether a burst of submissions looks automated:
// any two consecutive timestamps less than BotGap apart among a burst of at
// least BotMinBurst. A positive flags the report for review; it never
// auto-blocks.
func (g *Guard) DetectBotBehavior(timestamps []time.Time) bool {
	if len(timestamps) < BotMinBurst {
		return false
	}
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Sub(sorted[i-1]) < BotGap {
			return true
		}
	}
	return false
}

// CalculateReputation derives a reporter's reputation from their settled
// report history:
//
//	100 x (verified/total) - 50 x (spam/total), +10 above an 0.8 verified
//	ratio, clamped to [0, 100]. New reporters start at a neutral 50.
func (g *Guard) CalculateReputation(stats *ReporterStats) float64 {
	if stats.Total == 0 {
		return NewReporterReputation
	}

	total := float64(stats.Total)
	verifiedRatio := float64(stats.Verified) / total
	rep := 100*verifiedRatio - 50*float64(stats.Spam)/total
	if verifiedRatio > verifiedBonusRatio {
		rep += verifiedBonus
	}

	if rep < 0 {
		return 0
	}
	if rep > 100 {
		return 100
	}
	return rep
}

// countInWindow counts submissions inside the rolling rate window.
func countInWindow(submissions []time.Time, now time.Time) int {
	cutoff := now.Add(-RateWindow)
	n := 0
	for _, ts := range submissions {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// pruneWindow drops submissions older than the rate window, preserving
// order.
func pruneWindow(submissions []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-RateWindow)
	kept := submissions[:0]
	for _, ts := range submissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
