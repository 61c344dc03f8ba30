// Package risk implements deterministic risk scoring for ledger addresses,
// assets, and transactions.
//
// Every assessment starts from a neutral baseline of 50 and applies
// independent, individually-capped contributions per signal (issuer
// verification, blacklist membership, home-domain TOML validity, community
// reports, account age and activity). Scores are clamped to [0, 100] and the
// risk level is a monotone step function of the score, with one exception:
// blacklist membership short-circuits to exactly (100, CRITICAL).
//
// Signal fetches fail open: a provider that times out or errors contributes
// nothing and is recorded in the assessment's unavailable-signal set, so
// callers can tell a confident SAFE from an unconfirmed one. The only fatal
// inputs are malformed subjects themselves (bad account ID, undecodable
// envelope).
package risk

import (
	"context"
	"time"
)

// Severity of a single threat finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Level is the overall verdict for a subject.
type Level string

const (
	LevelSafe     Level = "SAFE"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// SubjectType distinguishes what an assessment describes.
type SubjectType string

const (
	SubjectAddress     SubjectType = "address"
	SubjectAsset       SubjectType = "asset"
	SubjectTransaction SubjectType = "transaction"
)

// Score boundaries.
const (
	BaselineScore = 50.0
	MaxScore      = 100.0
)

// LevelForScore maps a clamped score onto the level table.
// SAFE < 20, LOW < 40, MEDIUM < 60, HIGH <= 80, CRITICAL > 80.
// A heuristic stack that lands exactly on 80 stays HIGH; only scores past
// the boundary (and the blacklist override at 100) read CRITICAL.
func LevelForScore(score float64) Level {
	switch {
	case score > 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelSafe
	}
}

// ClampScore bounds a score to [0, 100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Threat is a named finding. Impact is the score delta the finding
// contributed, in [0, 100]. Threats are produced once and never mutated;
// the ordered threat list is the evidentiary explanation for the score.
type Threat struct {
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Impact      float64  `json:"impact"`
}

// RiskAssessment is the result of analyzing one subject. Score and level are
// derived: recomputing from the same signal snapshot reproduces the same
// assessment, including threat order.
type RiskAssessment struct {
	ID          string      `json:"id"`
	Subject     string      `json:"subject"`
	SubjectType SubjectType `json:"subjectType"`
	Score       float64     `json:"score"`
	Level       Level       `json:"level"`
	Threats     []Threat    `json:"threats"`

	Recommendations []string `json:"recommendations"`

	// SignalsUnavailable lists signals that failed or timed out and
	// contributed neutrally.
	SignalsUnavailable []string `json:"signalsUnavailable,omitempty"`
	// Partial is set when the caller's deadline expired before all signals
	// returned and the assessment is best-effort.
	Partial bool `json:"partial,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// HasThreat reports whether a threat with the given name was recorded.
func (a *RiskAssessment) HasThreat(name string) bool {
	for _, t := range a.Threats {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Store persists assessments for the audit trail. Persistence is
// best-effort: the recomputed assessment, not the stored row, is the source
// of truth.
type Store interface {
	Record(ctx context.Context, assessment *RiskAssessment) error
	ListBySubject(ctx context.Context, subject string, limit int) ([]*RiskAssessment, error)
}

// recommendationsFor renders the user-visible guidance for a verdict.
// CRITICAL is a hard block, HIGH requires explicit confirmation, everything
// else is informational.
func recommendationsFor(level Level, threats []Threat) []string {
	var recs []string
	switch level {
	case LevelCritical:
		recs = append(recs, "Do not proceed. This subject is considered dangerous.")
	case LevelHigh:
		recs = append(recs, "Proceed only after explicit confirmation. Multiple high-risk signals detected.")
	case LevelMedium:
		recs = append(recs, "Review the listed findings before proceeding.")
	default:
		recs = append(recs, "No elevated risk detected.")
	}

	for _, t := range threats {
		if t.Severity == SeverityCritical {
			recs = append(recs, "Blocking finding: "+t.Description)
		}
	}
	return recs
}
