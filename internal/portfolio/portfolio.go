// Package portfolio aggregates per-asset risk into one holdings-level view.
//
// A scan loads every non-native trustline an account holds, runs the asset
// risk model on each with bounded parallelism, and reduces to an overall
// score (arithmetic mean), a high-risk count, and actionable warnings. One
// asset failing hard degrades to a neutral placeholder rather than aborting
// the rest of the scan.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenguard/lumenguard/internal/metrics"
	"github.com/lumenguard/lumenguard/internal/risk"
	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// DefaultConcurrency bounds parallel asset analyses per scan. Each analysis
// fans out several upstream fetches of its own, so this is deliberately low.
const DefaultConcurrency = 4

// AssetAnalyzer is the slice of the risk engine a scan needs.
type AssetAnalyzer interface {
	AnalyzeAsset(ctx context.Context, code, issuer string) (*risk.RiskAssessment, error)
}

// Holding is one analyzed trustline.
type Holding struct {
	Code    string  `json:"code"`
	Issuer  string  `json:"issuer"`
	Balance float64 `json:"balance"`

	Assessment *risk.RiskAssessment `json:"assessment"`
	// Failed marks a holding whose analysis errored hard and carries the
	// neutral placeholder assessment instead of a real one.
	Failed bool `json:"failed,omitempty"`
}

// Analysis is the result of one portfolio scan.
type Analysis struct {
	Address       string     `json:"address"`
	OverallScore  float64    `json:"overallScore"`
	OverallLevel  risk.Level `json:"overallLevel"`
	HighRiskCount int        `json:"highRiskCount"`
	Holdings      []Holding  `json:"holdings"`
	Warnings      []string   `json:"warnings"`
	ScannedAt     time.Time  `json:"scannedAt"`
}

// Scanner runs portfolio scans.
type Scanner struct {
	analyzer    AssetAnalyzer
	ledger      risk.LedgerReader
	concurrency int
	logger      *slog.Logger
}

// NewScanner creates a Scanner. concurrency <= 0 selects the default.
func NewScanner(analyzer AssetAnalyzer, ledger risk.LedgerReader, concurrency int, logger *slog.Logger) *Scanner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{analyzer: analyzer, ledger: ledger, concurrency: concurrency, logger: logger}
}

// Scan analyzes every non-native holding of the address. The account lookup
// itself failing is fatal: without the trustline list there is nothing to
// scan.
func (s *Scanner) Scan(ctx context.Context, address string) (*Analysis, error) {
	if !validation.IsValidAccountID(address) {
		return nil, fmt.Errorf("%w: bad account ID %q", risk.ErrInvalidSubject, address)
	}

	ctx, span := traces.StartSpan(ctx, "portfolio.Scan", traces.String("address", address))
	defer span.End()

	account, err := s.ledger.LoadAccount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", address, err)
	}

	analysis := &Analysis{
		Address:      address,
		OverallLevel: risk.LevelSafe,
		ScannedAt:    time.Now(),
	}
	metrics.PortfolioScansTotal.Inc()

	if account == nil || !account.Exists {
		analysis.Warnings = append(analysis.Warnings, "Account does not exist on the ledger; nothing to scan.")
		return analysis, nil
	}

	for _, bal := range account.Balances {
		if bal.Asset.IsNative() || bal.Asset.IsZero() {
			continue
		}
		analysis.Holdings = append(analysis.Holdings, Holding{
			Code:    bal.Asset.Code,
			Issuer:  bal.Asset.Issuer,
			Balance: bal.Amount,
		})
	}

	if len(analysis.Holdings) == 0 {
		return analysis, nil
	}

	// Holdings are independent; analyze them with bounded parallelism and
	// write results by index so the output order matches the trustline list.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range analysis.Holdings {
		h := &analysis.Holdings[i]
		g.Go(func() error {
			assess, err := s.analyzer.AnalyzeAsset(gctx, h.Code, h.Issuer)
			if err != nil {
				s.logger.Warn("holding analysis failed", "asset", h.Code+":"+h.Issuer, "error", err)
				h.Failed = true
				h.Assessment = neutralPlaceholder(h.Code, h.Issuer)
				return nil
			}
			h.Assessment = assess
			return nil
		})
	}
	_ = g.Wait()

	s.reduce(analysis)
	return analysis, nil
}

// reduce folds per-holding assessments into the overall verdict.
func (s *Scanner) reduce(analysis *Analysis) {
	total := 0.0
	for i := range analysis.Holdings {
		h := &analysis.Holdings[i]
		total += h.Assessment.Score

		name := h.Code + ":" + h.Issuer
		switch {
		case h.Failed:
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("Could not analyze %s — treat with caution.", name))
		case h.Assessment.HasThreat("blacklisted"):
			analysis.HighRiskCount++
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("%s is blacklisted: remove immediately.", name))
		case h.Assessment.Level == risk.LevelHigh || h.Assessment.Level == risk.LevelCritical:
			analysis.HighRiskCount++
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("%s is rated %s: review this holding and consider removing it.", name, h.Assessment.Level))
		}
	}

	analysis.OverallScore = math.Round(total/float64(len(analysis.Holdings))*10) / 10
	analysis.OverallLevel = risk.LevelForScore(analysis.OverallScore)
}

// neutralPlaceholder stands in for a holding that could not be analyzed.
func neutralPlaceholder(code, issuer string) *risk.RiskAssessment {
	return &risk.RiskAssessment{
		Subject:     code + ":" + issuer,
		SubjectType: risk.SubjectAsset,
		Score:       risk.BaselineScore,
		Level:       risk.LevelMedium,
		Partial:     true,
		EvaluatedAt: time.Now(),
	}
}
