package risk

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/txparser"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// Per-signal contribution caps for the asset model. Each signal is capped
// individually so no single weak signal dominates.
const (
	verifiedSafeBonus  = 40.0
	missingTOMLPenalty = 15.0
	verifiedReportStep = 20.0
	verifiedReportCap  = 40.0
	pendingReportStep  = 5.0
	pendingReportCap   = 15.0
)

// assetSignals is one immutable snapshot of all asset-level signals.
type assetSignals struct {
	blacklist    *BlacklistRecord
	verification *VerificationSignal
	info         *AssetInfoSignal
	reports      ReportCounts
	hasReports   bool
	tomlValid    bool
	hasTOML      bool
}

// AnalyzeAsset scores a single (code, issuer) pair.
// The native currency needs no issuer trust and scores as a verified asset.
func (e *Engine) AnalyzeAsset(ctx context.Context, code, issuer string) (*RiskAssessment, error) {
	started := time.Now()
	subject := code + ":" + issuer

	if !validation.IsValidAssetCode(code) {
		return nil, fmt.Errorf("%w: bad asset code %q", ErrInvalidSubject, code)
	}
	if issuer != txparser.NativeIssuer && !validation.IsValidAccountID(issuer) {
		return nil, fmt.Errorf("%w: bad issuer %q", ErrInvalidSubject, issuer)
	}

	ctx, span := traces.StartSpan(ctx, "risk.AnalyzeAsset", traces.String("asset", subject))
	defer span.End()

	set := newSignalSet()

	if issuer == txparser.NativeIssuer {
		// Nothing to distrust about the native currency itself.
		return e.finish(subject, SubjectAsset, BaselineScore-verifiedSafeBonus, nil, set, false, started), nil
	}

	actx, cancel := context.WithTimeout(ctx, e.analysisTimeout)
	defer cancel()

	sig := e.fetchAssetSignals(actx, code, issuer, set)
	partial := actx.Err() != nil

	// Absolute override: blacklist short-circuits everything else.
	if sig.blacklist != nil {
		return e.override(subject, SubjectAsset, sig.blacklist, set, started), nil
	}

	score := BaselineScore
	var threats []Threat

	// Issuer verification: a verified asset with a SAFE declared level earns
	// the full bonus.
	if sig.verification != nil && sig.verification.Status == VerificationVerified && sig.verification.DeclaredLevel == LevelSafe {
		score -= verifiedSafeBonus
	}

	// Home-domain TOML. No domain, unfetchable-but-parsed, or a file that
	// does not reference the issuer all count as unconfirmed issuers.
	if sig.hasTOML && !sig.tomlValid {
		score += missingTOMLPenalty
		threats = append(threats, Threat{
			Name:        "toml_unverified",
			Severity:    SeverityMedium,
			Description: "issuer home domain does not publish a TOML file referencing this asset",
			Impact:      missingTOMLPenalty,
		})
	}

	// Community reports, trust-guard filtered.
	if sig.hasReports {
		if v := sig.reports.Verified; v > 0 {
			impact := verifiedReportStep * float64(v)
			if impact > verifiedReportCap {
				impact = verifiedReportCap
			}
			severity := SeverityMedium
			if v >= 2 {
				severity = SeverityHigh
			}
			score += impact
			threats = append(threats, Threat{
				Name:        "verified_community_reports",
				Severity:    severity,
				Description: fmt.Sprintf("%d verified community report(s) against this asset", v),
				Impact:      impact,
			})
		}
		if p := sig.reports.Pending; p > 0 {
			impact := pendingReportStep * float64(p)
			if impact > pendingReportCap {
				impact = pendingReportCap
			}
			score += impact
			threats = append(threats, Threat{
				Name:        "pending_community_reports",
				Severity:    SeverityLow,
				Description: fmt.Sprintf("%d unreviewed community report(s) against this asset", p),
				Impact:      impact,
			})
		}
	}

	return e.finish(subject, SubjectAsset, score, threats, set, partial, started), nil
}

// fetchAssetSignals fans out the independent signal fetches concurrently,
// then resolves the TOML check (which needs the issuer home domain).
func (e *Engine) fetchAssetSignals(ctx context.Context, code, issuer string, set *signalSet) assetSignals {
	var sig assetSignals
	subject := code + ":" + issuer

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if rec, ok := fetchSignal(gctx, e, set, SignalBlacklist, func(c context.Context) (*BlacklistRecord, error) {
			return e.p.Blacklist.Lookup(c, subject)
		}); ok {
			sig.blacklist = rec
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := fetchSignal(gctx, e, set, SignalVerification, func(c context.Context) (*VerificationSignal, error) {
			return e.p.Verifications.AssetVerification(c, code, issuer)
		}); ok {
			sig.verification = v
		}
		return nil
	})
	g.Go(func() error {
		if counts, ok := fetchSignal(gctx, e, set, SignalReports, func(c context.Context) (ReportCounts, error) {
			return e.p.Reports.CountReports(c, subject)
		}); ok {
			sig.reports = counts
			sig.hasReports = true
		}
		return nil
	})
	g.Go(func() error {
		if info, ok := fetchSignal(gctx, e, set, SignalAssetInfo, func(c context.Context) (*AssetInfoSignal, error) {
			return e.p.Ledger.GetAssetInfo(c, code, issuer)
		}); ok {
			sig.info = info
		}
		return nil
	})

	_ = g.Wait() // fetches never return errors, they mark signals unavailable

	// TOML depends on the home domain from asset info. If asset info itself
	// was unavailable the TOML signal is unavailable too; if the issuer has
	// no home domain the TOML check is a definitive "unverified".
	switch {
	case sig.info == nil:
		set.markUnavailable(SignalTOML)
	case sig.info.HomeDomain == "":
		sig.hasTOML = true
		sig.tomlValid = false
	default:
		if ok, fetched := fetchSignal(ctx, e, set, SignalTOML, func(c context.Context) (bool, error) {
			return e.p.TOML.Verify(c, sig.info.HomeDomain, issuer)
		}); fetched {
			sig.hasTOML = true
			sig.tomlValid = ok
		}
	}

	return sig
}
