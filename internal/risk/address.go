package risk

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// Address model contributions.
const (
	newAccountPenalty  = 15.0
	matureAccountBonus = 15.0
	lowActivityPenalty = 10.0
	highActivityBonus  = 10.0
	zeroBalancePenalty = 5.0

	newAccountAgeDays    = 7
	matureAccountAgeDays = 365
	lowActivityTxCount   = 5
	highActivityTxCount  = 100
)

// AnalyzeAddress scores a ledger account from its age, activity, balance and
// blacklist signals.
func (e *Engine) AnalyzeAddress(ctx context.Context, address string) (*RiskAssessment, error) {
	started := time.Now()

	if !validation.IsValidAccountID(address) {
		return nil, fmt.Errorf("%w: bad account ID %q", ErrInvalidSubject, address)
	}

	ctx, span := traces.StartSpan(ctx, "risk.AnalyzeAddress", traces.String("address", address))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, e.analysisTimeout)
	defer cancel()

	set := newSignalSet()

	var (
		account   *AccountSignal
		blacklist *BlacklistRecord
	)

	g, gctx := errgroup.WithContext(actx)
	g.Go(func() error {
		if acc, ok := fetchSignal(gctx, e, set, SignalAccount, func(c context.Context) (*AccountSignal, error) {
			return e.p.Ledger.LoadAccount(c, address)
		}); ok {
			account = acc
		}
		return nil
	})
	g.Go(func() error {
		if rec, ok := fetchSignal(gctx, e, set, SignalBlacklist, func(c context.Context) (*BlacklistRecord, error) {
			return e.p.Blacklist.Lookup(c, address)
		}); ok {
			blacklist = rec
		}
		return nil
	})
	_ = g.Wait()

	partial := actx.Err() != nil

	if blacklist != nil {
		return e.override(address, SubjectAddress, blacklist, set, started), nil
	}

	score := BaselineScore
	var threats []Threat

	// Account-derived contributions only apply when the account signal came
	// back. An account that genuinely does not exist scores as brand new.
	if account != nil {
		if account.AgeDays < newAccountAgeDays {
			score += newAccountPenalty
			threats = append(threats, Threat{
				Name:        "new_account",
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("account is %d day(s) old", account.AgeDays),
				Impact:      newAccountPenalty,
			})
		} else if account.AgeDays > matureAccountAgeDays {
			score -= matureAccountBonus
		}

		if account.TxCount < lowActivityTxCount {
			score += lowActivityPenalty
			threats = append(threats, Threat{
				Name:        "low_activity",
				Severity:    SeverityLow,
				Description: fmt.Sprintf("only %d transaction(s) on record", account.TxCount),
				Impact:      lowActivityPenalty,
			})
		} else if account.TxCount > highActivityTxCount {
			score -= highActivityBonus
		}

		if account.NativeBalance == 0 {
			score += zeroBalancePenalty
			threats = append(threats, Threat{
				Name:        "zero_balance",
				Severity:    SeverityLow,
				Description: "account holds no native balance",
				Impact:      zeroBalancePenalty,
			})
		}
	}

	return e.finish(address, SubjectAddress, score, threats, set, partial, started), nil
}
