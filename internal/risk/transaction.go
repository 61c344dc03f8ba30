package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/txparser"
)

// Transaction model contributions.
const (
	unfundedDestPenalty   = 10.0
	largeTransferPenalty  = 15.0
	clawbackPenalty       = 20.0
	accountMergePenalty   = 25.0
	contractCallPenalty   = 20.0
	controlChangePenalty  = 20.0
	unknownOpPenalty      = 10.0
	opCountPenalty        = 10.0
	resourceBoundPenalty  = 10.0
	invalidAssetRefImpact = 10.0
)

// txSignals holds prefetched per-transaction signal snapshots.
type txSignals struct {
	mu        sync.Mutex
	assets    map[txparser.Asset]*RiskAssessment
	accounts  map[string]*AccountSignal
	contracts map[string]bool
}

// AnalyzeTransaction scores a decoded transaction.
//
// The final score combines the transaction's shape risk and its single
// worst operation by maximum, not by sum: a long batch of harmless payments
// is not punished for its length, but one dangerous operation surfaces at
// full weight. Threats list in operation order, shape findings last, which
// keeps equal-severity ordering deterministic.
func (e *Engine) AnalyzeTransaction(ctx context.Context, env *txparser.Envelope) (*RiskAssessment, error) {
	started := time.Now()

	if env == nil || len(env.Operations) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ErrInvalidSubject)
	}

	subject := fmt.Sprintf("tx:%s:%d", env.Source, env.SequenceNo)
	ctx, span := traces.StartSpan(ctx, "risk.AnalyzeTransaction",
		traces.String("source", env.Source),
		traces.Int("operations", len(env.Operations)),
	)
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, e.analysisTimeout)
	defer cancel()

	set := newSignalSet()
	sig := e.prefetchTxSignals(actx, env, set)
	partial := actx.Err() != nil

	var threats []Threat
	worstOpDelta := math.Inf(-1)

	for i := range env.Operations {
		opThreats, delta := e.evaluateOperation(&env.Operations[i], sig)
		threats = append(threats, opThreats...)
		if delta > worstOpDelta {
			worstOpDelta = delta
		}
	}

	shapeDelta, shapeThreats := e.shapeRisk(env)
	threats = append(threats, shapeThreats...)

	// Max-combine, not sum. A zero shape delta means "no shape finding" and
	// must not mask a negative (risk-reducing) operation delta.
	finalDelta := worstOpDelta
	if shapeDelta > 0 && shapeDelta > finalDelta {
		finalDelta = shapeDelta
	}

	score := BaselineScore + finalDelta
	return e.finish(subject, SubjectTransaction, score, threats, set, partial, started), nil
}

// shapeRisk scores transaction-level shape: operation count and simulated
// execution cost, each a bounded increment.
func (e *Engine) shapeRisk(env *txparser.Envelope) (float64, []Threat) {
	delta := 0.0
	var threats []Threat

	if n := len(env.Operations); n > e.maxOps {
		delta += opCountPenalty
		threats = append(threats, Threat{
			Name:        "high_operation_count",
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("transaction bundles %d operations", n),
			Impact:      opCountPenalty,
		})
	}

	if env.Resources.CPUInstructions > maxCPUInstructions {
		delta += resourceBoundPenalty
		threats = append(threats, Threat{
			Name:        "high_cpu_cost",
			Severity:    SeverityMedium,
			Description: "simulated CPU cost exceeds the expected bound",
			Impact:      resourceBoundPenalty,
		})
	}
	if env.Resources.MemoryBytes > maxMemoryBytes {
		delta += resourceBoundPenalty
		threats = append(threats, Threat{
			Name:        "high_memory_cost",
			Severity:    SeverityMedium,
			Description: "simulated memory cost exceeds the expected bound",
			Impact:      resourceBoundPenalty,
		})
	}

	return delta, threats
}

// evaluateOperation produces the threats and score delta for one operation
// using the prefetched signal snapshot. Pure: no I/O.
func (e *Engine) evaluateOperation(op *txparser.Operation, sig *txSignals) ([]Threat, float64) {
	var threats []Threat
	delta := 0.0

	switch op.Type {
	case txparser.OpPayment, txparser.OpPathPayment:
		if !op.Asset.IsZero() && !op.Asset.IsNative() {
			if assess, ok := sig.assets[op.Asset]; ok && assess != nil {
				assetDelta := assess.Score - BaselineScore
				delta += assetDelta
				if assetDelta > 0 {
					threats = append(threats, Threat{
						Name:        "risky_asset",
						Severity:    severityForLevel(assess.Level),
						Description: fmt.Sprintf("operation %d transfers %s, assessed %s", op.Index, op.Asset, assess.Level),
						Impact:      assetDelta,
					})
				}
			} else if ok {
				// asset reference itself was invalid
				delta += invalidAssetRefImpact
				threats = append(threats, Threat{
					Name:        "invalid_asset_reference",
					Severity:    SeverityLow,
					Description: fmt.Sprintf("operation %d references an undecodable asset", op.Index),
					Impact:      invalidAssetRefImpact,
				})
			}
		}
		if op.Destination != "" {
			if acc, ok := sig.accounts[op.Destination]; ok && acc != nil && !acc.Exists {
				delta += unfundedDestPenalty
				threats = append(threats, Threat{
					Name:        "unfunded_destination",
					Severity:    SeverityLow,
					Description: fmt.Sprintf("operation %d pays an account that does not exist yet", op.Index),
					Impact:      unfundedDestPenalty,
				})
			}
		}
		if op.Amount > e.largeTransfer {
			delta += largeTransferPenalty
			threats = append(threats, Threat{
				Name:        "large_transfer",
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("operation %d moves %.2f, above the large-transfer bound", op.Index, op.Amount),
				Impact:      largeTransferPenalty,
			})
		}

	case txparser.OpClawback:
		// Clawbacks seize funds and cannot be undone.
		delta += clawbackPenalty
		threats = append(threats, Threat{
			Name:        "clawback_operation",
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("operation %d claws back issued funds", op.Index),
			Impact:      clawbackPenalty,
		})

	case txparser.OpAccountMerge:
		// A merge destroys the source account entirely.
		delta += accountMergePenalty
		threats = append(threats, Threat{
			Name:        "account_merge",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("operation %d merges the account into %s", op.Index, op.Destination),
			Impact:      accountMergePenalty,
		})

	case txparser.OpInvokeContract:
		verified := sig.contracts[op.ContractID]
		if !verified {
			delta += contractCallPenalty
			threats = append(threats, Threat{
				Name:        "unverified_contract_call",
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("operation %d invokes unverified contract %s", op.Index, op.ContractID),
				Impact:      contractCallPenalty,
			})
		}

	case txparser.OpSetOptions:
		if weakensControl(op) {
			delta += controlChangePenalty
			threats = append(threats, Threat{
				Name:        "control_weakening",
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("operation %d adds signer %s while changing thresholds", op.Index, op.SignerKey),
				Impact:      controlChangePenalty,
			})
		}

	case txparser.OpUnknown:
		delta += unknownOpPenalty
		threats = append(threats, Threat{
			Name:        "unrecognized_operation",
			Severity:    SeverityLow,
			Description: fmt.Sprintf("operation %d has unrecognized kind %q", op.Index, op.RawKind),
			Impact:      unknownOpPenalty,
		})
	}

	return threats, delta
}

// weakensControl reports whether a set-options operation adds a signer while
// also changing signing thresholds, the classic account-takeover shape.
func weakensControl(op *txparser.Operation) bool {
	addsSigner := op.SignerKey != "" && (op.SignerWeight == nil || *op.SignerWeight > 0)
	changesThresholds := op.LowThreshold != nil || op.MedThreshold != nil || op.HighThreshold != nil
	return addsSigner && changesThresholds
}

// prefetchTxSignals concurrently resolves every asset assessment,
// destination lookup, and contract verification the operation walk needs.
func (e *Engine) prefetchTxSignals(ctx context.Context, env *txparser.Envelope, set *signalSet) *txSignals {
	sig := &txSignals{
		assets:    make(map[txparser.Asset]*RiskAssessment),
		accounts:  make(map[string]*AccountSignal),
		contracts: make(map[string]bool),
	}

	assets := make(map[txparser.Asset]bool)
	dests := make(map[string]bool)
	contracts := make(map[string]bool)
	for i := range env.Operations {
		op := &env.Operations[i]
		switch op.Type {
		case txparser.OpPayment, txparser.OpPathPayment:
			if !op.Asset.IsZero() && !op.Asset.IsNative() {
				assets[op.Asset] = true
			}
			if op.Destination != "" {
				dests[op.Destination] = true
			}
		case txparser.OpInvokeContract:
			if op.ContractID != "" {
				contracts[op.ContractID] = true
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for asset := range assets {
		g.Go(func() error {
			assess, err := e.AnalyzeAsset(gctx, asset.Code, asset.Issuer)
			sig.mu.Lock()
			if err != nil {
				sig.assets[asset] = nil // invalid reference, flagged during the walk
			} else {
				sig.assets[asset] = assess
			}
			sig.mu.Unlock()
			return nil
		})
	}

	for dest := range dests {
		g.Go(func() error {
			if acc, ok := fetchSignal(gctx, e, set, SignalDestination, func(c context.Context) (*AccountSignal, error) {
				return e.p.Ledger.LoadAccount(c, dest)
			}); ok {
				sig.mu.Lock()
				sig.accounts[dest] = acc
				sig.mu.Unlock()
			}
			return nil
		})
	}

	for id := range contracts {
		g.Go(func() error {
			if verified, ok := fetchSignal(gctx, e, set, SignalContract, func(c context.Context) (bool, error) {
				return e.p.Verifications.IsContractVerified(c, id)
			}); ok {
				sig.mu.Lock()
				sig.contracts[id] = verified
				sig.mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return sig
}

// severityForLevel maps an asset verdict onto the severity of the threat it
// raises inside a transaction.
func severityForLevel(level Level) Severity {
	switch level {
	case LevelCritical:
		return SeverityCritical
	case LevelHigh:
		return SeverityHigh
	case LevelMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
