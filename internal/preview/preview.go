// Package preview answers "will this transaction succeed and what will it
// cost", which is deliberately separate from risk scoring. A payment can be
// perfectly feasible and still dangerous, or safe and doomed to bounce.
// Feasibility problems split two ways: errors for conditions that would make
// submission fail outright, warnings for everything advisory.
package preview

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lumenguard/lumenguard/internal/risk"
	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/txparser"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// Ledger defaults; overridable per network through config.
const (
	DefaultBaseFee     = 0.00001 // native units per operation
	DefaultBaseReserve = 0.5     // native units per reserve entry
)

// Request describes the payment to simulate.
type Request struct {
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Asset       txparser.Asset `json:"asset"`
	Amount      float64        `json:"amount"`
	Memo        string         `json:"memo,omitempty"`
}

// Result is the feasibility verdict. Success is false only when submission
// would fail outright; Warnings never flip it.
type Result struct {
	Success bool `json:"success"`

	Fee float64 `json:"fee"`
	// OperationCount is how many operations the unsigned transaction needs
	// (a create-account for an unfunded native destination counts as one).
	OperationCount int `json:"operationCount"`
	// MinDestinationFunding is set when the destination is not yet
	// activated: the smallest native amount that can fund it.
	MinDestinationFunding float64 `json:"minDestinationFunding,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	PreviewedAt time.Time `json:"previewedAt"`
}

// Previewer simulates payments against current account state.
type Previewer struct {
	ledger      risk.LedgerReader
	baseFee     float64
	baseReserve float64
	// safetyMargin is how far above the raw minimum reserve a sender's
	// remaining balance may drop before a warning fires.
	safetyMargin float64
}

// NewPreviewer creates a Previewer. Zero fee/reserve select the defaults.
func NewPreviewer(ledger risk.LedgerReader, baseFee, baseReserve float64) *Previewer {
	if baseFee <= 0 {
		baseFee = DefaultBaseFee
	}
	if baseReserve <= 0 {
		baseReserve = DefaultBaseReserve
	}
	return &Previewer{
		ledger:       ledger,
		baseFee:      baseFee,
		baseReserve:  baseReserve,
		safetyMargin: baseReserve,
	}
}

// Preview simulates the payment. Input validation failures and an
// unreachable ledger return an error; everything discovered about the
// transaction itself lands in the Result.
func (p *Previewer) Preview(ctx context.Context, req *Request) (*Result, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "preview.Preview",
		traces.String("source", req.Source),
		traces.String("asset", req.Asset.String()),
	)
	defer span.End()

	source, err := p.ledger.LoadAccount(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("load source account: %w", err)
	}
	dest, err := p.ledger.LoadAccount(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("load destination account: %w", err)
	}

	res := &Result{
		Success:        true,
		OperationCount: 1,
		PreviewedAt:    time.Now(),
	}
	res.Fee = round7(p.baseFee * float64(res.OperationCount))

	if source == nil || !source.Exists {
		res.Success = false
		res.Errors = append(res.Errors, "source account does not exist on the ledger")
		return res, nil
	}

	p.checkDestination(req, dest, res)
	p.checkBalances(req, source, dest, res)

	return res, nil
}

func (p *Previewer) validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", risk.ErrInvalidSubject)
	}
	if !validation.IsValidAccountID(req.Source) {
		return fmt.Errorf("%w: bad source %q", risk.ErrInvalidSubject, req.Source)
	}
	if !validation.IsValidAccountID(req.Destination) {
		return fmt.Errorf("%w: bad destination %q", risk.ErrInvalidSubject, req.Destination)
	}
	if req.Asset.IsZero() {
		return fmt.Errorf("%w: missing asset", risk.ErrInvalidSubject)
	}
	if !req.Asset.IsNative() && !validation.IsValidAccountID(req.Asset.Issuer) {
		return fmt.Errorf("%w: bad asset issuer %q", risk.ErrInvalidSubject, req.Asset.Issuer)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", risk.ErrInvalidSubject)
	}
	if len(req.Memo) > 28 {
		return fmt.Errorf("%w: memo exceeds 28 bytes", risk.ErrInvalidSubject)
	}
	return nil
}

// checkDestination handles the not-yet-activated destination cases.
func (p *Previewer) checkDestination(req *Request, dest *risk.AccountSignal, res *Result) {
	exists := dest != nil && dest.Exists
	if exists {
		if !req.Asset.IsNative() && !holdsTrustline(dest, req.Asset) {
			res.Success = false
			res.Errors = append(res.Errors,
				fmt.Sprintf("destination has no trustline for %s; the payment would bounce", req.Asset))
		}
		return
	}

	minFunding := round7(2 * p.baseReserve)
	res.MinDestinationFunding = minFunding

	if !req.Asset.IsNative() {
		// An account that does not exist can hold no trustlines either.
		res.Success = false
		res.Errors = append(res.Errors,
			"destination account does not exist and cannot receive a non-native asset")
		return
	}

	if req.Amount < minFunding {
		res.Success = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("destination is not activated; sending at least %.7g is required to create it", minFunding))
		return
	}
	res.Warnings = append(res.Warnings,
		fmt.Sprintf("destination is not yet activated; this payment will create it (minimum funding %.7g)", minFunding))
}

// checkBalances verifies the source can cover amount, fee and reserve.
func (p *Previewer) checkBalances(req *Request, source *risk.AccountSignal, dest *risk.AccountSignal, res *Result) {
	minReserve := round7(float64(2+source.SubentryCount) * p.baseReserve)

	if req.Asset.IsNative() {
		needed := req.Amount + res.Fee + minReserve
		if source.NativeBalance < needed {
			res.Success = false
			res.Errors = append(res.Errors,
				fmt.Sprintf("insufficient balance: need %.7g (amount + fee + %.7g reserve), have %.7g",
					round7(needed), minReserve, source.NativeBalance))
			return
		}
		remaining := source.NativeBalance - req.Amount - res.Fee
		if remaining < minReserve+p.safetyMargin {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("remaining balance %.7g sits within %.7g of the minimum reserve", round7(remaining), p.safetyMargin))
		}
		return
	}

	// Non-native send: asset balance covers the amount, native covers fee
	// and reserve.
	held, ok := assetBalance(source, req.Asset)
	if !ok {
		res.Success = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("source holds no %s to send", req.Asset))
		return
	}
	if held < req.Amount {
		res.Success = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("insufficient %s balance: need %.7g, have %.7g", req.Asset, req.Amount, held))
	}
	if source.NativeBalance < res.Fee+minReserve {
		res.Success = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("insufficient native balance for fee and %.7g reserve", minReserve))
	}
}

func holdsTrustline(acc *risk.AccountSignal, asset txparser.Asset) bool {
	for _, b := range acc.Balances {
		if b.Asset == asset {
			return true
		}
	}
	return false
}

func assetBalance(acc *risk.AccountSignal, asset txparser.Asset) (float64, bool) {
	for _, b := range acc.Balances {
		if b.Asset == asset {
			return b.Amount, true
		}
	}
	return 0, false
}

// round7 rounds to the ledger's 7 decimal places of precision.
func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}
