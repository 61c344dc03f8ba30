package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumenguard/lumenguard/internal/txparser"
)

// Signal names recorded in RiskAssessment.SignalsUnavailable.
const (
	SignalAccount      = "account"
	SignalAssetInfo    = "asset_info"
	SignalBlacklist    = "blacklist"
	SignalTOML         = "toml"
	SignalReports      = "community_reports"
	SignalVerification = "verification"
	SignalDestination  = "destination"
	SignalContract     = "contract_verification"
)

// AccountSignal is the typed view of a ledger account used for scoring.
// Exists=false means the account genuinely does not exist on the ledger
// (that is data, not a failure).
type AccountSignal struct {
	Exists        bool
	AgeDays       int
	TxCount       int
	NativeBalance float64
	Balances      []Balance
	SubentryCount int
}

// Balance is one non-native trustline balance held by an account.
type Balance struct {
	Asset  txparser.Asset
	Amount float64
}

// AssetInfoSignal is ledger-side metadata for an (code, issuer) pair.
type AssetInfoSignal struct {
	Exists     bool
	HomeDomain string
	NumHolders int
	Amount     float64
}

// BlacklistRecord marks a subject as blacklisted.
type BlacklistRecord struct {
	Subject string    `json:"subject"`
	Reason  string    `json:"reason"`
	Source  string    `json:"source"`
	AddedAt time.Time `json:"addedAt"`
}

// ReportCounts aggregates community reports for a subject. Only reports that
// passed the trust guard feed these counts.
type ReportCounts struct {
	Verified int
	Pending  int
}

// Verification statuses for assets.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

// VerificationSignal is the issuer-verification record for an asset.
type VerificationSignal struct {
	Status        string
	DeclaredLevel Level
}

// LedgerReader fetches account and asset data from the ledger.
// Implementations return an error only when the ledger is unreachable;
// "does not exist" is reported via the Exists field.
type LedgerReader interface {
	LoadAccount(ctx context.Context, id string) (*AccountSignal, error)
	GetAssetInfo(ctx context.Context, code, issuer string) (*AssetInfoSignal, error)
}

// TOMLVerifier checks whether a home domain's TOML file references the
// issuer. (false, nil) means the file was fetched but does not reference the
// issuer; an error means the check could not be performed.
type TOMLVerifier interface {
	Verify(ctx context.Context, domain, issuer string) (bool, error)
}

// BlacklistChecker looks up blacklist membership. (nil, nil) means not
// blacklisted.
type BlacklistChecker interface {
	Lookup(ctx context.Context, subject string) (*BlacklistRecord, error)
}

// ReportReader aggregates trust-guard-accepted community reports.
type ReportReader interface {
	CountReports(ctx context.Context, subject string) (ReportCounts, error)
}

// VerificationReader fetches verification records for assets and contracts.
// (nil, nil) means no record exists.
type VerificationReader interface {
	AssetVerification(ctx context.Context, code, issuer string) (*VerificationSignal, error)
	IsContractVerified(ctx context.Context, contractID string) (bool, error)
}

// Providers bundles all signal providers an Engine needs.
type Providers struct {
	Ledger        LedgerReader
	TOML          TOMLVerifier
	Blacklist     BlacklistChecker
	Reports       ReportReader
	Verifications VerificationReader
}

// signalSet tracks which signals failed during one analysis.
type signalSet struct {
	mu          sync.Mutex
	unavailable map[string]bool
}

func newSignalSet() *signalSet {
	return &signalSet{unavailable: make(map[string]bool)}
}

func (s *signalSet) markUnavailable(name string) {
	s.mu.Lock()
	s.unavailable[name] = true
	s.mu.Unlock()
}

// names returns the unavailable signals in sorted order so identical signal
// snapshots produce identical assessments.
func (s *signalSet) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unavailable) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.unavailable))
	for name := range s.unavailable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
