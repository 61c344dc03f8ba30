package risk

import (
	"context"
	"errors"
	"time"

	"github.com/lumenguard/lumenguard/internal/txparser"
)

// test account IDs (structurally valid)
const (
	testIssuer   = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
	testAddress  = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testDest     = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	testContract = "CA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
)

var errProviderDown = errors.New("provider unavailable")

type fakeLedger struct {
	accounts  map[string]*AccountSignal
	assetInfo map[string]*AssetInfoSignal
	err       error
}

func (f *fakeLedger) LoadAccount(ctx context.Context, id string) (*AccountSignal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if acc, ok := f.accounts[id]; ok {
		return acc, nil
	}
	return &AccountSignal{Exists: false}, nil
}

func (f *fakeLedger) GetAssetInfo(ctx context.Context, code, issuer string) (*AssetInfoSignal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.assetInfo[code+":"+issuer]; ok {
		return info, nil
	}
	return &AssetInfoSignal{Exists: false}, nil
}

type fakeTOML struct {
	valid map[string]bool // domain → references issuer
	err   error
}

func (f *fakeTOML) Verify(ctx context.Context, domain, issuer string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.valid[domain], nil
}

type fakeBlacklist struct {
	records map[string]*BlacklistRecord
	err     error
}

func (f *fakeBlacklist) Lookup(ctx context.Context, subject string) (*BlacklistRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[subject], nil
}

type fakeReports struct {
	counts map[string]ReportCounts
	err    error
}

func (f *fakeReports) CountReports(ctx context.Context, subject string) (ReportCounts, error) {
	if f.err != nil {
		return ReportCounts{}, f.err
	}
	return f.counts[subject], nil
}

type fakeVerifications struct {
	assets    map[string]*VerificationSignal
	contracts map[string]bool
	err       error
}

func (f *fakeVerifications) AssetVerification(ctx context.Context, code, issuer string) (*VerificationSignal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.assets[code+":"+issuer], nil
}

func (f *fakeVerifications) IsContractVerified(ctx context.Context, contractID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.contracts[contractID], nil
}

// testbed bundles mutable fakes behind a ready-to-use engine.
type testbed struct {
	ledger        *fakeLedger
	toml          *fakeTOML
	blacklist     *fakeBlacklist
	reports       *fakeReports
	verifications *fakeVerifications
}

func newTestbed() *testbed {
	return &testbed{
		ledger: &fakeLedger{
			accounts:  make(map[string]*AccountSignal),
			assetInfo: make(map[string]*AssetInfoSignal),
		},
		toml:          &fakeTOML{valid: make(map[string]bool)},
		blacklist:     &fakeBlacklist{records: make(map[string]*BlacklistRecord)},
		reports:       &fakeReports{counts: make(map[string]ReportCounts)},
		verifications: &fakeVerifications{assets: make(map[string]*VerificationSignal), contracts: make(map[string]bool)},
	}
}

func (tb *testbed) engine(opts ...Option) *Engine {
	base := []Option{WithTimeouts(200*time.Millisecond, time.Second)}
	return NewEngine(Providers{
		Ledger:        tb.ledger,
		TOML:          tb.toml,
		Blacklist:     tb.blacklist,
		Reports:       tb.reports,
		Verifications: tb.verifications,
	}, append(base, opts...)...)
}

// addSafeAsset registers a verified SAFE asset with a valid TOML so its
// assessment lands at score 10.
func (tb *testbed) addSafeAsset(code, issuer string) {
	key := code + ":" + issuer
	tb.verifications.assets[key] = &VerificationSignal{Status: VerificationVerified, DeclaredLevel: LevelSafe}
	tb.ledger.assetInfo[key] = &AssetInfoSignal{Exists: true, HomeDomain: "example.org"}
	tb.toml.valid["example.org"] = true
}

func paymentEnvelope(asset txparser.Asset, amount float64) *txparser.Envelope {
	return &txparser.Envelope{
		Network:    "testnet",
		Source:     testAddress,
		Fee:        100,
		SequenceNo: 1,
		Operations: []txparser.Operation{
			{Index: 0, Type: txparser.OpPayment, RawKind: "payment", Destination: testDest, Asset: asset, Amount: amount},
		},
	}
}
