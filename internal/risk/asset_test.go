package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenguard/lumenguard/internal/txparser"
)

func TestAssetVerifiedSafe(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("USDC", testIssuer)

	a, err := tb.engine().AnalyzeAsset(context.Background(), "USDC", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Score != 10 {
		t.Errorf("expected score 10, got %f", a.Score)
	}
	if a.Level != LevelSafe {
		t.Errorf("expected SAFE, got %s", a.Level)
	}
	if len(a.Threats) != 0 {
		t.Errorf("expected no threats, got %v", a.Threats)
	}
	if len(a.SignalsUnavailable) != 0 {
		t.Errorf("all signals were available, got %v", a.SignalsUnavailable)
	}
}

func TestAssetBlacklistOverride(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("SCAM", testIssuer)
	tb.blacklist.records["SCAM:"+testIssuer] = &BlacklistRecord{
		Subject: "SCAM:" + testIssuer,
		Reason:  "confirmed rug pull",
	}

	a, err := tb.engine().AnalyzeAsset(context.Background(), "SCAM", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The override is absolute: even a verified-safe record cannot soften it.
	if a.Score != 100 {
		t.Errorf("expected score exactly 100, got %f", a.Score)
	}
	if a.Level != LevelCritical {
		t.Errorf("expected CRITICAL, got %s", a.Level)
	}
	if len(a.Threats) != 1 || a.Threats[0].Severity != SeverityCritical {
		t.Fatalf("expected single CRITICAL threat, got %v", a.Threats)
	}
	if len(a.Recommendations) == 0 {
		t.Error("blacklist verdict must carry a hard-block recommendation")
	}
}

func TestAssetMissingTOML(t *testing.T) {
	tb := newTestbed()
	// issuer exists but publishes no home domain
	tb.ledger.assetInfo["FOO:"+testIssuer] = &AssetInfoSignal{Exists: true}

	a, err := tb.engine().AnalyzeAsset(context.Background(), "FOO", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Score != 65 {
		t.Errorf("expected 50+15=65, got %f", a.Score)
	}
	if !a.HasThreat("toml_unverified") {
		t.Errorf("expected toml_unverified threat, got %v", a.Threats)
	}
}

func TestAssetTOMLDoesNotReferenceIssuer(t *testing.T) {
	tb := newTestbed()
	tb.ledger.assetInfo["FOO:"+testIssuer] = &AssetInfoSignal{Exists: true, HomeDomain: "shady.example"}
	tb.toml.valid["shady.example"] = false

	a, err := tb.engine().AnalyzeAsset(context.Background(), "FOO", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.HasThreat("toml_unverified") {
		t.Errorf("expected toml_unverified threat, got %v", a.Threats)
	}
}

func TestAssetCommunityReports(t *testing.T) {
	tests := []struct {
		name         string
		verified     int
		pending      int
		wantDelta    float64
		wantSeverity Severity
		wantThreat   string
	}{
		{"one verified", 1, 0, 20, SeverityMedium, "verified_community_reports"},
		{"two verified", 2, 0, 40, SeverityHigh, "verified_community_reports"},
		{"five verified caps at 40", 5, 0, 40, SeverityHigh, "verified_community_reports"},
		{"one pending", 0, 1, 5, SeverityLow, "pending_community_reports"},
		{"five pending caps at 15", 0, 5, 15, SeverityLow, "pending_community_reports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestbed()
			tb.ledger.assetInfo["FOO:"+testIssuer] = &AssetInfoSignal{Exists: true, HomeDomain: "ok.example"}
			tb.toml.valid["ok.example"] = true
			tb.reports.counts["FOO:"+testIssuer] = ReportCounts{Verified: tt.verified, Pending: tt.pending}

			a, err := tb.engine().AnalyzeAsset(context.Background(), "FOO", testIssuer)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := BaselineScore + tt.wantDelta; a.Score != want {
				t.Errorf("expected score %f, got %f", want, a.Score)
			}
			found := false
			for _, threat := range a.Threats {
				if threat.Name == tt.wantThreat {
					found = true
					if threat.Severity != tt.wantSeverity {
						t.Errorf("expected severity %s, got %s", tt.wantSeverity, threat.Severity)
					}
				}
			}
			if !found {
				t.Errorf("expected threat %s, got %v", tt.wantThreat, a.Threats)
			}
		})
	}
}

func TestAssetFailsOpenWhenBlacklistDown(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("USDC", testIssuer)
	tb.blacklist.err = errProviderDown

	a, err := tb.engine().AnalyzeAsset(context.Background(), "USDC", testIssuer)
	if err != nil {
		t.Fatalf("signal failure must not abort the assessment: %v", err)
	}
	if a.Score != 10 {
		t.Errorf("unavailable signal must contribute zero, got score %f", a.Score)
	}
	if len(a.SignalsUnavailable) != 1 || a.SignalsUnavailable[0] != SignalBlacklist {
		t.Errorf("expected [blacklist] unavailable, got %v", a.SignalsUnavailable)
	}
}

func TestAssetAllSignalsDown(t *testing.T) {
	tb := newTestbed()
	tb.ledger.err = errProviderDown
	tb.toml.err = errProviderDown
	tb.blacklist.err = errProviderDown
	tb.reports.err = errProviderDown
	tb.verifications.err = errProviderDown

	a, err := tb.engine().AnalyzeAsset(context.Background(), "USDC", testIssuer)
	if err != nil {
		t.Fatalf("total signal loss must still produce an assessment: %v", err)
	}
	if a.Score != BaselineScore {
		t.Errorf("expected neutral baseline %f, got %f", BaselineScore, a.Score)
	}
	if len(a.SignalsUnavailable) == 0 {
		t.Error("expected unavailable signals to be flagged")
	}
}

func TestAssetIdempotence(t *testing.T) {
	tb := newTestbed()
	tb.ledger.assetInfo["FOO:"+testIssuer] = &AssetInfoSignal{Exists: true}
	tb.reports.counts["FOO:"+testIssuer] = ReportCounts{Verified: 1, Pending: 2}

	e := tb.engine()
	first, err := e.AnalyzeAsset(context.Background(), "FOO", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.AnalyzeAsset(context.Background(), "FOO", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Score != second.Score || first.Level != second.Level {
		t.Errorf("identical snapshots must reproduce the verdict: %f/%s vs %f/%s",
			first.Score, first.Level, second.Score, second.Level)
	}
	if len(first.Threats) != len(second.Threats) {
		t.Fatalf("threat count differs: %d vs %d", len(first.Threats), len(second.Threats))
	}
	for i := range first.Threats {
		if first.Threats[i].Name != second.Threats[i].Name {
			t.Errorf("threat order differs at %d: %s vs %s", i, first.Threats[i].Name, second.Threats[i].Name)
		}
	}
}

func TestAssetNative(t *testing.T) {
	tb := newTestbed()
	a, err := tb.engine().AnalyzeAsset(context.Background(), txparser.NativeCode, txparser.NativeIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Level != LevelSafe {
		t.Errorf("native currency must be SAFE, got %s", a.Level)
	}
}

func TestAssetInvalidSubject(t *testing.T) {
	tb := newTestbed()
	if _, err := tb.engine().AnalyzeAsset(context.Background(), "NOT A CODE", testIssuer); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := tb.engine().AnalyzeAsset(context.Background(), "USDC", "bogus-issuer"); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestAssetRecordsAuditTrail(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("USDC", testIssuer)
	store := NewMemoryStore()

	e := tb.engine(WithStore(store))
	a, err := e.AnalyzeAsset(context.Background(), "USDC", testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Persistence is async; poll briefly.
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		got, _ := store.ListBySubject(context.Background(), a.Subject, 10)
		if len(got) == 1 {
			if got[0].Score != a.Score {
				t.Errorf("stored score %f differs from returned %f", got[0].Score, a.Score)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assessment was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
