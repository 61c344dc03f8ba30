package horizon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const testAccountID = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"

func TestLoadAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/"+testAccountID {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "` + testAccountID + `",
			"sequence": "123456789",
			"subentry_count": 2,
			"home_domain": "example.org",
			"balances": [
				{"balance": "100.5000000", "asset_type": "native"},
				{"balance": "42.0000000", "limit": "1000.0000000", "asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": "GISSUER"}
			]
		}`))
	}))
	defer srv.Close()

	acc, err := New(srv.URL).LoadAccount(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.HomeDomain != "example.org" {
		t.Errorf("expected home domain example.org, got %s", acc.HomeDomain)
	}
	if len(acc.Balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(acc.Balances))
	}
	if !acc.Balances[0].Native() || acc.Balances[0].Amount != 100.5 {
		t.Errorf("native balance mismatch: %+v", acc.Balances[0])
	}
	if acc.Balances[1].Code != "USDC" || acc.Balances[1].Limit != 1000 {
		t.Errorf("trustline mismatch: %+v", acc.Balances[1])
	}
}

func TestLoadAccountNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"status": 404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).LoadAccount(context.Background(), testAccountID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("404 must not be retried, got %d calls", n)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id": "` + testAccountID + `", "sequence": "1"}`))
	}))
	defer srv.Close()

	acc, err := New(srv.URL).LoadAccount(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if acc.ID != testAccountID {
		t.Errorf("unexpected account %+v", acc)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < breakerThreshold; i++ {
		if _, err := c.LoadAccount(context.Background(), testAccountID); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	_, err := c.LoadAccount(context.Background(), testAccountID)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open circuit, got %v", err)
	}
}

func TestGetAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/assets":
			if r.URL.Query().Get("asset_code") != "USDC" {
				t.Errorf("missing asset_code query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"_embedded": {"records": [
				{"amount": "5000000.0000000", "num_accounts": 1234}
			]}}`))
		default:
			_, _ = w.Write([]byte(`{"id": "GISSUER", "sequence": "1", "home_domain": "issuer.example"}`))
		}
	}))
	defer srv.Close()

	asset, err := New(srv.URL).GetAsset(context.Background(), "USDC", "GISSUER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.NumAccounts != 1234 || asset.Amount != 5000000 {
		t.Errorf("asset stats mismatch: %+v", asset)
	}
	if asset.HomeDomain != "issuer.example" {
		t.Errorf("expected issuer home domain, got %q", asset.HomeDomain)
	}
}

func TestGetAssetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_embedded": {"records": []}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetAsset(context.Background(), "NOPE", "GISSUER")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") == "asc" {
			_, _ = w.Write([]byte(`{"_embedded": {"records": [
				{"created_at": "2024-03-01T12:00:00Z"}
			]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"_embedded": {"records": [{}, {}, {}]}}`))
	}))
	defer srv.Close()

	activity, err := New(srv.URL).LoadActivity(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if activity.FirstSeen.IsZero() {
		t.Error("expected FirstSeen to be set")
	}
	if activity.TxCount != 3 {
		t.Errorf("expected 3 transactions, got %d", activity.TxCount)
	}
}
