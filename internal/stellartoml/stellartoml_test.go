package stellartoml

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const testIssuer = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"

func newTestVerifier(handler http.HandlerFunc) (*Verifier, string, func()) {
	srv := httptest.NewServer(handler)
	domain := strings.TrimPrefix(srv.URL, "http://")
	return New(WithScheme("http"), WithHTTPClient(srv.Client())), domain, srv.Close
}

func TestVerifyAccountsSection(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`
ACCOUNTS = ["` + testIssuer + `"]
`))
	})
	defer closeFn()

	ok, err := v.Verify(context.Background(), domain, testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected issuer to be referenced via ACCOUNTS")
	}
}

func TestVerifyCurrenciesSection(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
[[CURRENCIES]]
code = "USDC"
issuer = "` + testIssuer + `"
`))
	})
	defer closeFn()

	ok, err := v.Verify(context.Background(), domain, testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected issuer to be referenced via CURRENCIES")
	}
}

func TestVerifyIssuerNotReferenced(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
ACCOUNTS = ["GDIFFERENTACCOUNT"]
[[CURRENCIES]]
code = "EURT"
issuer = "GSOMEONEELSE"
`))
	})
	defer closeFn()

	ok, err := v.Verify(context.Background(), domain, testIssuer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("issuer is not referenced, expected false")
	}
}

func TestVerifyMissingFile(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	defer closeFn()

	ok, err := v.Verify(context.Background(), domain, testIssuer)
	if err != nil {
		t.Fatalf("a missing file is a definitive answer, got error %v", err)
	}
	if ok {
		t.Error("expected false for missing file")
	}
}

func TestVerifyUnparseableFile(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"this": "is json, not toml"`))
	})
	defer closeFn()

	ok, err := v.Verify(context.Background(), domain, testIssuer)
	if err != nil {
		t.Fatalf("a broken file is a definitive answer, got error %v", err)
	}
	if ok {
		t.Error("expected false for unparseable file")
	}
}

func TestVerifyServerErrorIsUnavailable(t *testing.T) {
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	defer closeFn()

	_, err := v.Verify(context.Background(), domain, testIssuer)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestVerifyCaches(t *testing.T) {
	var calls atomic.Int32
	v, domain, closeFn := newTestVerifier(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`ACCOUNTS = ["` + testIssuer + `"]`))
	})
	defer closeFn()

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), domain, testIssuer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single fetch, got %d", n)
	}
}

func TestVerifyEmptyDomain(t *testing.T) {
	ok, err := New().Verify(context.Background(), "", testIssuer)
	if err != nil || ok {
		t.Errorf("empty domain must be a definitive false, got %v/%v", ok, err)
	}
}
