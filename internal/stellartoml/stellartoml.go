// Package stellartoml fetches and checks issuer metadata files.
//
// An issuer that sets a home domain is expected to publish
// https://<domain>/.well-known/stellar.toml listing its issuing accounts and
// currencies. The risk models treat a domain whose file does not mention the
// issuer as unverified: anyone can point an asset at a reputable domain they
// do not control.
package stellartoml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lumenguard/lumenguard/internal/security"
)

// WellKnownPath is where the metadata file lives on the home domain.
const WellKnownPath = "/.well-known/stellar.toml"

const (
	defaultTimeout = 5 * time.Second
	maxFileSize    = 100 << 10 // spec'd limit for stellar.toml is 100 KiB
	cacheTTL       = 10 * time.Minute
)

// ErrUnavailable indicates the domain could not be fetched at all, as
// opposed to serving a file that fails the check.
var ErrUnavailable = errors.New("stellartoml: unavailable")

// File is the subset of stellar.toml the verifier reads.
type File struct {
	Accounts   []string   `toml:"ACCOUNTS"`
	Currencies []Currency `toml:"CURRENCIES"`
}

// Currency is one issued-asset declaration.
type Currency struct {
	Code   string `toml:"code"`
	Issuer string `toml:"issuer"`
}

type cacheEntry struct {
	file    *File
	fetched time.Time
}

// Verifier fetches metadata files with a small per-domain cache. Repeated
// assessments of assets from the same issuer are common (portfolio scans
// touch every holding at once) and the file changes rarely.
type Verifier struct {
	client *http.Client
	scheme string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

// WithScheme overrides the URL scheme, mainly for httptest servers.
func WithScheme(scheme string) Option {
	return func(v *Verifier) { v.scheme = scheme }
}

// New creates a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		client: &http.Client{Timeout: defaultTimeout},
		scheme: "https",
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether the domain's stellar.toml references the issuer,
// either in ACCOUNTS or as the issuer of a declared currency. A missing or
// unparseable file is a definitive false; only transport failures return an
// error.
func (v *Verifier) Verify(ctx context.Context, domain, issuer string) (bool, error) {
	file, err := v.fetch(ctx, domain)
	if err != nil {
		return false, err
	}
	if file == nil {
		return false, nil
	}

	for _, acc := range file.Accounts {
		if acc == issuer {
			return true, nil
		}
	}
	for _, cur := range file.Currencies {
		if cur.Issuer == issuer {
			return true, nil
		}
	}
	return false, nil
}

// fetch returns the parsed file, nil when the domain definitively does not
// publish a usable one, or an error on transport failure. Results of both
// kinds are cached.
func (v *Verifier) fetch(ctx context.Context, domain string) (*File, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if domain == "" {
		return nil, nil
	}

	v.mu.Lock()
	if entry, ok := v.cache[domain]; ok && time.Since(entry.fetched) < cacheTTL {
		v.mu.Unlock()
		return entry.file, nil
	}
	v.mu.Unlock()

	u := v.scheme + "://" + domain + WellKnownPath

	// Home domains come off the ledger and are attacker-controlled. Only the
	// production https path runs the SSRF check; test servers sit on loopback.
	if v.scheme == "https" {
		if err := security.ValidateEndpointURL(u); err != nil {
			v.mu.Lock()
			v.cache[domain] = cacheEntry{file: nil, fetched: time.Now()}
			v.mu.Unlock()
			return nil, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil // unbuildable URL means the domain is garbage
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var file *File
	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
		}
		var parsed File
		if toml.Unmarshal(body, &parsed) == nil {
			file = &parsed
		}
		// A file that fails to parse caches as nil: broken is broken.
	} else if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	v.mu.Lock()
	v.cache[domain] = cacheEntry{file: file, fetched: time.Now()}
	v.mu.Unlock()

	return file, nil
}
