// Package horizon is a minimal client for the Horizon ledger API.
//
// It covers only the read paths the risk models need: account lookup, asset
// stats, and recent transaction history. Requests retry with backoff on
// transient failures and a per-endpoint circuit breaker sheds load when
// Horizon is degraded. A 404 is data (ErrNotFound), not a failure: an
// account that has never been funded simply does not exist yet.
package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumenguard/lumenguard/internal/circuitbreaker"
	"github.com/lumenguard/lumenguard/internal/retry"
)

// ErrNotFound indicates the requested resource does not exist on the ledger.
var ErrNotFound = errors.New("horizon: not found")

// ErrUnavailable indicates Horizon could not be reached or the circuit for
// the endpoint is open.
var ErrUnavailable = errors.New("horizon: unavailable")

const (
	defaultTimeout    = 5 * time.Second
	retryAttempts     = 3
	retryBaseDelay    = 200 * time.Millisecond
	breakerThreshold  = 5
	breakerOpenPeriod = 30 * time.Second

	// txCountPageLimit bounds how much history a single activity lookup
	// pulls. The activity thresholds are far below this, so "200+" and
	// "exactly 200" score identically.
	txCountPageLimit = 200
)

// Account is a ledger account record.
type Account struct {
	ID            string
	Sequence      string
	SubentryCount int
	HomeDomain    string
	Balances      []Balance
}

// Balance is one trustline (or the native balance) of an account.
type Balance struct {
	AssetType string
	Code      string
	Issuer    string
	Amount    float64
	Limit     float64
}

// Native reports whether this balance line is the native currency.
func (b Balance) Native() bool { return b.AssetType == "native" }

// Asset is an issued-asset stat record.
type Asset struct {
	Code        string
	Issuer      string
	Amount      float64
	NumAccounts int
	HomeDomain  string
}

// Activity summarizes an account's transaction history.
type Activity struct {
	// FirstSeen is the ledger close time of the account's earliest
	// transaction. Zero when the account has no history.
	FirstSeen time.Time
	// TxCount is the number of transactions on record, capped at
	// txCountPageLimit.
	TxCount int
}

// Client talks to one Horizon instance.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// New creates a Horizon client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenPeriod),
	}
}

// BreakerState reports the circuit state for one endpoint family
// ("accounts", "assets", "transactions").
func (c *Client) BreakerState(endpoint string) circuitbreaker.State {
	return c.breaker.State(endpoint)
}

// LoadAccount fetches an account by ID. Returns ErrNotFound for accounts
// that have never been funded.
func (c *Client) LoadAccount(ctx context.Context, accountID string) (*Account, error) {
	var raw struct {
		ID            string `json:"id"`
		Sequence      string `json:"sequence"`
		SubentryCount int    `json:"subentry_count"`
		HomeDomain    string `json:"home_domain"`
		Balances      []struct {
			Balance   string `json:"balance"`
			Limit     string `json:"limit"`
			AssetType string `json:"asset_type"`
			AssetCode string `json:"asset_code"`
			Issuer    string `json:"asset_issuer"`
		} `json:"balances"`
	}

	if err := c.get(ctx, "accounts", "/accounts/"+url.PathEscape(accountID), nil, &raw); err != nil {
		return nil, err
	}

	acc := &Account{
		ID:            raw.ID,
		Sequence:      raw.Sequence,
		SubentryCount: raw.SubentryCount,
		HomeDomain:    raw.HomeDomain,
	}
	for _, b := range raw.Balances {
		amount, _ := strconv.ParseFloat(b.Balance, 64)
		limit, _ := strconv.ParseFloat(b.Limit, 64)
		acc.Balances = append(acc.Balances, Balance{
			AssetType: b.AssetType,
			Code:      b.AssetCode,
			Issuer:    b.Issuer,
			Amount:    amount,
			Limit:     limit,
		})
	}
	return acc, nil
}

// LoadActivity fetches an account's earliest transaction time and a bounded
// transaction count in one history page.
func (c *Client) LoadActivity(ctx context.Context, accountID string) (*Activity, error) {
	var earliest struct {
		Embedded struct {
			Records []struct {
				CreatedAt time.Time `json:"created_at"`
			} `json:"records"`
		} `json:"_embedded"`
	}

	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	if err := c.get(ctx, "transactions", path, url.Values{
		"order": {"asc"},
		"limit": {"1"},
	}, &earliest); err != nil {
		return nil, err
	}

	activity := &Activity{}
	if len(earliest.Embedded.Records) > 0 {
		activity.FirstSeen = earliest.Embedded.Records[0].CreatedAt
	}

	var page struct {
		Embedded struct {
			Records []json.RawMessage `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "transactions", path, url.Values{
		"order": {"desc"},
		"limit": {strconv.Itoa(txCountPageLimit)},
	}, &page); err != nil {
		return nil, err
	}
	activity.TxCount = len(page.Embedded.Records)

	return activity, nil
}

// GetAsset fetches stats for one issued asset. Home domain comes from the
// issuer account, which is what the TOML check needs. Returns ErrNotFound
// when no trustline to the asset exists anywhere on the ledger.
func (c *Client) GetAsset(ctx context.Context, code, issuer string) (*Asset, error) {
	var raw struct {
		Embedded struct {
			Records []struct {
				Amount      string `json:"amount"`
				NumAccounts int    `json:"num_accounts"`
			} `json:"records"`
		} `json:"_embedded"`
	}

	if err := c.get(ctx, "assets", "/assets", url.Values{
		"asset_code":   {code},
		"asset_issuer": {issuer},
	}, &raw); err != nil {
		return nil, err
	}
	if len(raw.Embedded.Records) == 0 {
		return nil, fmt.Errorf("%w: asset %s:%s", ErrNotFound, code, issuer)
	}

	rec := raw.Embedded.Records[0]
	amount, _ := strconv.ParseFloat(rec.Amount, 64)
	asset := &Asset{
		Code:        code,
		Issuer:      issuer,
		Amount:      amount,
		NumAccounts: rec.NumAccounts,
	}

	issuerAcc, err := c.LoadAccount(ctx, issuer)
	if err == nil {
		asset.HomeDomain = issuerAcc.HomeDomain
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return asset, nil
}

// get performs one GET with retry and circuit breaking. endpoint keys the
// breaker so a degraded history endpoint does not block account lookups.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if !c.breaker.Allow(endpoint) {
		return fmt.Errorf("%w: circuit open for %s", ErrUnavailable, endpoint)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	err := retry.Do(ctx, retryAttempts, retryBaseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, path))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: rate limited", ErrUnavailable)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("horizon: unexpected status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("horizon: decode response: %w", err))
		}
		return nil
	})

	switch {
	case err == nil:
		c.breaker.RecordSuccess(endpoint)
		return nil
	case errors.Is(err, ErrNotFound):
		// Absence is a definitive answer, not an endpoint failure.
		c.breaker.RecordSuccess(endpoint)
		return err
	default:
		c.breaker.RecordFailure(endpoint)
		return err
	}
}
