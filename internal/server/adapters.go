package server

import (
	"context"
	"errors"
	"time"

	"github.com/lumenguard/lumenguard/internal/blacklist"
	"github.com/lumenguard/lumenguard/internal/community"
	"github.com/lumenguard/lumenguard/internal/horizon"
	"github.com/lumenguard/lumenguard/internal/risk"
	"github.com/lumenguard/lumenguard/internal/txparser"
)

// ledgerAdapter maps Horizon records onto the risk engine's signal types.
// A 404 from Horizon is data (the account or asset does not exist), not a
// signal failure; only transport problems surface as errors.
type ledgerAdapter struct {
	client *horizon.Client
}

func (a *ledgerAdapter) LoadAccount(ctx context.Context, id string) (*risk.AccountSignal, error) {
	acc, err := a.client.LoadAccount(ctx, id)
	if errors.Is(err, horizon.ErrNotFound) {
		return &risk.AccountSignal{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}

	sig := &risk.AccountSignal{
		Exists:        true,
		SubentryCount: acc.SubentryCount,
	}
	for _, b := range acc.Balances {
		if b.Native() {
			sig.NativeBalance = b.Amount
			sig.Balances = append(sig.Balances, risk.Balance{Asset: txparser.NativeAsset(), Amount: b.Amount})
			continue
		}
		sig.Balances = append(sig.Balances, risk.Balance{
			Asset:  txparser.Asset{Code: b.Code, Issuer: b.Issuer},
			Amount: b.Amount,
		})
	}

	activity, err := a.client.LoadActivity(ctx, id)
	if err != nil {
		// Without history the age and activity heuristics would misread the
		// account as brand new. Fail the whole signal instead.
		return nil, err
	}
	sig.TxCount = activity.TxCount
	if !activity.FirstSeen.IsZero() {
		sig.AgeDays = int(time.Since(activity.FirstSeen).Hours() / 24)
	}

	return sig, nil
}

func (a *ledgerAdapter) GetAssetInfo(ctx context.Context, code, issuer string) (*risk.AssetInfoSignal, error) {
	asset, err := a.client.GetAsset(ctx, code, issuer)
	if errors.Is(err, horizon.ErrNotFound) {
		return &risk.AssetInfoSignal{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &risk.AssetInfoSignal{
		Exists:     true,
		HomeDomain: asset.HomeDomain,
		NumHolders: asset.NumAccounts,
		Amount:     asset.Amount,
	}, nil
}

// blacklistAdapter exposes the blacklist service as a risk signal provider.
type blacklistAdapter struct {
	svc *blacklist.Service
}

func (a *blacklistAdapter) Lookup(ctx context.Context, subject string) (*risk.BlacklistRecord, error) {
	entry, err := a.svc.Lookup(ctx, subject)
	if err != nil || entry == nil {
		return nil, err
	}
	return &risk.BlacklistRecord{
		Subject: entry.Subject,
		Reason:  entry.Reason,
		Source:  entry.Source,
		AddedAt: entry.AddedAt,
	}, nil
}

// reportsAdapter exposes guard-filtered community report counts.
type reportsAdapter struct {
	svc *community.Service
}

func (a *reportsAdapter) CountReports(ctx context.Context, subject string) (risk.ReportCounts, error) {
	counts, err := a.svc.CountReports(ctx, subject)
	if err != nil {
		return risk.ReportCounts{}, err
	}
	return risk.ReportCounts{Verified: counts.Verified, Pending: counts.Pending}, nil
}

// verificationAdapter reads asset and contract verification records.
type verificationAdapter struct {
	store community.Store
}

func (a *verificationAdapter) AssetVerification(ctx context.Context, code, issuer string) (*risk.VerificationSignal, error) {
	v, err := a.store.GetAssetVerification(ctx, code, issuer)
	if errors.Is(err, community.ErrNotFound) {
		return nil, nil
	}
	if err != nil || v == nil {
		return nil, err
	}
	return &risk.VerificationSignal{
		Status:        v.Status,
		DeclaredLevel: risk.Level(v.DeclaredLevel),
	}, nil
}

func (a *verificationAdapter) IsContractVerified(ctx context.Context, contractID string) (bool, error) {
	verified, err := a.store.IsContractVerified(ctx, contractID)
	if errors.Is(err, community.ErrNotFound) {
		return false, nil
	}
	return verified, err
}
