// Package txparser decodes serialized transaction envelopes into canonical
// operation lists.
//
// Envelopes arrive either as raw JSON or as base64-wrapped JSON. Decoding is
// strict: a bad encoding or an unsupported envelope version fails with
// ErrMalformedTransaction and no partial result. Every ledger-native
// operation kind maps to exactly one canonical variant; kinds this package
// does not recognize map to OpUnknown so downstream scoring can flag them
// instead of silently dropping them.
package txparser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedTransaction indicates the envelope could not be decoded.
// This is fatal: callers must not retry or fall back to a partial parse.
var ErrMalformedTransaction = errors.New("malformed transaction envelope")

// EnvelopeVersion is the only envelope schema version this parser accepts.
const EnvelopeVersion = 1

// NativeIssuer is the sentinel issuer for the network's native currency.
const NativeIssuer = "native"

// NativeCode is the asset code used for the native currency.
const NativeCode = "XLM"

// Asset identifies a fungible asset by (code, issuer). The native currency
// uses the NativeIssuer sentinel.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

// NativeAsset returns the canonical native-currency asset.
func NativeAsset() Asset {
	return Asset{Code: NativeCode, Issuer: NativeIssuer}
}

// IsNative reports whether the asset is the network's native currency.
func (a Asset) IsNative() bool {
	return a.Issuer == NativeIssuer
}

// IsZero reports whether the asset is unset.
func (a Asset) IsZero() bool {
	return a.Code == "" && a.Issuer == ""
}

// String renders the asset as CODE:ISSUER.
func (a Asset) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Code + ":" + a.Issuer
}

// OpType is the canonical operation variant.
type OpType string

const (
	OpCreateAccount          OpType = "create_account"
	OpPayment                OpType = "payment"
	OpPathPayment            OpType = "path_payment"
	OpManageOffer            OpType = "manage_offer"
	OpSetOptions             OpType = "set_options"
	OpChangeTrust            OpType = "change_trust"
	OpSetTrustLineFlags      OpType = "set_trustline_flags"
	OpAccountMerge           OpType = "account_merge"
	OpManageData             OpType = "manage_data"
	OpBumpSequence           OpType = "bump_sequence"
	OpCreateClaimableBalance OpType = "create_claimable_balance"
	OpClaimClaimableBalance  OpType = "claim_claimable_balance"
	OpSponsorship            OpType = "sponsorship"
	OpClawback               OpType = "clawback"
	OpLiquidityPool          OpType = "liquidity_pool"
	OpInvokeContract         OpType = "invoke_contract"
	OpFootprintMaintenance   OpType = "footprint_maintenance"
	OpUnknown                OpType = "unknown"
)

// opKindTable maps every ledger-native operation kind to its canonical
// variant. Kinds absent from this table decode as OpUnknown.
var opKindTable = map[string]OpType{
	"create_account":                   OpCreateAccount,
	"payment":                          OpPayment,
	"path_payment_strict_receive":      OpPathPayment,
	"path_payment_strict_send":         OpPathPayment,
	"manage_sell_offer":                OpManageOffer,
	"manage_buy_offer":                 OpManageOffer,
	"create_passive_sell_offer":        OpManageOffer,
	"set_options":                      OpSetOptions,
	"change_trust":                     OpChangeTrust,
	"allow_trust":                      OpSetTrustLineFlags,
	"set_trust_line_flags":             OpSetTrustLineFlags,
	"account_merge":                    OpAccountMerge,
	"manage_data":                      OpManageData,
	"bump_sequence":                    OpBumpSequence,
	"create_claimable_balance":         OpCreateClaimableBalance,
	"claim_claimable_balance":          OpClaimClaimableBalance,
	"begin_sponsoring_future_reserves": OpSponsorship,
	"end_sponsoring_future_reserves":   OpSponsorship,
	"revoke_sponsorship":               OpSponsorship,
	"clawback":                         OpClawback,
	"clawback_claimable_balance":       OpClawback,
	"liquidity_pool_deposit":           OpLiquidityPool,
	"liquidity_pool_withdraw":          OpLiquidityPool,
	"invoke_host_function":             OpInvokeContract,
	"extend_footprint_ttl":             OpFootprintMaintenance,
	"restore_footprint":                OpFootprintMaintenance,
}

// Operation is one decoded instruction, read-only once parsed.
type Operation struct {
	Index   int    // position in the envelope, 0-based
	Type    OpType // canonical variant
	RawKind string // ledger-native kind as submitted

	Source      string // per-operation source override, optional
	Destination string
	Asset       Asset
	Amount      float64

	// set_options fields
	SignerKey     string
	SignerWeight  *int
	LowThreshold  *int
	MedThreshold  *int
	HighThreshold *int
	HomeDomain    string

	// trustline fields
	TrustLimit float64

	// contract fields
	ContractID   string
	FunctionName string
}

// Resources carries simulated execution cost when the submitter ran a
// preflight simulation. Zero values mean "not simulated".
type Resources struct {
	CPUInstructions uint64 `json:"cpuInstructions"`
	MemoryBytes     uint64 `json:"memoryBytes"`
}

// Envelope is a decoded transaction.
type Envelope struct {
	Network    string
	Source     string
	Fee        int64 // total fee in stroops
	SequenceNo int64
	Memo       string
	Operations []Operation
	Resources  Resources
}

// wire types for JSON decoding

type wireEnvelope struct {
	Version    int             `json:"version"`
	Source     string          `json:"source"`
	Fee        int64           `json:"fee"`
	SequenceNo int64           `json:"seq"`
	Memo       string          `json:"memo"`
	Operations []wireOperation `json:"operations"`
	Resources  Resources       `json:"resources"`
}

type wireOperation struct {
	Type        string     `json:"type"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Asset       *wireAsset `json:"asset"`
	Amount      string     `json:"amount"`

	SignerKey     string `json:"signerKey"`
	SignerWeight  *int   `json:"signerWeight"`
	LowThreshold  *int   `json:"lowThreshold"`
	MedThreshold  *int   `json:"medThreshold"`
	HighThreshold *int   `json:"highThreshold"`
	HomeDomain    string `json:"homeDomain"`

	TrustLimit string `json:"limit"`

	ContractID   string `json:"contractId"`
	FunctionName string `json:"function"`
}

type wireAsset struct {
	Type   string `json:"type"` // "native" or "credit"
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

// ParseEnvelope decodes a serialized envelope for the given network.
// Input may be raw JSON or base64-encoded JSON.
func ParseEnvelope(raw []byte, network string) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedTransaction)
	}

	data := raw
	if !looksLikeJSON(data) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64: %v", ErrMalformedTransaction, err)
		}
		data = decoded
		if !looksLikeJSON(data) {
			return nil, fmt.Errorf("%w: decoded payload is not an envelope", ErrMalformedTransaction)
		}
	}

	var we wireEnvelope
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&we); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	if we.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformedTransaction, we.Version)
	}
	if we.Source == "" {
		return nil, fmt.Errorf("%w: missing source account", ErrMalformedTransaction)
	}
	if len(we.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrMalformedTransaction)
	}

	env := &Envelope{
		Network:    network,
		Source:     we.Source,
		Fee:        we.Fee,
		SequenceNo: we.SequenceNo,
		Memo:       we.Memo,
		Resources:  we.Resources,
		Operations: make([]Operation, 0, len(we.Operations)),
	}

	for i, wo := range we.Operations {
		op, err := decodeOperation(i, wo)
		if err != nil {
			return nil, err
		}
		env.Operations = append(env.Operations, op)
	}

	return env, nil
}

func decodeOperation(index int, wo wireOperation) (Operation, error) {
	if wo.Type == "" {
		return Operation{}, fmt.Errorf("%w: operation %d has no type", ErrMalformedTransaction, index)
	}

	kind := strings.ToLower(strings.TrimSpace(wo.Type))
	canonical, ok := opKindTable[kind]
	if !ok {
		canonical = OpUnknown
	}

	op := Operation{
		Index:         index,
		Type:          canonical,
		RawKind:       kind,
		Source:        wo.Source,
		Destination:   wo.Destination,
		SignerKey:     wo.SignerKey,
		SignerWeight:  wo.SignerWeight,
		LowThreshold:  wo.LowThreshold,
		MedThreshold:  wo.MedThreshold,
		HighThreshold: wo.HighThreshold,
		HomeDomain:    wo.HomeDomain,
		ContractID:    wo.ContractID,
		FunctionName:  wo.FunctionName,
	}

	if wo.Asset != nil {
		op.Asset = normalizeAsset(*wo.Asset)
	}

	if wo.Amount != "" {
		amt, err := strconv.ParseFloat(wo.Amount, 64)
		if err != nil || amt < 0 {
			return Operation{}, fmt.Errorf("%w: operation %d has invalid amount %q", ErrMalformedTransaction, index, wo.Amount)
		}
		op.Amount = amt
	}

	if wo.TrustLimit != "" {
		lim, err := strconv.ParseFloat(wo.TrustLimit, 64)
		if err != nil || lim < 0 {
			return Operation{}, fmt.Errorf("%w: operation %d has invalid trust limit %q", ErrMalformedTransaction, index, wo.TrustLimit)
		}
		op.TrustLimit = lim
	}

	return op, nil
}

// normalizeAsset maps a wire asset reference to the canonical (code, issuer)
// pair, folding the native currency onto the sentinel issuer.
func normalizeAsset(wa wireAsset) Asset {
	if wa.Type == "native" || (wa.Issuer == "" && (wa.Code == "" || wa.Code == NativeCode)) {
		return NativeAsset()
	}
	return Asset{Code: wa.Code, Issuer: wa.Issuer}
}

func looksLikeJSON(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
