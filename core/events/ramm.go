package events

import (
	"strconv"
	"strings"

	"ramm/core/types"
)

const (
	// TypeAssetInitialised is emitted when an asset state is created.
	TypeAssetInitialised = "ramm.initialised"
	// TypeIssued is emitted after claim tokens are issued for settlement.
	TypeIssued = "ramm.issued"
	// TypeRedeemed is emitted after claim tokens are redeemed for settlement.
	TypeRedeemed = "ramm.redeemed"
	// TypeRatcheted is emitted when the virtual counters drift.
	TypeRatcheted = "ramm.ratcheted"
	// TypeQuoteIssue is emitted for every served issue quote.
	TypeQuoteIssue = "ramm.quote.issue"
	// TypeQuoteRedeem is emitted for every served redeem quote.
	TypeQuoteRedeem = "ramm.quote.redeem"
	// TypeSettlementCredited is emitted when an account receives settlement funds.
	TypeSettlementCredited = "ramm.credited"
	// TypePauseChanged is emitted when issue and redeem are paused or resumed.
	TypePauseChanged = "ramm.pause"
)

// AssetInitialised records the parameters an asset was created with.
type AssetInitialised struct {
	Mint             string
	BufferBps        uint16
	RatchetBpsPerDay uint16
	MCR              string
	Bootstrap        bool
	Timestamp        int64
}

func (AssetInitialised) EventType() string { return TypeAssetInitialised }

func (e AssetInitialised) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetInitialised,
		Attributes: map[string]string{
			"mint":             normaliseMint(e.Mint),
			"bufferBps":        strconv.Itoa(int(e.BufferBps)),
			"ratchetBpsPerDay": strconv.Itoa(int(e.RatchetBpsPerDay)),
			"mcr":              strings.TrimSpace(e.MCR),
			"bootstrap":        strconv.FormatBool(e.Bootstrap),
			"timestamp":        strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// Trade carries an executed issue or redeem.
type Trade struct {
	Kind      string
	Mint      string
	Account   string
	Price     uint64
	AmountIn  uint64
	AmountOut uint64
	BookValue uint64
	Floor     uint64
	Ceil      uint64
	Bootstrap bool
}

func (e Trade) EventType() string {
	if e.Kind == TypeRedeemed {
		return TypeRedeemed
	}
	return TypeIssued
}

func (e Trade) Event() *types.Event {
	attrs := map[string]string{
		"mint":      normaliseMint(e.Mint),
		"account":   strings.TrimSpace(e.Account),
		"price":     u64(e.Price),
		"amountIn":  u64(e.AmountIn),
		"amountOut": u64(e.AmountOut),
		"bookValue": u64(e.BookValue),
		"floor":     u64(e.Floor),
		"ceil":      u64(e.Ceil),
	}
	if e.Bootstrap {
		attrs["bootstrap"] = "true"
	}
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// Ratcheted records the counters after a ratchet was applied.
type Ratcheted struct {
	Mint              string
	VirtualIssuance   string
	VirtualRedemption string
	Timestamp         int64
}

func (Ratcheted) EventType() string { return TypeRatcheted }

func (e Ratcheted) Event() *types.Event {
	return &types.Event{
		Type: TypeRatcheted,
		Attributes: map[string]string{
			"mint":              normaliseMint(e.Mint),
			"virtualIssuance":   e.VirtualIssuance,
			"virtualRedemption": e.VirtualRedemption,
			"timestamp":         strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// Quoted records a served price preview.
type Quoted struct {
	Redeem    bool
	Mint      string
	Price     uint64
	AmountIn  uint64
	AmountOut uint64
}

func (e Quoted) EventType() string {
	if e.Redeem {
		return TypeQuoteRedeem
	}
	return TypeQuoteIssue
}

func (e Quoted) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"mint":      normaliseMint(e.Mint),
			"price":     u64(e.Price),
			"amountIn":  u64(e.AmountIn),
			"amountOut": u64(e.AmountOut),
		},
	}
}

// SettlementCredited records a settlement deposit into an account.
type SettlementCredited struct {
	Account string
	Amount  uint64
	Balance uint64
}

func (SettlementCredited) EventType() string { return TypeSettlementCredited }

func (e SettlementCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeSettlementCredited,
		Attributes: map[string]string{
			"account": strings.TrimSpace(e.Account),
			"amount":  u64(e.Amount),
			"balance": u64(e.Balance),
		},
	}
}

// PauseChanged records a toggle of the module pause switch.
type PauseChanged struct {
	Module string
	Paused bool
}

func (PauseChanged) EventType() string { return TypePauseChanged }

func (e PauseChanged) Event() *types.Event {
	return &types.Event{
		Type: TypePauseChanged,
		Attributes: map[string]string{
			"module": strings.TrimSpace(e.Module),
			"paused": strconv.FormatBool(e.Paused),
		},
	}
}
