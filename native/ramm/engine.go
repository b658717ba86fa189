package ramm

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"ramm/crypto"
	nativecommon "ramm/native/common"
)

const moduleName = "ramm"

// ModuleName is the pause key guarding issue and redeem.
const ModuleName = moduleName

// Settlement moves the base settlement asset. Transfers are all-or-nothing.
type Settlement interface {
	SettlementBalance(addr crypto.Address) (uint64, error)
	TransferSettlement(from, to crypto.Address, amount uint64) error
}

// ClaimToken mints and burns the claim token issued against the vaults.
type ClaimToken interface {
	ClaimSupply(mint string) (uint64, error)
	MintClaim(authority crypto.Address, mint string, to crypto.Address, amount uint64) error
	BurnClaim(mint string, from crypto.Address, amount uint64) error
}

// VaultRegistry reports which authority controls a vault account.
type VaultRegistry interface {
	VaultOwner(vault crypto.Address) (crypto.Address, bool, error)
}

// Host bundles the collaborators the engine delegates side effects to.
type Host struct {
	Settlement Settlement
	Claims     ClaimToken
	Vaults     VaultRegistry
}

func (h Host) configured() bool {
	return h.Settlement != nil && h.Claims != nil && h.Vaults != nil
}

type engineState interface {
	GetState(mint string) (*State, bool, error)
	PutState(state *State) error
}

// ModuleAuthority is the address that owns every vault and holds mint
// authority over every claim token.
func ModuleAuthority() crypto.Address {
	return crypto.DeriveModuleAddress(moduleName)
}

// Engine prices and executes issue and redeem for a single asset. It performs
// no locking; callers serialise operations against the same asset and apply
// them inside a transaction that is discarded on error.
type Engine struct {
	mint      string
	authority crypto.Address
	host      Host
	state     engineState
	pauses    nativecommon.PauseView
	now       func() time.Time
}

// NewEngine constructs an engine bound to mint. Vaults must be owned by
// authority.
func NewEngine(mint string, authority crypto.Address, host Host) *Engine {
	return &Engine{
		mint:      normaliseMint(mint),
		authority: authority,
		host:      host,
		now:       time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Mint returns the asset the engine is bound to.
func (e *Engine) Mint() string { return e.mint }

// Init creates the asset state with both virtual counters seeded at one unit
// and the ratchet watermark at the current time.
func (e *Engine) Init(params Params) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.mint == "" {
		return nil, ErrAssetMismatch
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, exists, err := e.state.GetState(e.mint); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyInitialised
	}
	state := &State{
		Mint:              e.mint,
		Params:            params.Clone(),
		VirtualIssuance:   uint256.NewInt(Scale),
		VirtualRedemption: uint256.NewInt(Scale),
		LastRatchet:       e.now().Unix(),
	}
	if err := e.state.PutState(state); err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// State returns a copy of the persisted asset state.
func (e *Engine) State() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// Issue exchanges settlementIn units of the settlement asset for claim
// tokens. The price never drops below the ceiling of the realized book value.
func (e *Engine) Issue(acc Accounts, settlementIn uint64) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !e.host.configured() {
		return nil, errNilHost
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.checkAccounts(state, acc); err != nil {
		return nil, err
	}
	snap, err := e.snapshot(state.Mint)
	if err != nil {
		return nil, err
	}
	quote, err := priceIssue(state, snap, settlementIn)
	if err != nil {
		return nil, err
	}
	// Counter updates are computed before any side effect so an overflow
	// leaves balances untouched.
	next := state.Clone()
	next.VirtualIssuance, err = checkedAdd(state.VirtualIssuance, u(quote.AmountOut))
	if err != nil {
		return nil, err
	}

	if err := e.host.Settlement.TransferSettlement(acc.Caller, acc.IssuanceVault, settlementIn); err != nil {
		return nil, fmt.Errorf("ramm: deposit settlement: %w", err)
	}
	if err := e.host.Claims.MintClaim(e.authority, state.Mint, acc.Caller, quote.AmountOut); err != nil {
		return nil, fmt.Errorf("ramm: mint claim: %w", err)
	}
	if err := e.state.PutState(next); err != nil {
		return nil, err
	}
	return &Trade{
		Mint:      state.Mint,
		Account:   acc.Caller,
		Price:     quote.Price,
		AmountIn:  settlementIn,
		AmountOut: quote.AmountOut,
		Bounds:    quote.Bounds,
		Bootstrap: quote.Bootstrap,
	}, nil
}

// Redeem burns claimIn claim tokens and pays out settlement from the
// redemption vault. The price never rises above the floor of the realized
// book value and the payout may not breach the minimum capital requirement.
func (e *Engine) Redeem(acc Accounts, claimIn uint64) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !e.host.configured() {
		return nil, errNilHost
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.checkAccounts(state, acc); err != nil {
		return nil, err
	}
	snap, err := e.snapshot(state.Mint)
	if err != nil {
		return nil, err
	}
	quote, err := priceRedeem(state, snap, claimIn)
	if err != nil {
		return nil, err
	}

	// The redemption vault keeps one unit in reserve.
	required := new(uint256.Int).AddUint64(u(quote.AmountOut), 1)
	if u(snap.redemption).Lt(required) {
		return nil, ErrInsufficientVaultBalance
	}
	projected := saturatingSub(RealizedCollateral(snap.issuance, snap.redemption), u(quote.AmountOut))
	if projected.Lt(state.Params.mcr()) {
		return nil, ErrMcrBreached
	}
	next := state.Clone()
	next.VirtualRedemption, err = checkedSub(state.VirtualRedemption, u(claimIn))
	if err != nil {
		return nil, err
	}

	if err := e.host.Claims.BurnClaim(state.Mint, acc.Caller, claimIn); err != nil {
		return nil, fmt.Errorf("ramm: burn claim: %w", err)
	}
	if err := e.host.Settlement.TransferSettlement(acc.RedemptionVault, acc.Caller, quote.AmountOut); err != nil {
		return nil, fmt.Errorf("ramm: pay out settlement: %w", err)
	}
	if err := e.state.PutState(next); err != nil {
		return nil, err
	}
	return &Trade{
		Mint:      state.Mint,
		Account:   acc.Caller,
		Price:     quote.Price,
		AmountIn:  claimIn,
		AmountOut: quote.AmountOut,
		Bounds:    quote.Bounds,
	}, nil
}

// Ratchet advances the virtual counters to the current time. It reports
// false when no time has elapsed since the last watermark.
func (e *Engine) Ratchet() (*State, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	state, err := e.loadState()
	if err != nil {
		return nil, false, err
	}
	if !state.applyRatchet(e.now().Unix()) {
		return state, false, nil
	}
	if err := e.state.PutState(state); err != nil {
		return nil, false, err
	}
	return state.Clone(), true, nil
}

func (e *Engine) loadState() (*State, error) {
	if e.mint == "" {
		return nil, ErrAssetMismatch
	}
	state, ok, err := e.state.GetState(e.mint)
	if err != nil {
		return nil, err
	}
	if !ok || state == nil {
		return nil, ErrStateNotFound
	}
	return state, nil
}

func (e *Engine) checkAccounts(state *State, acc Accounts) error {
	if normaliseMint(acc.Mint) != state.Mint {
		return ErrAssetMismatch
	}
	vaults := []struct {
		kind    crypto.VaultKind
		address crypto.Address
	}{
		{crypto.IssuanceVault, acc.IssuanceVault},
		{crypto.RedemptionVault, acc.RedemptionVault},
	}
	for _, vault := range vaults {
		if !vault.address.Equal(crypto.DeriveVault(vault.kind, state.Mint)) {
			return ErrInvalidVaultAuthority
		}
		owner, ok, err := e.host.Vaults.VaultOwner(vault.address)
		if err != nil {
			return err
		}
		if !ok || !owner.Equal(e.authority) {
			return ErrInvalidVaultAuthority
		}
	}
	return nil
}

// balances is a point-in-time read of the vaults and claim supply.
type balances struct {
	issuance   uint64
	redemption uint64
	supply     uint64
}

func (e *Engine) snapshot(mint string) (balances, error) {
	var (
		snap balances
		err  error
	)
	if snap.issuance, err = e.host.Settlement.SettlementBalance(crypto.DeriveVault(crypto.IssuanceVault, mint)); err != nil {
		return balances{}, err
	}
	if snap.redemption, err = e.host.Settlement.SettlementBalance(crypto.DeriveVault(crypto.RedemptionVault, mint)); err != nil {
		return balances{}, err
	}
	if snap.supply, err = e.host.Claims.ClaimSupply(mint); err != nil {
		return balances{}, err
	}
	return snap, nil
}
