package ramm

import (
	"strings"

	"github.com/holiman/uint256"

	"ramm/crypto"
)

// State is the per-asset pricing record. One instance exists for every
// initialised mint and it is never deleted.
type State struct {
	// Mint identifies the claim token issued against the vaults.
	Mint   string
	Params Params
	// VirtualIssuance and VirtualRedemption are the two counters the
	// reference price is derived from. Both are seeded at one unit.
	VirtualIssuance   *uint256.Int
	VirtualRedemption *uint256.Int
	// LastRatchet is the unix timestamp of the last applied ratchet.
	LastRatchet int64
}

// Clone returns a deep copy of the state so callers can mutate a working copy
// and only persist it once every guard has passed.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		Mint:              s.Mint,
		Params:            s.Params.Clone(),
		VirtualIssuance:   cloneInt(s.VirtualIssuance),
		VirtualRedemption: cloneInt(s.VirtualRedemption),
		LastRatchet:       s.LastRatchet,
	}
}

// Accounts carries the account references supplied by the caller of an issue
// or redeem.
type Accounts struct {
	Caller          crypto.Address
	Mint            string
	IssuanceVault   crypto.Address
	RedemptionVault crypto.Address
}

// AccountsFor fills the vault references with the derived addresses for mint.
func AccountsFor(caller crypto.Address, mint string) Accounts {
	return Accounts{
		Caller:          caller,
		Mint:            mint,
		IssuanceVault:   crypto.DeriveVault(crypto.IssuanceVault, mint),
		RedemptionVault: crypto.DeriveVault(crypto.RedemptionVault, mint),
	}
}

// Bounds is the realized book value with its buffer band.
type Bounds struct {
	BookValue uint64
	Floor     uint64
	Ceil      uint64
}

// Trade reports the outcome of an executed issue or redeem.
type Trade struct {
	Mint      string
	Account   crypto.Address
	Price     uint64
	AmountIn  uint64
	AmountOut uint64
	Bounds    Bounds
	// Bootstrap is set when the trade priced off the virtual model alone
	// because the claim supply was zero.
	Bootstrap bool
}

// Quote previews an issue or redeem without mutating state.
type Quote struct {
	Price     uint64
	AmountIn  uint64
	AmountOut uint64
	Bounds    Bounds
	Bootstrap bool
}

func normaliseMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}
