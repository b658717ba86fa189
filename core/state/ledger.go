package state

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"ramm/crypto"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
	ErrUnauthorizedMint    = errors.New("ledger: mint authority mismatch")
	ErrInvalidAddress      = errors.New("ledger: address required")
)

// Storage abstracts the RLP key-value accessors the ledger persists through.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	settlementPrefix = []byte("ledger/settlement/")
	claimPrefix      = []byte("ledger/claim/")
	supplyPrefix     = []byte("ledger/supply/")
	vaultOwnerPrefix = []byte("ledger/vault/")
	authorityPrefix  = []byte("ledger/authority/")
)

func prefixedKey(prefix []byte, parts ...string) []byte {
	suffix := strings.Join(parts, "/")
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}

func normaliseMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}

// Ledger holds the collaborators the pricing engine delegates to: settlement
// balances, claim token balances and supply, and the registries recording who
// controls each vault and mint. Claim tokens are non-transferable: balances
// change only through MintClaim and BurnClaim.
type Ledger struct {
	store Storage
}

func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) getUint(key []byte) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("ledger unavailable")
	}
	var value uint64
	if _, err := l.store.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

func (l *Ledger) putUint(key []byte, value uint64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("ledger unavailable")
	}
	return l.store.KVPut(key, value)
}

func addChecked(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}

// SettlementBalance returns the settlement asset held by addr.
func (l *Ledger) SettlementBalance(addr crypto.Address) (uint64, error) {
	if addr.IsZero() {
		return 0, ErrInvalidAddress
	}
	return l.getUint(prefixedKey(settlementPrefix, addr.String()))
}

// Credit adds amount of the settlement asset to addr.
func (l *Ledger) Credit(addr crypto.Address, amount uint64) (uint64, error) {
	balance, err := l.SettlementBalance(addr)
	if err != nil {
		return 0, err
	}
	next, err := addChecked(balance, amount)
	if err != nil {
		return 0, err
	}
	if err := l.putUint(prefixedKey(settlementPrefix, addr.String()), next); err != nil {
		return 0, err
	}
	return next, nil
}

// TransferSettlement moves amount from one account to another. Nothing is
// written unless both legs succeed.
func (l *Ledger) TransferSettlement(from, to crypto.Address, amount uint64) error {
	fromBalance, err := l.SettlementBalance(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return ErrInsufficientBalance
	}
	if from.Equal(to) {
		return nil
	}
	toBalance, err := l.SettlementBalance(to)
	if err != nil {
		return err
	}
	nextTo, err := addChecked(toBalance, amount)
	if err != nil {
		return err
	}
	if err := l.putUint(prefixedKey(settlementPrefix, from.String()), fromBalance-amount); err != nil {
		return err
	}
	return l.putUint(prefixedKey(settlementPrefix, to.String()), nextTo)
}

// ClaimSupply returns the outstanding claim tokens for mint.
func (l *Ledger) ClaimSupply(mint string) (uint64, error) {
	return l.getUint(prefixedKey(supplyPrefix, normaliseMint(mint)))
}

// ClaimBalance returns the claim tokens of mint held by addr.
func (l *Ledger) ClaimBalance(mint string, addr crypto.Address) (uint64, error) {
	if addr.IsZero() {
		return 0, ErrInvalidAddress
	}
	return l.getUint(prefixedKey(claimPrefix, normaliseMint(mint), addr.String()))
}

// MintClaim issues amount claim tokens to addr. Only the registered mint
// authority may mint.
func (l *Ledger) MintClaim(authority crypto.Address, mint string, to crypto.Address, amount uint64) error {
	registered, ok, err := l.MintAuthority(mint)
	if err != nil {
		return err
	}
	if !ok || !registered.Equal(authority) {
		return ErrUnauthorizedMint
	}
	supply, err := l.ClaimSupply(mint)
	if err != nil {
		return err
	}
	balance, err := l.ClaimBalance(mint, to)
	if err != nil {
		return err
	}
	nextSupply, err := addChecked(supply, amount)
	if err != nil {
		return err
	}
	nextBalance, err := addChecked(balance, amount)
	if err != nil {
		return err
	}
	if err := l.putUint(prefixedKey(supplyPrefix, normaliseMint(mint)), nextSupply); err != nil {
		return err
	}
	return l.putUint(prefixedKey(claimPrefix, normaliseMint(mint), to.String()), nextBalance)
}

// BurnClaim destroys amount claim tokens held by from.
func (l *Ledger) BurnClaim(mint string, from crypto.Address, amount uint64) error {
	balance, err := l.ClaimBalance(mint, from)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	supply, err := l.ClaimSupply(mint)
	if err != nil {
		return err
	}
	if supply < amount {
		return ErrInsufficientBalance
	}
	if err := l.putUint(prefixedKey(supplyPrefix, normaliseMint(mint)), supply-amount); err != nil {
		return err
	}
	return l.putUint(prefixedKey(claimPrefix, normaliseMint(mint), from.String()), balance-amount)
}

// RegisterVault records owner as the authority controlling vault.
func (l *Ledger) RegisterVault(vault, owner crypto.Address) error {
	if vault.IsZero() || owner.IsZero() {
		return ErrInvalidAddress
	}
	return l.store.KVPut(prefixedKey(vaultOwnerPrefix, vault.String()), owner.String())
}

// VaultOwner returns the authority registered for vault.
func (l *Ledger) VaultOwner(vault crypto.Address) (crypto.Address, bool, error) {
	return l.lookupAddress(prefixedKey(vaultOwnerPrefix, vault.String()))
}

// SetMintAuthority records the only address allowed to mint claims of mint.
func (l *Ledger) SetMintAuthority(mint string, authority crypto.Address) error {
	if normaliseMint(mint) == "" {
		return fmt.Errorf("ledger: mint required")
	}
	if authority.IsZero() {
		return ErrInvalidAddress
	}
	return l.store.KVPut(prefixedKey(authorityPrefix, normaliseMint(mint)), authority.String())
}

// MintAuthority returns the address allowed to mint claims of mint.
func (l *Ledger) MintAuthority(mint string) (crypto.Address, bool, error) {
	return l.lookupAddress(prefixedKey(authorityPrefix, normaliseMint(mint)))
}

func (l *Ledger) lookupAddress(key []byte) (crypto.Address, bool, error) {
	if l == nil || l.store == nil {
		return crypto.Address{}, false, fmt.Errorf("ledger unavailable")
	}
	var encoded string
	ok, err := l.store.KVGet(key, &encoded)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("ledger: decode address: %w", err)
	}
	return addr, true, nil
}
