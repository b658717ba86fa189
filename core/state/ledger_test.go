package state

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"ramm/crypto"
	"ramm/storage"
)

func ledgerAddr(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func TestLedgerSettlementTransfers(t *testing.T) {
	ledger := NewLedger(storage.NewKV(storage.NewMemDB()))
	alice, bob := ledgerAddr(1), ledgerAddr(2)

	balance, err := ledger.Credit(alice, 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, balance)

	require.NoError(t, ledger.TransferSettlement(alice, bob, 40))
	got, err := ledger.SettlementBalance(alice)
	require.NoError(t, err)
	require.EqualValues(t, 60, got)
	got, err = ledger.SettlementBalance(bob)
	require.NoError(t, err)
	require.EqualValues(t, 40, got)

	require.ErrorIs(t, ledger.TransferSettlement(alice, bob, 61), ErrInsufficientBalance)
	require.NoError(t, ledger.TransferSettlement(alice, alice, 60))
	got, err = ledger.SettlementBalance(alice)
	require.NoError(t, err)
	require.EqualValues(t, 60, got)

	_, err = ledger.Credit(bob, ^uint64(0))
	require.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestLedgerClaimMintAndBurn(t *testing.T) {
	ledger := NewLedger(storage.NewKV(storage.NewMemDB()))
	authority := crypto.DeriveModuleAddress("ramm")
	holder := ledgerAddr(3)

	require.ErrorIs(t, ledger.MintClaim(authority, "acr", holder, 10), ErrUnauthorizedMint)
	require.NoError(t, ledger.SetMintAuthority("acr", authority))
	require.ErrorIs(t, ledger.MintClaim(ledgerAddr(4), "ACR", holder, 10), ErrUnauthorizedMint)

	require.NoError(t, ledger.MintClaim(authority, "ACR", holder, 10))
	supply, err := ledger.ClaimSupply("acr")
	require.NoError(t, err)
	require.EqualValues(t, 10, supply)

	require.ErrorIs(t, ledger.BurnClaim("ACR", holder, 11), ErrInsufficientBalance)
	require.NoError(t, ledger.BurnClaim("ACR", holder, 4))
	balance, err := ledger.ClaimBalance("ACR", holder)
	require.NoError(t, err)
	require.EqualValues(t, 6, balance)
	supply, err = ledger.ClaimSupply("ACR")
	require.NoError(t, err)
	require.EqualValues(t, 6, supply)
}

func TestLedgerVaultRegistry(t *testing.T) {
	ledger := NewLedger(storage.NewKV(storage.NewMemDB()))
	vault := crypto.DeriveVault(crypto.IssuanceVault, "ACR")

	_, ok, err := ledger.VaultOwner(vault)
	require.NoError(t, err)
	require.False(t, ok)

	owner := crypto.DeriveModuleAddress("ramm")
	require.NoError(t, ledger.RegisterVault(vault, owner))
	got, ok, err := ledger.VaultOwner(vault)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(owner))
}
