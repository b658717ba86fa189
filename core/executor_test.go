package core

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"ramm/core/events"
	"ramm/crypto"
	nativecommon "ramm/native/common"
	"ramm/native/ramm"
	"ramm/storage"
)

func account(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type harness struct {
	exec     *Executor
	recorder *events.Recorder
	now      time.Time
}

func newHarness(t *testing.T, db storage.Database) *harness {
	t.Helper()
	h := &harness{recorder: &events.Recorder{}, now: time.Unix(1_700_000_000, 0)}
	h.exec = NewExecutor(db)
	h.exec.SetEmitter(h.recorder)
	h.exec.SetClock(func() time.Time { return h.now })
	return h
}

func params() ramm.Params {
	return ramm.Params{
		BufferBps:                 500,
		RatchetBpsPerDay:          400,
		MinimumCapitalRequirement: uint256.NewInt(1_000_000),
		Bootstrap:                 true,
	}
}

func TestExecutorLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemDB())
	alice := account(1)

	_, err := h.exec.InitAsset(ctx, "acr", params())
	require.NoError(t, err)
	_, err = h.exec.InitAsset(ctx, "ACR", params())
	require.ErrorIs(t, err, ramm.ErrAlreadyInitialised)

	_, err = h.exec.Credit(ctx, alice, 10_000_000_000)
	require.NoError(t, err)

	trade, err := h.exec.Issue(ctx, alice, "ACR", 2_100_000_000)
	require.NoError(t, err)
	require.True(t, trade.Bootstrap)
	require.EqualValues(t, 2_000_000_000, trade.AmountOut)

	snap, err := h.exec.Snapshot(ctx, "ACR")
	require.NoError(t, err)
	require.EqualValues(t, 2_100_000_000, snap.IssuanceBalance)
	require.EqualValues(t, 0, snap.RedemptionBalance)
	require.EqualValues(t, 2_000_000_000, snap.Supply)
	require.NotNil(t, snap.Bounds)
	require.EqualValues(t, 1_050_000_000, snap.Bounds.BookValue)

	// Fund the redemption vault the way an operator would top it up.
	_, err = h.exec.Credit(ctx, snap.RedemptionVault, 1_000_000_000)
	require.NoError(t, err)

	quote, err := h.exec.QuoteRedeem(ctx, "ACR", 100_000_000)
	require.NoError(t, err)
	redeemed, err := h.exec.Redeem(ctx, alice, "ACR", 100_000_000)
	require.NoError(t, err)
	require.Equal(t, quote.Price, redeemed.Price)
	require.Equal(t, quote.AmountOut, redeemed.AmountOut)
	require.LessOrEqual(t, redeemed.Price, redeemed.Bounds.Floor)

	settlement, claims, err := h.exec.Balances(ctx, alice, "acr")
	require.NoError(t, err)
	require.EqualValues(t, 10_000_000_000-2_100_000_000+redeemed.AmountOut, settlement)
	require.EqualValues(t, 1_900_000_000, claims["ACR"])

	h.now = h.now.Add(24 * time.Hour)
	st, applied, err := h.exec.Ratchet(ctx, "ACR")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, h.now.Unix(), st.LastRatchet)
	_, applied, err = h.exec.Ratchet(ctx, "ACR")
	require.NoError(t, err)
	require.False(t, applied)

	mints, err := h.exec.Mints(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ACR"}, mints)

	var types []string
	for _, evt := range h.recorder.Events() {
		types = append(types, evt.EventType())
	}
	require.Equal(t, []string{
		events.TypeAssetInitialised,
		events.TypeSettlementCredited,
		events.TypeIssued,
		events.TypeTokenSupply,
		events.TypeSettlementCredited,
		events.TypeQuoteRedeem,
		events.TypeRedeemed,
		events.TypeTokenSupply,
		events.TypeRatcheted,
	}, types)
}

func TestExecutorFailedIssueLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemDB())
	alice := account(1)
	_, err := h.exec.InitAsset(ctx, "ACR", params())
	require.NoError(t, err)
	_, err = h.exec.Credit(ctx, alice, 1_000_000_000)
	require.NoError(t, err)
	before := len(h.recorder.Events())

	// Alice cannot cover the deposit: the transfer fails after pricing.
	_, err = h.exec.Issue(ctx, alice, "ACR", 2_100_000_000)
	require.Error(t, err)

	snap, err := h.exec.Snapshot(ctx, "ACR")
	require.NoError(t, err)
	require.Zero(t, snap.IssuanceBalance)
	require.Zero(t, snap.Supply)
	require.EqualValues(t, ramm.Scale, snap.State.VirtualIssuance.Uint64())
	settlement, _, err := h.exec.Balances(ctx, alice)
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000_000, settlement)
	require.Len(t, h.recorder.Events(), before, "no events for failed operations")
}

func TestExecutorRedeemLeavingUnpricedBookValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemDB())
	alice := account(1)
	_, err := h.exec.InitAsset(ctx, "ACR", params())
	require.NoError(t, err)
	_, err = h.exec.Credit(ctx, alice, 1_050_000_000)
	require.NoError(t, err)
	trade, err := h.exec.Issue(ctx, alice, "ACR", 1_050_000_000)
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000_000, trade.AmountOut)
	_, err = h.exec.Credit(ctx, crypto.DeriveVault(crypto.RedemptionVault, "ACR"), 20_000_000_000)
	require.NoError(t, err)

	quote, err := h.exec.QuoteRedeem(ctx, "ACR", 999_999_999)
	require.NoError(t, err)
	require.EqualValues(t, 1_425_000_000, quote.Price)

	// One claim unit stays outstanding against ~19.6e9 of collateral, so the
	// post-trade book value no longer fits in u64.
	redeemed, err := h.exec.Redeem(ctx, alice, "ACR", 999_999_999)
	require.NoError(t, err)
	require.Equal(t, quote.AmountOut, redeemed.AmountOut)
	require.EqualValues(t, 1_424_999_998, redeemed.AmountOut)

	snap, err := h.exec.Snapshot(ctx, "ACR")
	require.NoError(t, err)
	require.Nil(t, snap.Bounds)
	require.EqualValues(t, 1, snap.Supply)
	require.EqualValues(t, 20_000_000_000-1_424_999_998, snap.RedemptionBalance)
	require.EqualValues(t, 1, snap.State.VirtualRedemption.Uint64())

	settlement, claims, err := h.exec.Balances(ctx, alice, "ACR")
	require.NoError(t, err)
	require.EqualValues(t, 1_424_999_998, settlement)
	require.EqualValues(t, 1, claims["ACR"])
}

func TestExecutorPause(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemDB())
	alice := account(1)
	_, err := h.exec.InitAsset(ctx, "ACR", params())
	require.NoError(t, err)
	_, err = h.exec.Credit(ctx, alice, 5_000_000_000)
	require.NoError(t, err)

	require.NoError(t, h.exec.SetPaused(ctx, true))
	paused, err := h.exec.Paused(ctx)
	require.NoError(t, err)
	require.True(t, paused)
	_, err = h.exec.Issue(ctx, alice, "ACR", 2_100_000_000)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	// Quotes stay available while paused.
	_, err = h.exec.QuoteIssue(ctx, "ACR", 2_100_000_000)
	require.NoError(t, err)

	require.NoError(t, h.exec.SetPaused(ctx, false))
	_, err = h.exec.Issue(ctx, alice, "ACR", 2_100_000_000)
	require.NoError(t, err)
}

func TestExecutorPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ramm.db")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	h := newHarness(t, db)
	_, err = h.exec.InitAsset(ctx, "ACR", params())
	require.NoError(t, err)
	_, err = h.exec.Credit(ctx, account(1), 2_100_000_000)
	require.NoError(t, err)
	_, err = h.exec.Issue(ctx, account(1), "ACR", 2_100_000_000)
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	again := newHarness(t, reopened)
	st, err := again.exec.State(ctx, "ACR")
	require.NoError(t, err)
	require.EqualValues(t, 3_000_000_000, st.VirtualIssuance.Uint64())
}

func TestExecutorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, storage.NewMemDB())
	_, err := h.exec.InitAsset(ctx, "ACR", params())
	require.ErrorIs(t, err, context.Canceled)
}
