package ramm

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestKVStoreRoundTrip(t *testing.T) {
	store := NewKVStore(newMockStorage())
	mcr, _ := uint256.FromDecimal("340282366920938463463374607431768211455")
	state := &State{
		Mint: "acr",
		Params: Params{
			BufferBps:                 250,
			RatchetBpsPerDay:          12,
			MinimumCapitalRequirement: mcr,
			Bootstrap:                 true,
		},
		VirtualIssuance:   uint256.NewInt(1_040_000_000),
		VirtualRedemption: uint256.NewInt(960_000_000),
		LastRatchet:       1_700_000_000,
	}
	if err := store.PutState(state); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutState(state); err != nil {
		t.Fatalf("second put: %v", err)
	}
	loaded, ok, err := store.GetState("ACR")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Mint != "ACR" || loaded.Params.BufferBps != 250 || loaded.Params.RatchetBpsPerDay != 12 || !loaded.Params.Bootstrap {
		t.Fatalf("unexpected params %+v", loaded.Params)
	}
	if !loaded.Params.MinimumCapitalRequirement.Eq(mcr) {
		t.Fatalf("mcr mismatch: %s", loaded.Params.MinimumCapitalRequirement.Dec())
	}
	if !loaded.VirtualIssuance.Eq(state.VirtualIssuance) || !loaded.VirtualRedemption.Eq(state.VirtualRedemption) {
		t.Fatalf("counter mismatch")
	}
	if loaded.LastRatchet != state.LastRatchet {
		t.Fatalf("watermark mismatch: %d", loaded.LastRatchet)
	}
	mints, err := store.Mints()
	if err != nil {
		t.Fatalf("mints: %v", err)
	}
	if len(mints) != 1 || mints[0] != "ACR" {
		t.Fatalf("unexpected index %v", mints)
	}

	if _, ok, err := store.GetState("MISSING"); err != nil || ok {
		t.Fatalf("expected missing state, ok=%v err=%v", ok, err)
	}
}

func TestKVStoreRejectsNegativeWatermark(t *testing.T) {
	store := NewKVStore(newMockStorage())
	state := &State{
		Mint:              "ACR",
		Params:            Params{BufferBps: 500, MinimumCapitalRequirement: new(uint256.Int)},
		VirtualIssuance:   uint256.NewInt(Scale),
		VirtualRedemption: uint256.NewInt(Scale),
		LastRatchet:       -1,
	}
	if err := store.PutState(state); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if _, ok, err := store.GetState("ACR"); err != nil || ok {
		t.Fatalf("rejected state was written: ok=%v err=%v", ok, err)
	}
	if mints, err := store.Mints(); err != nil || len(mints) != 0 {
		t.Fatalf("rejected state was indexed: %v %v", mints, err)
	}
}
