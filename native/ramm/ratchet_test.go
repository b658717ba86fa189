package ramm

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestRatchetOneDay(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.clock.Advance(24 * time.Hour)

	state, changed, err := f.engine.Ratchet()
	if err != nil {
		t.Fatalf("ratchet: %v", err)
	}
	if !changed {
		t.Fatalf("expected ratchet to apply")
	}
	if state.VirtualIssuance.Uint64() != 1_040_000_000 {
		t.Fatalf("unexpected virtual issuance %s", state.VirtualIssuance.Dec())
	}
	if state.VirtualRedemption.Uint64() != 960_000_000 {
		t.Fatalf("unexpected virtual redemption %s", state.VirtualRedemption.Dec())
	}
	if state.LastRatchet != f.clock.now.Unix() {
		t.Fatalf("watermark not advanced")
	}
}

func TestRatchetIdempotentWithinWindow(t *testing.T) {
	f := newFixture(t, defaultParams())
	f.clock.Advance(time.Hour)
	first, changed, err := f.engine.Ratchet()
	if err != nil || !changed {
		t.Fatalf("first ratchet: changed=%v err=%v", changed, err)
	}
	second, changed, err := f.engine.Ratchet()
	if err != nil {
		t.Fatalf("second ratchet: %v", err)
	}
	if changed {
		t.Fatalf("second ratchet must be a no-op")
	}
	if !second.VirtualIssuance.Eq(first.VirtualIssuance) || !second.VirtualRedemption.Eq(first.VirtualRedemption) {
		t.Fatalf("state changed on idempotent ratchet")
	}

	f.clock.Advance(-2 * time.Hour)
	third, changed, err := f.engine.Ratchet()
	if err != nil || changed {
		t.Fatalf("backwards clock must be a no-op: changed=%v err=%v", changed, err)
	}
	if third.LastRatchet != first.LastRatchet {
		t.Fatalf("watermark moved backwards")
	}
}

func TestRatchetSaturates(t *testing.T) {
	state := &State{
		Params:            Params{RatchetBpsPerDay: 10_000},
		VirtualIssuance:   new(uint256.Int).Set(maxU128),
		VirtualRedemption: uint256.NewInt(Scale),
		LastRatchet:       0,
	}
	if !state.applyRatchet(2 * secondsPerDay) {
		t.Fatalf("expected ratchet to apply")
	}
	if !state.VirtualIssuance.Eq(maxU128) {
		t.Fatalf("issuance must saturate at 2^128-1, got %s", state.VirtualIssuance.Dec())
	}
	if !state.VirtualRedemption.IsZero() {
		t.Fatalf("redemption must saturate at zero, got %s", state.VirtualRedemption.Dec())
	}
}

func TestRatchetZeroRate(t *testing.T) {
	state := &State{
		VirtualIssuance:   uint256.NewInt(Scale),
		VirtualRedemption: uint256.NewInt(Scale),
		LastRatchet:       100,
	}
	if !state.applyRatchet(100 + secondsPerDay) {
		t.Fatalf("watermark should still advance")
	}
	if state.VirtualIssuance.Uint64() != Scale || state.VirtualRedemption.Uint64() != Scale {
		t.Fatalf("zero rate must not drift counters")
	}
}
