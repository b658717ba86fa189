package ramm

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Params captures the values fixed when an asset is initialised.
type Params struct {
	// BufferBps is the symmetric band around book value, in basis points.
	BufferBps uint16
	// RatchetBpsPerDay is the daily drift applied to the virtual counters.
	RatchetBpsPerDay uint16
	// MinimumCapitalRequirement is the floor on realized collateral after a
	// redemption.
	MinimumCapitalRequirement *uint256.Int
	// Bootstrap allows issuance against the virtual price alone while the
	// claim supply is zero.
	Bootstrap bool
}

// Validate ensures the parameters describe a usable band.
func (p Params) Validate() error {
	if p.BufferBps > bpsDenominator {
		return fmt.Errorf("%w: buffer %d bps exceeds %d", ErrInvalidParams, p.BufferBps, bpsDenominator)
	}
	if p.MinimumCapitalRequirement != nil && !fitsU128(p.MinimumCapitalRequirement) {
		return fmt.Errorf("%w: minimum capital requirement exceeds 128 bits", ErrInvalidParams)
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.MinimumCapitalRequirement = cloneInt(p.MinimumCapitalRequirement)
	return clone
}

func (p Params) mcr() *uint256.Int {
	if p.MinimumCapitalRequirement == nil {
		return new(uint256.Int)
	}
	return p.MinimumCapitalRequirement
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
