package ramm

import "github.com/holiman/uint256"

const (
	// Scale is the fixed point denominator applied to every price and amount.
	Scale = 1_000_000_000

	bpsDenominator = 10_000
	secondsPerDay  = 86_400
)

var (
	scale  = uint256.NewInt(Scale)
	bpsDen = uint256.NewInt(bpsDenominator)
	maxU64 = new(uint256.Int).SetUint64(^uint64(0))
	// maxU128 is 2^128-1. Counters never exceed it.
	maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func fitsU128(v *uint256.Int) bool { return v.BitLen() <= 128 }

// checkedAdd returns a+b or ErrOverflow when the sum leaves the 128-bit range.
func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || !fitsU128(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or ErrUnderflow when b > a.
func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

func saturatingAdd(a, b *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || !fitsU128(sum) {
		return new(uint256.Int).Set(maxU128)
	}
	return sum
}

func saturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

func saturatingMul(a, b *uint256.Int) *uint256.Int {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || !fitsU128(product) {
		return new(uint256.Int).Set(maxU128)
	}
	return product
}

// mulDiv computes a*b/d truncating toward zero. The product of two 128-bit
// operands always fits the 256-bit intermediate; results above 128 bits fail.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrZeroPrice
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	quotient := new(uint256.Int).Div(product, d)
	if !fitsU128(quotient) {
		return nil, ErrOverflow
	}
	return quotient, nil
}

// toUint64 narrows v or fails with ErrOverflow.
func toUint64(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// applyBps returns v*(10000+bps)/10000 when up is true and
// v*(10000-bps)/10000 otherwise.
func applyBps(v *uint256.Int, bps uint16, up bool) (*uint256.Int, error) {
	var factor uint64
	if up {
		factor = bpsDenominator + uint64(bps)
	} else {
		if uint64(bps) > bpsDenominator {
			return nil, ErrInvalidParams
		}
		factor = bpsDenominator - uint64(bps)
	}
	return mulDiv(v, u(factor), bpsDen)
}
