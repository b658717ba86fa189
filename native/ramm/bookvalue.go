package ramm

import "github.com/holiman/uint256"

// BookValue computes realized collateral per claim unit together with the
// buffer band around it. Realized collateral is the sum of both vault
// balances. A zero supply fails with ErrInsufficientSupply.
func BookValue(issuanceBalance, redemptionBalance, supply uint64, bufferBps uint16) (Bounds, error) {
	book, floor, ceil, err := bookBounds(issuanceBalance, redemptionBalance, supply, bufferBps)
	if err != nil {
		return Bounds{}, err
	}
	return boundsToUint64(book, floor, ceil)
}

func bookBounds(issuanceBalance, redemptionBalance, supply uint64, bufferBps uint16) (book, floor, ceil *uint256.Int, err error) {
	if supply == 0 {
		return nil, nil, nil, ErrInsufficientSupply
	}
	if bufferBps > bpsDenominator {
		return nil, nil, nil, ErrInvalidParams
	}
	book, err = mulDiv(RealizedCollateral(issuanceBalance, redemptionBalance), scale, u(supply))
	if err != nil {
		return nil, nil, nil, err
	}
	floor, err = applyBps(book, bufferBps, false)
	if err != nil {
		return nil, nil, nil, err
	}
	ceil, err = applyBps(book, bufferBps, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return book, floor, ceil, nil
}

func boundsToUint64(book, floor, ceil *uint256.Int) (Bounds, error) {
	var (
		out Bounds
		err error
	)
	if out.BookValue, err = toUint64(book); err != nil {
		return Bounds{}, err
	}
	if out.Floor, err = toUint64(floor); err != nil {
		return Bounds{}, err
	}
	if out.Ceil, err = toUint64(ceil); err != nil {
		return Bounds{}, err
	}
	return out, nil
}

// RealizedCollateral returns the sum of both vault balances.
func RealizedCollateral(issuanceBalance, redemptionBalance uint64) *uint256.Int {
	return new(uint256.Int).Add(u(issuanceBalance), u(redemptionBalance))
}
