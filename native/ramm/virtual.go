package ramm

import "github.com/holiman/uint256"

// VirtualBookValue is the mean of the two virtual counters.
func (s *State) VirtualBookValue() *uint256.Int {
	sum := new(uint256.Int).Add(cloneInt(s.VirtualIssuance), cloneInt(s.VirtualRedemption))
	return sum.Rsh(sum, 1)
}

// ReferencePrices derives the unclamped buy and sell prices from the virtual
// counters.
func (s *State) ReferencePrices() (buy, sell *uint256.Int, err error) {
	vbv := s.VirtualBookValue()
	buy, err = applyBps(vbv, s.Params.BufferBps, true)
	if err != nil {
		return nil, nil, err
	}
	sell, err = applyBps(vbv, s.Params.BufferBps, false)
	if err != nil {
		return nil, nil, err
	}
	return buy, sell, nil
}
