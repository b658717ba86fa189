package ramm

import "github.com/holiman/uint256"

var ratchetDenominator = uint256.NewInt(bpsDenominator * secondsPerDay)

// applyRatchet drifts the virtual counters for the time elapsed since the
// last watermark. Issuance grows and redemption shrinks, both saturating. It
// reports whether anything changed; a non-positive elapsed window is a no-op
// and never moves the watermark backwards.
func (s *State) applyRatchet(now int64) bool {
	elapsed := now - s.LastRatchet
	if elapsed <= 0 {
		return false
	}
	numerator := saturatingMul(u(uint64(s.Params.RatchetBpsPerDay)), u(uint64(elapsed)))

	increase := new(uint256.Int).Div(saturatingMul(cloneInt(s.VirtualIssuance), numerator), ratchetDenominator)
	decrease := new(uint256.Int).Div(saturatingMul(cloneInt(s.VirtualRedemption), numerator), ratchetDenominator)

	s.VirtualIssuance = saturatingAdd(cloneInt(s.VirtualIssuance), increase)
	s.VirtualRedemption = saturatingSub(cloneInt(s.VirtualRedemption), decrease)
	s.LastRatchet = now
	return true
}
