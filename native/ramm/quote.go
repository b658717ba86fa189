package ramm

// QuoteIssue previews an issue of settlementIn without moving funds or
// touching state. Balances may change before execution; the quote is not a
// commitment.
func (e *Engine) QuoteIssue(settlementIn uint64) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !e.host.configured() {
		return nil, errNilHost
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshot(state.Mint)
	if err != nil {
		return nil, err
	}
	return priceIssue(state, snap, settlementIn)
}

// QuoteRedeem previews a redemption of claimIn. Vault reserve and minimum
// capital checks only run on execution.
func (e *Engine) QuoteRedeem(claimIn uint64) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !e.host.configured() {
		return nil, errNilHost
	}
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshot(state.Mint)
	if err != nil {
		return nil, err
	}
	return priceRedeem(state, snap, claimIn)
}

// priceIssue clamps the reference buy price up to the book value ceiling and
// converts settlementIn into claim units.
func priceIssue(state *State, snap balances, settlementIn uint64) (*Quote, error) {
	buy, _, err := state.ReferencePrices()
	if err != nil {
		return nil, err
	}
	quote := &Quote{AmountIn: settlementIn}
	price := buy
	if snap.supply == 0 && state.Params.Bootstrap {
		// No claims outstanding means there is no book value to clamp to.
		quote.Bootstrap = true
	} else {
		book, floor, ceil, err := bookBounds(snap.issuance, snap.redemption, snap.supply, state.Params.BufferBps)
		if err != nil {
			return nil, err
		}
		if quote.Bounds, err = boundsToUint64(book, floor, ceil); err != nil {
			return nil, err
		}
		if price.Lt(ceil) {
			price = ceil
		}
	}
	if price.IsZero() {
		return nil, ErrZeroPrice
	}
	if quote.Price, err = toUint64(price); err != nil {
		return nil, err
	}
	if settlementIn < quote.Price {
		return nil, ErrInputTooSmall
	}
	out, err := mulDiv(u(settlementIn), scale, price)
	if err != nil {
		return nil, err
	}
	if quote.AmountOut, err = toUint64(out); err != nil {
		return nil, err
	}
	return quote, nil
}

// priceRedeem clamps the reference sell price down to the book value floor
// and converts claimIn into settlement units.
func priceRedeem(state *State, snap balances, claimIn uint64) (*Quote, error) {
	book, floor, ceil, err := bookBounds(snap.issuance, snap.redemption, snap.supply, state.Params.BufferBps)
	if err != nil {
		return nil, err
	}
	_, sell, err := state.ReferencePrices()
	if err != nil {
		return nil, err
	}
	quote := &Quote{AmountIn: claimIn}
	if quote.Bounds, err = boundsToUint64(book, floor, ceil); err != nil {
		return nil, err
	}
	price := sell
	if price.Gt(floor) {
		price = floor
	}
	if quote.Price, err = toUint64(price); err != nil {
		return nil, err
	}
	out, err := mulDiv(u(claimIn), price, scale)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		// zero payouts are refused
		return nil, ErrInputTooSmall
	}
	if quote.AmountOut, err = toUint64(out); err != nil {
		return nil, err
	}
	return quote, nil
}
