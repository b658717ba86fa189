package ramm

import "errors"

var (
	// ErrAssetMismatch indicates the supplied mint does not match the asset state.
	ErrAssetMismatch = errors.New("ramm: asset mismatch")
	// ErrInvalidVaultAuthority indicates a vault is not the derived account owned by the engine authority.
	ErrInvalidVaultAuthority = errors.New("ramm: invalid vault authority")
	// ErrInsufficientSupply indicates book value was requested with zero outstanding claim supply.
	ErrInsufficientSupply = errors.New("ramm: insufficient claim supply")
	// ErrInputTooSmall indicates the offered amount does not cover a single unit at the clamped price.
	ErrInputTooSmall = errors.New("ramm: input too small")
	// ErrInsufficientVaultBalance indicates the redemption vault cannot cover the payout plus its reserve unit.
	ErrInsufficientVaultBalance = errors.New("ramm: insufficient vault balance")
	// ErrMcrBreached indicates a redemption would drop realized collateral below the minimum capital requirement.
	ErrMcrBreached = errors.New("ramm: minimum capital requirement breached")
	// ErrOverflow indicates a checked arithmetic operation exceeded its range.
	ErrOverflow = errors.New("ramm: arithmetic overflow")
	// ErrUnderflow indicates a checked subtraction went below zero.
	ErrUnderflow = errors.New("ramm: arithmetic underflow")

	ErrStateNotFound      = errors.New("ramm: asset not initialised")
	ErrAlreadyInitialised = errors.New("ramm: asset already initialised")
	ErrInvalidParams      = errors.New("ramm: invalid parameters")
	ErrZeroPrice          = errors.New("ramm: price resolved to zero")

	errNilState = errors.New("ramm engine: state not configured")
	errNilHost  = errors.New("ramm engine: host collaborators not configured")
)
