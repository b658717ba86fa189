package config

// Scenario drives an in-process simulation of one asset.
type Scenario struct {
	Mint string `toml:"Mint"`
	// Start is the unix timestamp the simulated clock begins at.
	Start int64         `toml:"Start"`
	Asset ScenarioAsset `toml:"asset"`
	Steps []Step        `toml:"steps"`
}

// ScenarioAsset mirrors the initialisation parameters of an asset.
type ScenarioAsset struct {
	BufferBps        *uint16 `toml:"BufferBps"`
	RatchetBpsPerDay uint16  `toml:"RatchetBpsPerDay"`
	MCR              string  `toml:"MCR"`
	Bootstrap        *bool   `toml:"Bootstrap"`
}

// Step is one simulated action. Account is a label resolved to a derived
// address, or a bech32 address.
type Step struct {
	Action  string `toml:"Action"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
	// Advance moves the simulated clock forward, e.g. "24h".
	Advance string `toml:"Advance"`
	// ExpectError, when set, requires the step to fail with an error whose
	// message contains the value.
	ExpectError string `toml:"ExpectError"`
}

const (
	ActionCredit         = "credit"
	ActionFundRedemption = "fund-redemption"
	ActionIssue          = "issue"
	ActionRedeem         = "redeem"
	ActionQuoteIssue     = "quote-issue"
	ActionQuoteRedeem    = "quote-redeem"
	ActionRatchet        = "ratchet"
	ActionAdvance        = "advance"
	ActionPause          = "pause"
	ActionResume         = "resume"
	ActionState          = "state"
)
