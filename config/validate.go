package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ramm/native/ramm"
)

const defaultBufferBps = 500

// Validate checks the client profile.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint: host required")
	}
	if c.InsecureSkipVerify && u.Scheme != "https" {
		return fmt.Errorf("InsecureSkipVerify requires an https endpoint")
	}
	return nil
}

// LoadScenario reads and validates a simulation scenario.
func LoadScenario(path string) (*Scenario, error) {
	sc := &Scenario{}
	meta, err := toml.DecodeFile(path, sc)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario %s has unknown field %q", path, undecoded[0].String())
	}
	if err := ValidateScenario(sc); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ValidateScenario rejects scenarios the simulator cannot run.
func ValidateScenario(sc *Scenario) error {
	if strings.TrimSpace(sc.Mint) == "" {
		return fmt.Errorf("mint required")
	}
	if _, err := sc.Asset.Params(); err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("at least one step required")
	}
	for i, step := range sc.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Action {
	case ActionCredit, ActionIssue, ActionRedeem:
		if strings.TrimSpace(step.Account) == "" {
			return fmt.Errorf("account required")
		}
		return requireAmount(step.Amount)
	case ActionFundRedemption, ActionQuoteIssue, ActionQuoteRedeem:
		return requireAmount(step.Amount)
	case ActionAdvance:
		d, err := time.ParseDuration(strings.TrimSpace(step.Advance))
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("advance must be positive")
		}
		return nil
	case ActionRatchet, ActionPause, ActionResume, ActionState:
		return nil
	default:
		return fmt.Errorf("unknown action")
	}
}

func requireAmount(raw string) error {
	amount, err := ramm.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if !amount.IsUint64() {
		return fmt.Errorf("amount exceeds 64 bits")
	}
	return nil
}

// Params converts the scenario asset into engine parameters. BufferBps
// defaults to 500 and Bootstrap to true when omitted.
func (a ScenarioAsset) Params() (ramm.Params, error) {
	mcr, err := ramm.ParseAmount(a.MCR)
	if err != nil {
		return ramm.Params{}, fmt.Errorf("mcr: %w", err)
	}
	params := ramm.Params{
		BufferBps:                 defaultBufferBps,
		RatchetBpsPerDay:          a.RatchetBpsPerDay,
		MinimumCapitalRequirement: mcr,
		Bootstrap:                 true,
	}
	if a.BufferBps != nil {
		params.BufferBps = *a.BufferBps
	}
	if a.Bootstrap != nil {
		params.Bootstrap = *a.Bootstrap
	}
	if err := params.Validate(); err != nil {
		return ramm.Params{}, err
	}
	return params, nil
}
