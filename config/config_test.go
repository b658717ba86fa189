package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ramm/native/ramm"
)

func TestLoadCreatesDefaultProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rammctl.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint || cfg.TokenEnv != DefaultTokenEnv || cfg.TimeoutSeconds != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected profile to be written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reloaded profile differs: %+v != %+v", again, cfg)
	}
}

func TestLoadParsesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rammctl.toml")
	contents := `Endpoint = "https://ramm.example.org/"
Account = "ramm1qqqq"
TokenEnv = "OPS_TOKEN"
TimeoutSeconds = 3
CAFile = "/etc/ramm/ca.pem"
InsecureSkipVerify = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "https://ramm.example.org" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Endpoint)
	}
	if cfg.TokenEnv != "OPS_TOKEN" || cfg.TimeoutSeconds != 3 || cfg.CAFile != "/etc/ramm/ca.pem" || !cfg.InsecureSkipVerify {
		t.Fatalf("unexpected profile: %+v", cfg)
	}
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	cases := map[string]string{
		"unknown field":      "Endpoint = \"http://localhost:7090\"\nRPCAddress = \":8080\"\n",
		"bad scheme":         "Endpoint = \"ftp://localhost\"\n",
		"missing host":       "Endpoint = \"http://\"\n",
		"insecure plaintext": "Endpoint = \"http://localhost:7090\"\nInsecureSkipVerify = true\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rammctl.toml")
			if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

const sampleScenario = `Mint = "acr"
Start = 1700000000

[asset]
RatchetBpsPerDay = 400
MCR = "1000"

[[steps]]
Action = "credit"
Account = "alice"
Amount = "10000000000"

[[steps]]
Action = "issue"
Account = "alice"
Amount = "2100000000"

[[steps]]
Action = "advance"
Advance = "24h"

[[steps]]
Action = "redeem"
Account = "alice"
Amount = "100000000"
ExpectError = "insufficient vault balance"
`

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	if err := os.WriteFile(path, []byte(sampleScenario), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Mint != "acr" || sc.Start != 1_700_000_000 || len(sc.Steps) != 4 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
	if sc.Steps[3].ExpectError != "insufficient vault balance" {
		t.Fatalf("unexpected expectation %q", sc.Steps[3].ExpectError)
	}
	params, err := sc.Asset.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.BufferBps != 500 || !params.Bootstrap || params.RatchetBpsPerDay != 400 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params.MinimumCapitalRequirement.Uint64() != 1000 {
		t.Fatalf("unexpected mcr %s", params.MinimumCapitalRequirement)
	}
}

func TestScenarioAssetOverrides(t *testing.T) {
	buffer := uint16(0)
	bootstrap := false
	params, err := ScenarioAsset{BufferBps: &buffer, Bootstrap: &bootstrap}.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.BufferBps != 0 || params.Bootstrap {
		t.Fatalf("overrides ignored: %+v", params)
	}
	tooWide := uint16(10_001)
	if _, err := (ScenarioAsset{BufferBps: &tooWide}).Params(); !errors.Is(err, ramm.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestValidateScenarioRejectsBadSteps(t *testing.T) {
	base := func(step Step) *Scenario {
		return &Scenario{Mint: "ACR", Steps: []Step{step}}
	}
	cases := map[string]*Scenario{
		"missing mint":     {Steps: []Step{{Action: ActionRatchet}}},
		"no steps":         {Mint: "ACR"},
		"unknown action":   base(Step{Action: "mint"}),
		"issue no account": base(Step{Action: ActionIssue, Amount: "1"}),
		"bad amount":       base(Step{Action: ActionQuoteIssue, Amount: "abc"}),
		"huge amount":      base(Step{Action: ActionCredit, Account: "a", Amount: "18446744073709551616"}),
		"bad advance":      base(Step{Action: ActionAdvance, Advance: "soon"}),
		"negative advance": base(Step{Action: ActionAdvance, Advance: "-1h"}),
	}
	for name, sc := range cases {
		if err := ValidateScenario(sc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
