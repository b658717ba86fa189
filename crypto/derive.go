package crypto

import (
	"strings"

	"lukechampine.com/blake3"
)

// VaultKind distinguishes the two collateral pools held per asset.
type VaultKind string

const (
	IssuanceVault   VaultKind = "issuance"
	RedemptionVault VaultKind = "redemption"
)

// DeriveVault returns the deterministic vault address for the asset. The same
// (kind, mint) pair always yields the same address so callers never need to
// persist vault identifiers separately.
func DeriveVault(kind VaultKind, mint string) Address {
	return NewAddress(VaultPrefix, derive("vault", string(kind), normaliseMint(mint)))
}

// DeriveModuleAddress returns the authority address for a named module.
func DeriveModuleAddress(module string) Address {
	return NewAddress(ModulePrefix, derive("module", strings.ToLower(strings.TrimSpace(module))))
}

// DeriveAccount returns a holder address seeded from a human-readable label.
// Simulations use it to name participants without managing keys.
func DeriveAccount(label string) Address {
	return NewAddress(AccountPrefix, derive("account", strings.TrimSpace(label)))
}

func derive(parts ...string) []byte {
	sum := blake3.Sum256([]byte(strings.Join(parts, "/")))
	return sum[:AddressLength]
}

func normaliseMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}
