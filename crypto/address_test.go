package crypto

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(AccountPrefix, raw)
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %q", decoded.Prefix())
	}
}

func TestDeriveVaultDeterministic(t *testing.T) {
	a := DeriveVault(IssuanceVault, "acr")
	b := DeriveVault(IssuanceVault, " ACR ")
	if !a.Equal(b) {
		t.Fatalf("vault derivation must normalise mint: %s != %s", a, b)
	}
	if a.Equal(DeriveVault(RedemptionVault, "ACR")) {
		t.Fatalf("issuance and redemption vaults must differ")
	}
	if a.Equal(DeriveVault(IssuanceVault, "OTHER")) {
		t.Fatalf("vaults for different mints must differ")
	}
	if a.Prefix() != VaultPrefix {
		t.Fatalf("unexpected vault prefix %q", a.Prefix())
	}
}

func TestAddressZeroValue(t *testing.T) {
	var addr Address
	if !addr.IsZero() {
		t.Fatalf("zero address should report IsZero")
	}
	if addr.String() != "" {
		t.Fatalf("zero address should render empty, got %q", addr.String())
	}
	if _, err := DecodeAddress("not-an-address"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDeriveAccountUsesAccountPrefix(t *testing.T) {
	alice := DeriveAccount("alice")
	if alice.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %q", alice.Prefix())
	}
	if !alice.Equal(DeriveAccount(" alice ")) {
		t.Fatalf("label must be trimmed")
	}
	if alice.Equal(DeriveAccount("bob")) {
		t.Fatalf("distinct labels must yield distinct accounts")
	}
}
