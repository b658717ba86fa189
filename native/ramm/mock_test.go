package ramm

import (
	"bytes"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"ramm/crypto"
)

type mockStorage struct {
	kv    map[string][]byte
	lists map[string][][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVAppend(key []byte, value []byte) error {
	k := string(key)
	m.lists[k] = append(m.lists[k], append([]byte(nil), value...))
	return nil
}

func (m *mockStorage) KVGetList(key []byte, out interface{}) error {
	encoded, err := rlp.EncodeToBytes(m.lists[string(key)])
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}

var errMockInsufficient = errors.New("mock: insufficient balance")

type mockHost struct {
	settlement map[string]uint64
	claims     map[string]uint64
	supply     map[string]uint64
	owners     map[string]crypto.Address
}

func newMockHost() *mockHost {
	return &mockHost{
		settlement: make(map[string]uint64),
		claims:     make(map[string]uint64),
		supply:     make(map[string]uint64),
		owners:     make(map[string]crypto.Address),
	}
}

func (m *mockHost) host() Host {
	return Host{Settlement: m, Claims: m, Vaults: m}
}

func (m *mockHost) registerVaults(mint string, owner crypto.Address) {
	m.owners[crypto.DeriveVault(crypto.IssuanceVault, mint).String()] = owner
	m.owners[crypto.DeriveVault(crypto.RedemptionVault, mint).String()] = owner
}

func (m *mockHost) setVaults(mint string, issuance, redemption uint64) {
	m.settlement[crypto.DeriveVault(crypto.IssuanceVault, mint).String()] = issuance
	m.settlement[crypto.DeriveVault(crypto.RedemptionVault, mint).String()] = redemption
}

func (m *mockHost) vaults(mint string) (uint64, uint64) {
	return m.settlement[crypto.DeriveVault(crypto.IssuanceVault, mint).String()],
		m.settlement[crypto.DeriveVault(crypto.RedemptionVault, mint).String()]
}

func (m *mockHost) SettlementBalance(addr crypto.Address) (uint64, error) {
	return m.settlement[addr.String()], nil
}

func (m *mockHost) TransferSettlement(from, to crypto.Address, amount uint64) error {
	if m.settlement[from.String()] < amount {
		return errMockInsufficient
	}
	m.settlement[from.String()] -= amount
	m.settlement[to.String()] += amount
	return nil
}

func (m *mockHost) ClaimSupply(mint string) (uint64, error) {
	return m.supply[mint], nil
}

func (m *mockHost) MintClaim(_ crypto.Address, mint string, to crypto.Address, amount uint64) error {
	m.claims[mint+"/"+to.String()] += amount
	m.supply[mint] += amount
	return nil
}

func (m *mockHost) BurnClaim(mint string, from crypto.Address, amount uint64) error {
	key := mint + "/" + from.String()
	if m.claims[key] < amount {
		return errMockInsufficient
	}
	m.claims[key] -= amount
	m.supply[mint] -= amount
	return nil
}

func (m *mockHost) VaultOwner(vault crypto.Address) (crypto.Address, bool, error) {
	owner, ok := m.owners[vault.String()]
	return owner, ok, nil
}

type mockPauses map[string]bool

func (m mockPauses) IsPaused(module string) bool { return m[module] }

func testAddr(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
