package ramm

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

// Storage abstracts the subset of state manager functionality required to
// persist asset state.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	stateRecordPrefix = []byte("ramm/state/")
	stateIndexKey     = []byte("ramm/state/index")
)

func stateKey(mint string) []byte {
	trimmed := normaliseMint(mint)
	buf := make([]byte, len(stateRecordPrefix)+len(trimmed))
	copy(buf, stateRecordPrefix)
	copy(buf[len(stateRecordPrefix):], trimmed)
	return buf
}

type storedState struct {
	Mint                      string
	BufferBps                 uint16
	RatchetBpsPerDay          uint16
	MinimumCapitalRequirement string
	Bootstrap                 bool
	VirtualIssuance           string
	VirtualRedemption         string
	LastRatchet               uint64
}

// KVStore persists asset state through the RLP key-value accessors.
type KVStore struct {
	store Storage
}

func NewKVStore(store Storage) *KVStore {
	return &KVStore{store: store}
}

// GetState loads the state for mint, reporting false when it was never
// initialised.
func (s *KVStore) GetState(mint string) (*State, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, errNilState
	}
	var stored storedState
	ok, err := s.store.KVGet(stateKey(mint), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	state, err := fromStoredState(&stored)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// PutState writes state and indexes the mint on first write.
func (s *KVStore) PutState(state *State) error {
	if s == nil || s.store == nil {
		return errNilState
	}
	if state == nil || normaliseMint(state.Mint) == "" {
		return fmt.Errorf("ramm: state mint required")
	}
	if state.LastRatchet < 0 {
		return fmt.Errorf("%w: negative last ratchet %d", ErrInvalidParams, state.LastRatchet)
	}
	key := stateKey(state.Mint)
	var existing storedState
	found, err := s.store.KVGet(key, &existing)
	if err != nil {
		return err
	}
	if err := s.store.KVPut(key, toStoredState(state)); err != nil {
		return err
	}
	if !found {
		return s.store.KVAppend(stateIndexKey, []byte(normaliseMint(state.Mint)))
	}
	return nil
}

// Mints lists every initialised asset in initialisation order.
func (s *KVStore) Mints() ([]string, error) {
	if s == nil || s.store == nil {
		return nil, errNilState
	}
	var mints []string
	if err := s.store.KVGetList(stateIndexKey, &mints); err != nil {
		return nil, err
	}
	return mints, nil
}

func toStoredState(state *State) storedState {
	stored := storedState{
		Mint:                      normaliseMint(state.Mint),
		BufferBps:                 state.Params.BufferBps,
		RatchetBpsPerDay:          state.Params.RatchetBpsPerDay,
		MinimumCapitalRequirement: state.Params.mcr().Dec(),
		Bootstrap:                 state.Params.Bootstrap,
		VirtualIssuance:           cloneInt(state.VirtualIssuance).Dec(),
		VirtualRedemption:         cloneInt(state.VirtualRedemption).Dec(),
		LastRatchet:               uint64(state.LastRatchet),
	}
	return stored
}

func fromStoredState(stored *storedState) (*State, error) {
	if stored == nil {
		return nil, fmt.Errorf("ramm: nil stored state")
	}
	if stored.LastRatchet > math.MaxInt64 {
		return nil, fmt.Errorf("ramm: last ratchet overflow")
	}
	mcr, err := parseAmount("minimum capital requirement", stored.MinimumCapitalRequirement)
	if err != nil {
		return nil, err
	}
	issuance, err := parseAmount("virtual issuance", stored.VirtualIssuance)
	if err != nil {
		return nil, err
	}
	redemption, err := parseAmount("virtual redemption", stored.VirtualRedemption)
	if err != nil {
		return nil, err
	}
	return &State{
		Mint: stored.Mint,
		Params: Params{
			BufferBps:                 stored.BufferBps,
			RatchetBpsPerDay:          stored.RatchetBpsPerDay,
			MinimumCapitalRequirement: mcr,
			Bootstrap:                 stored.Bootstrap,
		},
		VirtualIssuance:   issuance,
		VirtualRedemption: redemption,
		LastRatchet:       int64(stored.LastRatchet),
	}, nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ramm: decode %s: %w", field, err)
	}
	if !fitsU128(out) {
		return nil, fmt.Errorf("ramm: decode %s: %w", field, ErrOverflow)
	}
	return out, nil
}

// ParseAmount decodes a base-10 u128 amount.
func ParseAmount(value string) (*uint256.Int, error) {
	return parseAmount("amount", value)
}
