package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// KV adapts a Database to the RLP encoded accessor set used by the native
// modules.
type KV struct {
	db Database
}

func NewKV(db Database) *KV {
	return &KV{db: db}
}

// KVGet decodes the value stored at key into out. It reports false when the
// key is absent.
func (s *KV) KVGet(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("decode %x: %w", key, err)
	}
	return true, nil
}

func (s *KV) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode %x: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

func (s *KV) KVDelete(key []byte) error {
	return s.db.Delete(key)
}

// KVAppend appends an already-encoded element to the list stored at key.
func (s *KV) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := s.KVGet(key, &list); err != nil {
		return err
	}
	list = append(list, append([]byte(nil), value...))
	return s.KVPut(key, list)
}

// KVGetList decodes the list stored at key into out, which must point at a
// slice. Missing keys decode as an empty list.
func (s *KV) KVGetList(key []byte, out interface{}) error {
	var list [][]byte
	if _, err := s.KVGet(key, &list); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}
