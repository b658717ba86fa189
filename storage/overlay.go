package storage

import (
	"sort"
	"sync"
)

// Overlay buffers writes on top of a base Database until Commit. Reads see
// buffered writes first. Discard drops everything buffered so a failed
// operation leaves the base untouched.
type Overlay struct {
	mu     sync.RWMutex
	base   Database
	writes map[string]Op
}

func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, writes: make(map[string]Op)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = Op{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	op, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		if op.Delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.Value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = Op{Key: append([]byte(nil), key...), Delete: true}
	return nil
}

// Pending reports the number of buffered mutations.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes)
}

// Commit flushes buffered writes to the base. Backends implementing Batcher
// apply them atomically; others receive the mutations one by one in key
// order.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ops := make([]Op, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, o.writes[key])
	}
	if batcher, ok := o.base.(Batcher); ok {
		if err := batcher.WriteBatch(ops); err != nil {
			return err
		}
	} else {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = o.base.Delete(op.Key)
			} else {
				err = o.base.Put(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
	}
	o.writes = make(map[string]Op)
	return nil
}

// Discard drops buffered writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	o.writes = make(map[string]Op)
	o.mu.Unlock()
}

// Close is a no-op; the base database outlives its overlays.
func (o *Overlay) Close() {}
