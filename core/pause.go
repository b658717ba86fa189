package core

import (
	"log/slog"
	"strings"

	"ramm/storage"
)

var pausePrefix = []byte("ramm/pause/")

// pauseTable persists module pause switches alongside engine state so they
// survive restarts and are read inside the same overlay as the operation.
type pauseTable struct {
	kv *storage.KV
}

func newPauseTable(kv *storage.KV) *pauseTable {
	return &pauseTable{kv: kv}
}

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), strings.ToLower(strings.TrimSpace(module))...)
}

// IsPaused implements nativecommon.PauseView. Read failures count as paused.
func (p *pauseTable) IsPaused(module string) bool {
	var paused bool
	if _, err := p.kv.KVGet(pauseKey(module), &paused); err != nil {
		slog.Default().Error("read pause switch", slog.String("module", module), slog.String("error", err.Error()))
		return true
	}
	return paused
}

func (p *pauseTable) Set(module string, paused bool) error {
	return p.kv.KVPut(pauseKey(module), paused)
}
