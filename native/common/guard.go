package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by operations refused while their module is
// paused. The returned error names the module and matches with errors.Is.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the persisted pause switch of a module. The executor
// backs it with the pause table stored next to the asset state.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails when module is paused. A nil view or an empty module name
// never blocks, so engines built without a pause table keep trading.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
