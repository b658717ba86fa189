package common

import (
	"errors"
	"strings"
	"testing"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	paused := pauseSet{"ramm": true}
	if err := Guard(paused, "ramm"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	} else if !strings.Contains(err.Error(), "ramm") {
		t.Fatalf("expected module in error, got %v", err)
	}
	if err := Guard(paused, "other"); err != nil {
		t.Fatalf("unpaused module blocked: %v", err)
	}
	if err := Guard(nil, "ramm"); err != nil {
		t.Fatalf("nil view blocked: %v", err)
	}
	if err := Guard(paused, ""); err != nil {
		t.Fatalf("empty module blocked: %v", err)
	}
}
