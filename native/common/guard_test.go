package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleTrade); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	set := NewPauseSet(" Trade ")
	if err := Guard(set, ModuleTrade); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused trade module, got %v", err)
	}
	if err := Guard(set, ModuleOffer); err != nil {
		t.Fatalf("offer module should be live: %v", err)
	}
	if err := Guard(set, ""); err != nil {
		t.Fatalf("empty module must not pause: %v", err)
	}
	set.Set(ModuleTrade, false)
	if err := Guard(set, ModuleTrade); err != nil {
		t.Fatalf("expected resumed trade module: %v", err)
	}
}
