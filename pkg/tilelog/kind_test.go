package tilelog

import (
	"errors"
	"testing"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		kind string
		want KindClass
	}{
		{"chat", ClassCustom},
		{"player.move", ClassCustom},
		{KindBuild, ClassAction},
		{"action.unknown", ClassAction},
		{KindTick, ClassWorld},
		{KindTile, ClassWorld},
		{"worldly", ClassCustom},
	}

	for _, tt := range tests {
		if got := ClassOf(tt.kind); got != tt.want {
			t.Errorf("Expected %s for %q, got %s", tt.want, tt.kind, got)
		}
	}
}

func TestCheckPlayerKind(t *testing.T) {
	for _, kind := range []string{"chat", KindBuild, KindDemolish, KindHire, KindFire, KindDeposit, KindWithdraw} {
		if err := CheckPlayerKind(kind); err != nil {
			t.Errorf("Expected %q to be allowed, got %v", kind, err)
		}
	}

	for _, kind := range []string{KindTick, KindTile, "world.weather", "action.teleport"} {
		if err := CheckPlayerKind(kind); !errors.Is(err, ErrInvalidKind) {
			t.Errorf("Expected ErrInvalidKind for %q, got %v", kind, err)
		}
	}
}
