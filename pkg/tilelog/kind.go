package tilelog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKind is returned when a player publishes a kind it may not use
var ErrInvalidKind = errors.New("invalid event kind")

// KindClass groups event kinds by who produces them.
type KindClass int

const (
	// ClassCustom covers free-form kinds such as "chat" or "player.move".
	ClassCustom KindClass = iota

	// ClassAction covers player actions, "action.*".
	ClassAction

	// ClassWorld covers world updates produced by the server, "world.*".
	ClassWorld
)

const (
	actionPrefix = "action."
	worldPrefix  = "world."
)

// Player actions on a tile's economy. The payload describes the building or
// resource and the amount.
const (
	KindBuild    = actionPrefix + "build"
	KindDemolish = actionPrefix + "demolish"
	KindHire     = actionPrefix + "hire"
	KindFire     = actionPrefix + "fire"
	KindDeposit  = actionPrefix + "deposit"
	KindWithdraw = actionPrefix + "withdraw"
)

// World updates, published by the server only.
const (
	// KindTick is published on every watched tile at each clock tick
	KindTick = worldPrefix + "tick"
	// KindTile carries a snapshot of a tile
	KindTile = worldPrefix + "tile"
)

var actionKinds = map[string]struct{}{
	KindBuild:    {},
	KindDemolish: {},
	KindHire:     {},
	KindFire:     {},
	KindDeposit:  {},
	KindWithdraw: {},
}

// ClassOf returns the class of kind.
func ClassOf(kind string) KindClass {
	switch {
	case strings.HasPrefix(kind, actionPrefix):
		return ClassAction
	case strings.HasPrefix(kind, worldPrefix):
		return ClassWorld
	default:
		return ClassCustom
	}
}

func (c KindClass) String() string {
	switch c {
	case ClassAction:
		return "action"
	case ClassWorld:
		return "world"
	default:
		return "custom"
	}
}

// CheckPlayerKind reports whether a player may publish kind: world kinds are
// reserved for the server and actions must be one of the known ones.
func CheckPlayerKind(kind string) error {
	switch ClassOf(kind) {
	case ClassWorld:
		return fmt.Errorf("%w: %q is reserved for the server", ErrInvalidKind, kind)
	case ClassAction:
		if _, ok := actionKinds[kind]; !ok {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidKind, kind)
		}
	}
	return nil
}
