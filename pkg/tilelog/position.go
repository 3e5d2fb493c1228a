package tilelog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPosition is returned when a position string cannot be parsed
var ErrInvalidPosition = errors.New("invalid tile position")

// Position points to a unique tile. Identical to a 2D point.
type Position struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Origin is the tile at (0,0).
var Origin = Position{}

// String renders the position as "(x,y)".
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Key renders the position in the "x,y" form used in URLs and CLI flags.
func (p Position) Key() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// Add returns the position translated by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

// ParsePosition parses "x,y" (optionally wrapped in parentheses) into a Position.
func ParsePosition(s string) (Position, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")

	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("%w: %q (expected x,y)", ErrInvalidPosition, s)
	}

	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q: bad x: %v", ErrInvalidPosition, s, err)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q: bad y: %v", ErrInvalidPosition, s, err)
	}

	return Position{X: int32(x), Y: int32(y)}, nil
}
