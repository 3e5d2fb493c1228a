package world

import "github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"

// Ring returns the tiles at Chebyshev distance step from the origin, walking the
// square counter-clockwise from its south-east corner. Ring(0) is the origin alone.
func Ring(step int32) []tilelog.Position {
	if step <= 0 {
		return []tilelog.Position{tilelog.Origin}
	}

	ring := make([]tilelog.Position, 0, 8*step)
	for y := -step; y < step; y++ {
		ring = append(ring, tilelog.Position{X: step, Y: y})
	}
	for x := step; x > -step; x-- {
		ring = append(ring, tilelog.Position{X: x, Y: step})
	}
	for y := step; y > -step; y-- {
		ring = append(ring, tilelog.Position{X: -step, Y: y})
	}
	for x := -step; x < step; x++ {
		ring = append(ring, tilelog.Position{X: x, Y: -step})
	}
	return ring
}

// Spiral returns the first n positions of the rings around the origin, innermost first.
func Spiral(n int) []tilelog.Position {
	if n <= 0 {
		return nil
	}

	positions := make([]tilelog.Position, 0, n)
	for step := int32(0); len(positions) < n; step++ {
		for _, pos := range Ring(step) {
			if len(positions) == n {
				break
			}
			positions = append(positions, pos)
		}
	}
	return positions
}
