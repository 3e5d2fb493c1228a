package tilenode

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// clock drives the world at a fixed number of updates per second. Each tick
// publishes a tilelog.KindTick event on every tile some player watches.
type clock struct {
	interval time.Duration
	ticks    atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

func newClock(updatesPerSecond int) *clock {
	return &clock{interval: time.Second / time.Duration(updatesPerSecond)}
}

// start runs tick on every interval until stop. A running clock is left alone.
func (c *clock) start(tick func(ctx context.Context, n int64)) {
	if c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		// A slow tick drops the ticks it overran instead of catching up
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx, c.ticks.Add(1))
			}
		}
	}(c.done)
}

// stop ends the tick loop and waits for the current tick to finish.
// It must not be called while holding a lock tick takes.
func (c *clock) stop() {
	if c.done == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// Ticks returns the number of ticks so far
func (c *clock) Ticks() int64 {
	return c.ticks.Load()
}

// tick publishes one KindTick event on each watched tile
func (n *TileNode) tick(ctx context.Context, count int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.checkRunning() != nil {
		return
	}

	payload := []byte(fmt.Sprintf(`{"tick":%d}`, count))
	headers := map[string]string{tilelog.PublisherHeader: n.config.NodeID}

	for _, pos := range n.watchedLocked() {
		tile, err := n.directory.Lookup(ctx, pos)
		if err != nil {
			continue
		}
		if _, err := tile.Register(ctx, tilelog.NewEventWithHeaders(tilelog.KindTick, payload, headers)); err != nil && ctx.Err() == nil {
			log.Printf("tick %d: failed to register on tile %s: %v", count, pos, err)
		}
	}
}

// watchedLocked returns every tile on some player's watch list, sorted by row, then column.
// Must be called with mu held.
func (n *TileNode) watchedLocked() []tilelog.Position {
	seen := make(map[tilelog.Position]struct{})
	for _, player := range n.players {
		for _, pos := range player.Watching() {
			seen[pos] = struct{}{}
		}
	}

	positions := make([]tilelog.Position, 0, len(seen))
	for pos := range seen {
		positions = append(positions, pos)
	}
	sortPositions(positions)
	return positions
}
