package tilenode

import (
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
)

// Player tracks the tiles a connected player watches.
// The node creates a Player on the first Join and forgets it once it watches nothing.
type Player struct {
	mu          sync.Mutex
	id          string
	connectedAt time.Time
	lastFetch   time.Time
	watching    map[tilelog.Position]struct{}
}

// NewPlayer creates a player with an empty watch list.
func NewPlayer(id string) *Player {
	return &Player{
		id:          id,
		connectedAt: time.Now(),
		watching:    make(map[tilelog.Position]struct{}),
	}
}

// ID returns the player identifier
func (p *Player) ID() string {
	return p.id
}

// ConnectedAt returns when the player first joined a tile
func (p *Player) ConnectedAt() time.Time {
	return p.connectedAt
}

func (p *Player) watch(pos tilelog.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watching[pos] = struct{}{}
}

// unwatch removes pos and reports whether the watch list is now empty
func (p *Player) unwatch(pos tilelog.Position) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watching, pos)
	return len(p.watching) == 0
}

func (p *Player) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFetch = time.Now()
}

// Watching returns the watched tiles sorted by row, then column
func (p *Player) Watching() []tilelog.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make([]tilelog.Position, 0, len(p.watching))
	for pos := range p.watching {
		positions = append(positions, pos)
	}
	sortPositions(positions)
	return positions
}

func sortPositions(positions []tilelog.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Y != positions[j].Y {
			return positions[i].Y < positions[j].Y
		}
		return positions[i].X < positions[j].X
	})
}

// Info returns a snapshot of the player
func (p *Player) Info() tilenode.PlayerInfo {
	watching := p.Watching()

	p.mu.Lock()
	defer p.mu.Unlock()
	return tilenode.PlayerInfo{
		ID:          p.id,
		ConnectedAt: p.connectedAt,
		LastFetch:   p.lastFetch,
		Watching:    watching,
	}
}
