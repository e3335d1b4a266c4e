package grid

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultSize is the classic 10x10 board.
const DefaultSize = 10

var (
	ErrInvalidPlacement = errors.New("invalid ship placement")
	ErrOutOfBounds      = errors.New("coordinate out of bounds")
	ErrDuplicateShot    = errors.New("cell already fired on")
)

// Coordinate addresses a single cell. Row and Col are zero based.
type Coordinate struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Coordinate) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// InBounds reports whether c lies on a size x size board.
func (c Coordinate) InBounds(size int) bool {
	return c.Row >= 0 && c.Row < size && c.Col >= 0 && c.Col < size
}

// Ship is an ordered run of cells. Its length is the number of cells.
type Ship struct {
	Cells []Coordinate `json:"cells"`
}

func (s Ship) Len() int { return len(s.Cells) }

func (s Ship) covers(c Coordinate) bool {
	for _, cell := range s.Cells {
		if cell == c {
			return true
		}
	}
	return false
}

// ShotResult is what the shooter learns from a single shot.
type ShotResult struct {
	Hit      bool  `json:"hit"`
	ShipSunk *Ship `json:"shipSunk,omitempty"`
	AllSunk  bool  `json:"allSunk"`
}

// Grid is one player's board: the ships they placed and the shots they received.
type Grid struct {
	Size          int          `json:"size"`
	Ships         []Ship       `json:"ships"`
	ShotsReceived []Coordinate `json:"shotsReceived"`
}

func NewGrid(size int) *Grid {
	if size <= 0 {
		size = DefaultSize
	}
	return &Grid{Size: size, Ships: []Ship{}, ShotsReceived: []Coordinate{}}
}

// PlaceShips validates and installs the whole fleet at once.
// Nothing is written unless every ship is valid.
func (g *Grid) PlaceShips(ships []Ship) error {
	if len(g.Ships) > 0 {
		return fmt.Errorf("%w: ships already placed", ErrInvalidPlacement)
	}
	if len(ships) == 0 {
		return fmt.Errorf("%w: no ships", ErrInvalidPlacement)
	}
	occupied := make(map[Coordinate]int, len(ships)*4)
	placed := make([]Ship, 0, len(ships))
	for i, s := range ships {
		norm, err := normalizeShip(s, g.Size)
		if err != nil {
			return fmt.Errorf("%w: ship %d: %v", ErrInvalidPlacement, i, err)
		}
		for _, c := range norm.Cells {
			if j, taken := occupied[c]; taken {
				return fmt.Errorf("%w: ship %d overlaps ship %d at %s", ErrInvalidPlacement, i, j, c)
			}
			occupied[c] = i
		}
		placed = append(placed, norm)
	}
	g.Ships = placed
	return nil
}

// normalizeShip checks bounds, collinearity and contiguity and returns the ship
// with its cells sorted along its axis.
func normalizeShip(s Ship, size int) (Ship, error) {
	if len(s.Cells) == 0 {
		return Ship{}, errors.New("empty ship")
	}
	cells := append([]Coordinate(nil), s.Cells...)
	for _, c := range cells {
		if !c.InBounds(size) {
			return Ship{}, fmt.Errorf("cell %s outside %dx%d board", c, size, size)
		}
	}
	if len(cells) == 1 {
		return Ship{Cells: cells}, nil
	}
	sameRow, sameCol := true, true
	for _, c := range cells[1:] {
		if c.Row != cells[0].Row {
			sameRow = false
		}
		if c.Col != cells[0].Col {
			sameCol = false
		}
	}
	if !sameRow && !sameCol {
		return Ship{}, errors.New("cells are not collinear")
	}
	sort.Slice(cells, func(i, j int) bool {
		if sameRow {
			return cells[i].Col < cells[j].Col
		}
		return cells[i].Row < cells[j].Row
	})
	for i := 1; i < len(cells); i++ {
		prev, cur := cells[i-1], cells[i]
		step := cur.Col - prev.Col
		if !sameRow {
			step = cur.Row - prev.Row
		}
		if step != 1 {
			return Ship{}, fmt.Errorf("cells are not contiguous between %s and %s", prev, cur)
		}
	}
	return Ship{Cells: cells}, nil
}

// ApplyShot records a shot against this grid. A repeated coordinate is rejected
// and leaves the grid untouched.
func (g *Grid) ApplyShot(c Coordinate) (ShotResult, error) {
	if !c.InBounds(g.Size) {
		return ShotResult{}, fmt.Errorf("%w: %s", ErrOutOfBounds, c)
	}
	if g.fired(c) {
		return ShotResult{}, fmt.Errorf("%w: %s", ErrDuplicateShot, c)
	}
	g.ShotsReceived = append(g.ShotsReceived, c)

	res := ShotResult{}
	if idx := g.shipIndexAt(c); idx >= 0 {
		res.Hit = true
		ship := g.Ships[idx]
		// the shot just recorded is the one that completes the ship
		if g.hitsOn(ship) == ship.Len() {
			sunk := Ship{Cells: append([]Coordinate(nil), ship.Cells...)}
			res.ShipSunk = &sunk
		}
	}
	res.AllSunk = g.AllSunk()
	return res, nil
}

// ShipAt returns the ship covering c, if any.
func (g *Grid) ShipAt(c Coordinate) (Ship, bool) {
	if idx := g.shipIndexAt(c); idx >= 0 {
		return g.Ships[idx], true
	}
	return Ship{}, false
}

// IsDestroyed reports whether every cell of s has been fired on.
func (g *Grid) IsDestroyed(s Ship) bool {
	return s.Len() > 0 && g.hitsOn(s) == s.Len()
}

// DestroyedCount is the number of ships on this grid that are sunk.
func (g *Grid) DestroyedCount() int {
	n := 0
	for _, s := range g.Ships {
		if g.IsDestroyed(s) {
			n++
		}
	}
	return n
}

// HitCount is the number of received shots that landed on a ship.
func (g *Grid) HitCount() int {
	n := 0
	for _, c := range g.ShotsReceived {
		if g.shipIndexAt(c) >= 0 {
			n++
		}
	}
	return n
}

// AllSunk is the losing condition for the grid's owner. An empty grid is never sunk.
func (g *Grid) AllSunk() bool {
	if len(g.Ships) == 0 {
		return false
	}
	for _, s := range g.Ships {
		if !g.IsDestroyed(s) {
			return false
		}
	}
	return true
}

// Placed reports whether a fleet has been installed.
func (g *Grid) Placed() bool { return len(g.Ships) > 0 }

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	if g == nil {
		return nil
	}
	out := &Grid{
		Size:          g.Size,
		Ships:         make([]Ship, len(g.Ships)),
		ShotsReceived: append([]Coordinate(nil), g.ShotsReceived...),
	}
	for i, s := range g.Ships {
		out.Ships[i] = Ship{Cells: append([]Coordinate(nil), s.Cells...)}
	}
	return out
}

func (g *Grid) fired(c Coordinate) bool {
	for _, s := range g.ShotsReceived {
		if s == c {
			return true
		}
	}
	return false
}

func (g *Grid) shipIndexAt(c Coordinate) int {
	for i, s := range g.Ships {
		if s.covers(c) {
			return i
		}
	}
	return -1
}

// hitsOn counts received shots on s. More hits than cells means the shot log was
// corrupted, which is a bug in this package rather than a player error.
func (g *Grid) hitsOn(s Ship) int {
	n := 0
	for _, c := range g.ShotsReceived {
		if s.covers(c) {
			n++
		}
	}
	if n > s.Len() {
		panic(InvariantViolation{Detail: fmt.Sprintf("ship of length %d has %d recorded hits", s.Len(), n)})
	}
	return n
}
