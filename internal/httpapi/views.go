package httpapi

import (
	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/pkg/salvodto"
)

// matchView renders m for viewer. A participant sees their own fleet; afloat
// ships on any other board stay hidden until the match ends.
func matchView(m *match.Match, viewer string) salvodto.MatchView {
	v := salvodto.MatchView{
		ID:         m.ID,
		Status:     string(m.Status),
		Player1:    m.Player1,
		Player2:    m.Player2,
		TurnHolder: m.TurnHolder,
		WinnerID:   m.WinnerID,
		Reason:     string(m.Reason),
		CreatedAt:  m.CreatedAt,
		EndTime:    m.EndTime,
	}
	ended := m.Terminated()
	if m.IsParticipant(viewer) {
		own := boardView(m.GridOf(viewer), viewer, true)
		opp := m.Opponent(viewer)
		other := boardView(m.GridOf(opp), opp, ended)
		v.Own, v.Opponent = &own, &other
		return v
	}
	// spectators get the boards from player1's side
	p1 := boardView(&m.Grid1, m.Player1, ended)
	p2 := boardView(&m.Grid2, m.Player2, ended)
	v.Own, v.Opponent = &p1, &p2
	return v
}

func boardView(g *grid.Grid, owner string, reveal bool) salvodto.BoardView {
	b := salvodto.BoardView{
		OwnerID: owner,
		Size:    g.Size,
		Hits:    []salvodto.CellOut{},
		Misses:  []salvodto.CellOut{},
		Sunk:    g.DestroyedCount(),
		Placed:  g.Placed(),
	}
	for _, s := range g.Ships {
		if reveal || g.IsDestroyed(s) {
			b.Ships = append(b.Ships, cellsOut(s.Cells))
		}
	}
	for _, c := range g.ShotsReceived {
		if _, hit := g.ShipAt(c); hit {
			b.Hits = append(b.Hits, cellOut(c))
		} else {
			b.Misses = append(b.Misses, cellOut(c))
		}
	}
	return b
}

func cellOut(c grid.Coordinate) salvodto.CellOut { return salvodto.CellOut{Row: c.Row, Col: c.Col} }

func cellsOut(cs []grid.Coordinate) []salvodto.CellOut {
	out := make([]salvodto.CellOut, len(cs))
	for i, c := range cs {
		out[i] = cellOut(c)
	}
	return out
}

func matchStatsView(r stats.MatchResult) salvodto.MatchStats {
	return salvodto.MatchStats{
		MatchID:        r.MatchID,
		WinnerID:       r.WinnerID,
		LoserID:        r.LoserID,
		Reason:         r.Reason,
		EndTime:        r.EndTime,
		TotalShots:     r.TotalShots,
		ShipsDestroyed: r.ShipsDestroyed,
	}
}

func userStatsView(u stats.UserStats) salvodto.UserStats {
	return salvodto.UserStats{
		UserID:         u.UserID,
		Elo:            u.Elo,
		TopElo:         u.TopElo,
		Wins:           u.Wins,
		Losses:         u.Losses,
		ShipsDestroyed: u.ShipsDestroyed,
		TotalShots:     u.TotalShots,
		TotalHits:      u.TotalHits,
	}
}

// toShips validates the request body into grid ships. Geometry is checked by the grid.
func toShips(req salvodto.PlaceShipsRequest) ([]grid.Ship, string) {
	if len(req.Ships) == 0 {
		return nil, "ships must not be empty"
	}
	ships := make([]grid.Ship, 0, len(req.Ships))
	for _, s := range req.Ships {
		if len(s.Cells) == 0 {
			return nil, "ship has no cells"
		}
		cells := make([]grid.Coordinate, 0, len(s.Cells))
		for _, c := range s.Cells {
			if c.Row == nil || c.Col == nil {
				return nil, "every cell needs row and col"
			}
			cells = append(cells, grid.Coordinate{Row: *c.Row, Col: *c.Col})
		}
		ships = append(ships, grid.Ship{Cells: cells})
	}
	return ships, ""
}
