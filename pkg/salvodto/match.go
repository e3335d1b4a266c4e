package salvodto

import "time"

type CellOut struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// BoardView is one grid as seen by a particular viewer. On the opponent's board
// Ships lists only sunk ships until the match has ended.
type BoardView struct {
	OwnerID string      `json:"ownerId"`
	Size    int         `json:"size"`
	Ships   [][]CellOut `json:"ships,omitempty"`
	Hits    []CellOut   `json:"hits"`
	Misses  []CellOut   `json:"misses"`
	Sunk    int         `json:"sunk"`
	Placed  bool        `json:"placed"`
}

type MatchView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Player1    string     `json:"player1"`
	Player2    string     `json:"player2"`
	TurnHolder string     `json:"turnHolder"`
	WinnerID   string     `json:"winnerId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Own        *BoardView `json:"own,omitempty"`
	Opponent   *BoardView `json:"opponent,omitempty"`
}

type MatchStats struct {
	MatchID        string    `json:"matchId"`
	WinnerID       string    `json:"winnerId"`
	LoserID        string    `json:"loserId"`
	Reason         string    `json:"reason"`
	EndTime        time.Time `json:"endTime"`
	TotalShots     int       `json:"totalShots"`
	ShipsDestroyed int       `json:"shipsDestroyed"`
}

type UserStats struct {
	UserID         string `json:"userId"`
	Elo            int    `json:"elo"`
	TopElo         int    `json:"topElo"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	ShipsDestroyed int    `json:"shipsDestroyed"`
	TotalShots     int    `json:"totalShots"`
	TotalHits      int    `json:"totalHits"`
}
