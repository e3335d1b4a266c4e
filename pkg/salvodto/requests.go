package salvodto

import "time"

type CellDTO struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

type ShipDTO struct {
	Cells []CellDTO `json:"cells"`
}

// PlaceShipsRequest is the body of POST /matches/{id}/ships.
type PlaceShipsRequest struct {
	Ships []ShipDTO `json:"ships"`
}

// FireShotRequest is the body of POST /matches/{id}/shots.
type FireShotRequest struct {
	Row *int `json:"row"`
	Col *int `json:"col"`
}

type QueueResponse struct {
	UserID     string    `json:"userId"`
	Queued     bool      `json:"queued"`
	Position   int       `json:"position,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt,omitempty"`
	Message    string    `json:"message,omitempty"`
}

type ShotResponse struct {
	Hit        bool      `json:"hit"`
	ShipSunk   []CellOut `json:"shipSunk,omitempty"`
	AllSunk    bool      `json:"allSunk"`
	TurnHolder string    `json:"turnHolder"`
	Status     string    `json:"status"`
	WinnerID   string    `json:"winnerId,omitempty"`
}
