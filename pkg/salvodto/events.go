package salvodto

// Event names emitted to rooms. The names and the JSON field names are part of the
// client contract.
const (
	EventMatchFound      = "match-found"
	EventMatchTerminated = "match-terminated"
	EventMatchStarted    = "match-started"
	EventShotFired       = "shot-fired"
)

// Termination reasons carried by match-terminated.
const (
	ReasonPlayerWon         = "PlayerWon"
	ReasonPlayerLeftTheGame = "PlayerLeftTheGame"
)

// MatchFound goes to each paired user's own room.
type MatchFound struct {
	MatchID    string `json:"matchId"`
	OpponentID string `json:"opponentId"`
}

// MatchTerminated goes to the match room.
type MatchTerminated struct {
	WinnerUsername string `json:"winnerUsername"`
	Reason         string `json:"reason"`
}

type MatchStarted struct {
	MatchID    string `json:"matchId"`
	TurnHolder string `json:"turnHolder"`
}

type ShotFired struct {
	MatchID   string `json:"matchId"`
	ShooterID string `json:"shooterId"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Hit       bool   `json:"hit"`
	Sunk      bool   `json:"sunk"`
	AllSunk   bool   `json:"allSunk"`
}
