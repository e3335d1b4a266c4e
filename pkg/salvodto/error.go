package salvodto

// DomainError is the player-facing error body. Code is stable across releases;
// Message is human readable and never carries internals.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Op        string `json:"op,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "salvo service error"
}

// Stable error codes.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidPlacement = "invalid_placement"
	CodeFleetMismatch    = "fleet_mismatch"
	CodeAlreadyPlaced    = "already_placed"
	CodePlacementClosed  = "placement_closed"
	CodeOutOfBounds      = "out_of_bounds"
	CodeDuplicateShot    = "duplicate_shot"
	CodeNotYourTurn      = "not_your_turn"
	CodeNotStarted       = "match_not_started"
	CodeMatchEnded       = "match_ended"
	CodeMatchInProgress  = "match_in_progress"
	CodeMatchNotFound    = "match_not_found"
	CodeNotParticipant   = "not_participant"
	CodeAlreadyInMatch   = "already_in_match"
	CodeConcurrentUpdate = "concurrent_update"
	CodeUnauthenticated  = "unauthenticated"
	CodeNotFound         = "not_found"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)
