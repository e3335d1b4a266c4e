package httpapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/queue"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/pkg/salvodto"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{grid.ErrInvalidPlacement, fasthttp.StatusBadRequest, salvodto.CodeInvalidPlacement},
	{grid.ErrDuplicateShot, fasthttp.StatusConflict, salvodto.CodeDuplicateShot},
	{match.ErrAlreadyPlaced, fasthttp.StatusConflict, salvodto.CodeAlreadyPlaced},
	{match.ErrPlacementClosed, fasthttp.StatusConflict, salvodto.CodePlacementClosed},
	{match.ErrNotYourTurn, fasthttp.StatusConflict, salvodto.CodeNotYourTurn},
	{match.ErrNotStarted, fasthttp.StatusConflict, salvodto.CodeNotStarted},
	{match.ErrMatchEnded, fasthttp.StatusConflict, salvodto.CodeMatchEnded},
	{match.ErrMatchNotFound, fasthttp.StatusNotFound, salvodto.CodeMatchNotFound},
	{match.ErrNotParticipant, fasthttp.StatusForbidden, salvodto.CodeNotParticipant},
	{queue.ErrAlreadyInMatch, fasthttp.StatusConflict, salvodto.CodeAlreadyInMatch},
	{queue.ErrInvalidUser, fasthttp.StatusUnauthorized, salvodto.CodeUnauthenticated},
	{stats.ErrNotFound, fasthttp.StatusNotFound, salvodto.CodeNotFound},
}

func (s *Server) classify(err error) (status int, code string, data any, retryable bool) {
	if errors.Is(err, grid.ErrOutOfBounds) {
		return fasthttp.StatusBadRequest, salvodto.CodeOutOfBounds, map[string]any{"Size": s.boardSize()}, false
	}
	if errors.Is(err, match.ErrFleetMismatch) {
		return fasthttp.StatusBadRequest, salvodto.CodeFleetMismatch, map[string]any{"Fleet": s.fleetText()}, false
	}
	if errors.Is(err, match.ErrConcurrentUpdate) {
		return fasthttp.StatusConflict, salvodto.CodeConcurrentUpdate, nil, true
	}
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code, nil, false
		}
	}
	if isTimeout(err) {
		return fasthttp.StatusServiceUnavailable, salvodto.CodeUnavailable, nil, true
	}
	return fasthttp.StatusInternalServerError, salvodto.CodeInternal, nil, false
}

func (s *Server) boardSize() int {
	if s.d.Engine == nil {
		return grid.DefaultSize
	}
	return s.d.Engine.Rules().BoardSize
}

func (s *Server) fleetText() string {
	if s.d.Engine == nil {
		return ""
	}
	fleet := s.d.Engine.Rules().Fleet
	parts := make([]string, len(fleet))
	for i, l := range fleet {
		parts[i] = fmt.Sprint(l)
	}
	return strings.Join(parts, ", ")
}
