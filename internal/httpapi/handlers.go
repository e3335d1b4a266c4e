package httpapi

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/salvo/internal/grid"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/render"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/internal/termination"
	"github.com/park285/salvo/pkg/salvodto"
)

// HealthReport is the /healthz body. Status is "ok" or "degraded".
type HealthReport struct {
	Status           string `json:"status"`
	Redis            string `json:"redis"`
	StatsFailures    int64  `json:"statsFailures"`
	BroadcastDropped int64  `json:"broadcastDropped"`
	BroadcastFailed  int64  `json:"broadcastFailed"`
	SchedulerRunning bool   `json:"schedulerRunning"`
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	rep := HealthReport{Status: "ok", Redis: "unknown"}
	if s.d.Redis != nil {
		c, cancel := s.opContext()
		err := s.d.Redis.Ping(c).Err()
		cancel()
		if err != nil {
			rep.Status, rep.Redis = "degraded", "down"
		} else {
			rep.Redis = "up"
		}
	}
	if s.d.Coordinator != nil {
		rep.StatsFailures = s.d.Coordinator.StatsFailures()
	}
	if s.d.Dispatcher != nil {
		rep.BroadcastDropped = s.d.Dispatcher.Dropped()
		rep.BroadcastFailed = s.d.Dispatcher.Failed()
	}
	if s.d.Scheduler != nil {
		rep.SchedulerRunning = s.d.Scheduler.Running()
	}
	status := fasthttp.StatusOK
	if rep.Status != "ok" {
		status = fasthttp.StatusServiceUnavailable
	}
	s.writeJSON(ctx, status, rep)
}

func (s *Server) handleEnqueue(ctx *fasthttp.RequestCtx, userID string) {
	c, cancel := s.opContext()
	defer cancel()
	entry, created, err := s.d.Queue.Enqueue(c, userID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	pos, err := s.d.Queue.Position(c, userID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	msg, _ := s.d.Catalog.Render("queue.joined", map[string]any{"Position": pos})
	status := fasthttp.StatusOK
	if created {
		status = fasthttp.StatusCreated
	}
	s.writeJSON(ctx, status, salvodto.QueueResponse{
		UserID:     userID,
		Queued:     true,
		Position:   pos,
		EnqueuedAt: entry.EnqueuedAt,
		Message:    msg,
	})
}

func (s *Server) handleDequeue(ctx *fasthttp.RequestCtx, userID string) {
	c, cancel := s.opContext()
	defer cancel()
	if _, err := s.d.Queue.Dequeue(c, userID); err != nil {
		s.fail(ctx, err)
		return
	}
	msg, _ := s.d.Catalog.Render("queue.left", nil)
	s.writeJSON(ctx, fasthttp.StatusOK, salvodto.QueueResponse{UserID: userID, Message: msg})
}

func (s *Server) handleQueueStatus(ctx *fasthttp.RequestCtx, userID string) {
	c, cancel := s.opContext()
	defer cancel()
	entry, ok, err := s.d.Queue.Get(c, userID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if !ok {
		s.writeJSON(ctx, fasthttp.StatusOK, salvodto.QueueResponse{UserID: userID})
		return
	}
	pos, err := s.d.Queue.Position(c, userID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, salvodto.QueueResponse{
		UserID:     userID,
		Queued:     true,
		Position:   pos,
		EnqueuedAt: entry.EnqueuedAt,
	})
}

func (s *Server) handleGetMatch(ctx *fasthttp.RequestCtx, userID, matchID string) {
	c, cancel := s.opContext()
	defer cancel()
	m, err := s.d.Engine.GetMatch(c, matchID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, matchView(m, userID))
}

func (s *Server) handlePlaceShips(ctx *fasthttp.RequestCtx, userID, matchID string) {
	var req salvodto.PlaceShipsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.badRequest(ctx, "body is not valid JSON")
		return
	}
	ships, problem := toShips(req)
	if problem != "" {
		s.badRequest(ctx, problem)
		return
	}
	c, cancel := s.opContext()
	defer cancel()
	m, err := s.d.Engine.PlaceShips(c, matchID, userID, ships)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, matchView(m, userID))
}

func (s *Server) handleFireShot(ctx *fasthttp.RequestCtx, userID, matchID string) {
	var req salvodto.FireShotRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.badRequest(ctx, "body is not valid JSON")
		return
	}
	if req.Row == nil || req.Col == nil {
		s.badRequest(ctx, "row and col are required")
		return
	}
	c, cancel := s.opContext()
	defer cancel()
	out, err := s.d.Engine.FireShot(c, matchID, userID, grid.Coordinate{Row: *req.Row, Col: *req.Col})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	resp := salvodto.ShotResponse{
		Hit:        out.Result.Hit,
		AllSunk:    out.Result.AllSunk,
		TurnHolder: out.Match.TurnHolder,
		Status:     string(out.Match.Status),
		WinnerID:   out.Match.WinnerID,
	}
	if out.Result.ShipSunk != nil {
		resp.ShipSunk = cellsOut(out.Result.ShipSunk.Cells)
	}
	s.writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleLeave(ctx *fasthttp.RequestCtx, userID, matchID string) {
	c, cancel := s.opContext()
	defer cancel()
	m, err := s.d.Engine.LeaveMatch(c, matchID, userID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, matchView(m, userID))
}

// handleBoard renders one board as PNG. side=own (default) or side=opponent.
func (s *Server) handleBoard(ctx *fasthttp.RequestCtx, userID, matchID string) {
	side := strings.ToLower(strings.TrimSpace(string(ctx.QueryArgs().Peek("side"))))
	if side == "" {
		side = "own"
	}
	if side != "own" && side != "opponent" {
		s.badRequest(ctx, "side must be own or opponent")
		return
	}
	c, cancel := s.opContext()
	defer cancel()
	m, err := s.d.Engine.GetMatch(c, matchID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if !m.IsParticipant(userID) {
		s.fail(ctx, match.ErrNotParticipant)
		return
	}
	owner, show := userID, true
	if side == "opponent" {
		owner, show = m.Opponent(userID), m.Terminated()
	}
	png, err := s.d.Renderer.RenderPNG(c, m.GridOf(owner), render.Options{ShowShips: show, Title: owner})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.SetContentType("image/png")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(png)
}

// handleMatchStats serves the recorded result of an ended match. When the
// result row is missing, for example after a failed stats write, it is
// recomputed from the stored grids.
func (s *Server) handleMatchStats(ctx *fasthttp.RequestCtx, matchID string) {
	c, cancel := s.opContext()
	defer cancel()
	m, err := s.d.Engine.GetMatch(c, matchID)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if !m.Terminated() {
		s.writeError(ctx, fasthttp.StatusConflict, salvodto.CodeMatchInProgress, nil, false)
		return
	}
	if s.d.Stats != nil {
		r, err := s.d.Stats.GetMatchResult(c, matchID)
		switch {
		case err == nil:
			s.writeJSON(ctx, fasthttp.StatusOK, matchStatsView(*r))
			return
		case !errors.Is(err, stats.ErrNotFound):
			obslog.L().Warn("match_stats_read_error", zap.String("match_id", matchID), zap.Error(err))
		}
	}
	s.writeJSON(ctx, fasthttp.StatusOK, matchStatsView(termination.ComputeStats(m)))
}

// handleUserStats returns a fresh record for users with no finished match.
func (s *Server) handleUserStats(ctx *fasthttp.RequestCtx, userID string) {
	initial := 0
	if s.d.Engine != nil {
		initial = s.d.Engine.Rules().Elo.Initial
	}
	if s.d.Stats == nil {
		s.writeJSON(ctx, fasthttp.StatusOK, userStatsView(stats.Fresh(userID, initial)))
		return
	}
	c, cancel := s.opContext()
	defer cancel()
	u, err := s.d.Stats.GetUserStats(c, userID)
	if errors.Is(err, stats.ErrNotFound) {
		s.writeJSON(ctx, fasthttp.StatusOK, userStatsView(stats.Fresh(userID, initial)))
		return
	}
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, userStatsView(*u))
}
