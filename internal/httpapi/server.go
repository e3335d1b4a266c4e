package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/salvo/internal/broadcast"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/matchmaking"
	"github.com/park285/salvo/internal/msgcat"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/queue"
	"github.com/park285/salvo/internal/render"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/internal/termination"
	"github.com/park285/salvo/pkg/salvodto"
)

// HeaderUserID carries the caller's verified identity, set by the fronting gateway.
const HeaderUserID = "X-User-Id"

const defaultOpTimeout = 10 * time.Second

// Deps wires the server. Redis, Coordinator, Dispatcher and Scheduler are only
// read by /healthz and may be nil.
type Deps struct {
	Engine      *match.Engine
	Queue       *queue.Store
	Stats       stats.Repository
	Renderer    render.BoardRenderer
	Catalog     *msgcat.Catalog
	Redis       *redis.Client
	Coordinator *termination.Coordinator
	Dispatcher  *broadcast.Dispatcher
	Scheduler   *matchmaking.Scheduler
}

type Server struct {
	d         Deps
	opTimeout time.Duration
	srv       *fasthttp.Server
}

func New(d Deps) *Server {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	if d.Renderer == nil {
		d.Renderer = render.NewBoardRenderer()
	}
	return &Server{d: d, opTimeout: defaultOpTimeout}
}

// Handler returns the routed request handler with panic recovery.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.recoverPanics(s.route)
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe(addr string, readTimeout, writeTimeout time.Duration) error {
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "salvo",
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	obslog.L().Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	segs := strings.Split(strings.Trim(string(ctx.Path()), "/"), "/")
	method := string(ctx.Method())

	switch {
	case len(segs) == 1 && segs[0] == "healthz":
		s.only(ctx, method, fasthttp.MethodGet, s.handleHealth)
	case len(segs) == 1 && segs[0] == "queue":
		switch method {
		case fasthttp.MethodPost:
			s.authed(ctx, s.handleEnqueue)
		case fasthttp.MethodDelete:
			s.authed(ctx, s.handleDequeue)
		case fasthttp.MethodGet:
			s.authed(ctx, s.handleQueueStatus)
		default:
			s.methodNotAllowed(ctx)
		}
	case len(segs) == 2 && segs[0] == "matches" && segs[1] != "":
		s.only(ctx, method, fasthttp.MethodGet, func(c *fasthttp.RequestCtx) { s.authed(c, s.withMatchID(segs[1], s.handleGetMatch)) })
	case len(segs) == 3 && segs[0] == "matches" && segs[1] != "":
		id := segs[1]
		switch segs[2] {
		case "ships":
			s.only(ctx, method, fasthttp.MethodPost, func(c *fasthttp.RequestCtx) { s.authed(c, s.withMatchID(id, s.handlePlaceShips)) })
		case "shots":
			s.only(ctx, method, fasthttp.MethodPost, func(c *fasthttp.RequestCtx) { s.authed(c, s.withMatchID(id, s.handleFireShot)) })
		case "leave":
			s.only(ctx, method, fasthttp.MethodPost, func(c *fasthttp.RequestCtx) { s.authed(c, s.withMatchID(id, s.handleLeave)) })
		case "board":
			s.only(ctx, method, fasthttp.MethodGet, func(c *fasthttp.RequestCtx) { s.authed(c, s.withMatchID(id, s.handleBoard)) })
		case "stats":
			s.only(ctx, method, fasthttp.MethodGet, func(c *fasthttp.RequestCtx) { s.handleMatchStats(c, id) })
		default:
			s.writeError(ctx, fasthttp.StatusNotFound, salvodto.CodeNotFound, nil, false)
		}
	case len(segs) == 3 && segs[0] == "users" && segs[1] != "" && segs[2] == "stats":
		s.only(ctx, method, fasthttp.MethodGet, func(c *fasthttp.RequestCtx) { s.handleUserStats(c, segs[1]) })
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, salvodto.CodeNotFound, nil, false)
	}
}

type userHandler func(ctx *fasthttp.RequestCtx, userID string)

type matchHandler func(ctx *fasthttp.RequestCtx, userID, matchID string)

func (s *Server) authed(ctx *fasthttp.RequestCtx, h userHandler) {
	user := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderUserID)))
	if user == "" {
		s.writeError(ctx, fasthttp.StatusUnauthorized, salvodto.CodeUnauthenticated, nil, false)
		return
	}
	h(ctx, user)
}

func (s *Server) withMatchID(matchID string, h matchHandler) userHandler {
	return func(ctx *fasthttp.RequestCtx, userID string) { h(ctx, userID, matchID) }
}

func (s *Server) only(ctx *fasthttp.RequestCtx, method, want string, h fasthttp.RequestHandler) {
	if method != want {
		s.methodNotAllowed(ctx)
		return
	}
	h(ctx)
}

func (s *Server) methodNotAllowed(ctx *fasthttp.RequestCtx) {
	s.writeError(ctx, fasthttp.StatusMethodNotAllowed, salvodto.CodeInvalidRequest,
		map[string]any{"Detail": "method " + string(ctx.Method()) + " is not allowed here"}, false)
}

// recoverPanics turns a panic, typically a broken state invariant, into a
// generic 500 after logging it with the stack.
func (s *Server) recoverPanics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				obslog.L().Error("http_panic",
					zap.String("method", string(ctx.Method())),
					zap.String("path", string(ctx.Path())),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()),
				)
				ctx.ResetBody()
				s.writeError(ctx, fasthttp.StatusInternalServerError, salvodto.CodeInternal, nil, false)
			}
		}()
		next(ctx)
	}
}

// opContext bounds one request's work on the stores.
func (s *Server) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		obslog.L().Error("http_encode_error", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, code string, data any, retryable bool) {
	s.writeJSON(ctx, status, salvodto.DomainError{
		Code:      code,
		Message:   s.d.Catalog.ErrorMessage(code, data),
		Op:        string(ctx.Method()) + " " + string(ctx.Path()),
		Retryable: retryable,
	})
}

// fail maps err to its player-facing form. Unknown errors are logged and
// answered with a generic message.
func (s *Server) fail(ctx *fasthttp.RequestCtx, err error) {
	status, code, data, retryable := s.classify(err)
	if status >= fasthttp.StatusInternalServerError {
		obslog.L().Error("http_request_error",
			zap.String("method", string(ctx.Method())),
			zap.String("path", string(ctx.Path())),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	s.writeError(ctx, status, code, data, retryable)
}

func (s *Server) badRequest(ctx *fasthttp.RequestCtx, detail string) {
	s.writeError(ctx, fasthttp.StatusBadRequest, salvodto.CodeInvalidRequest, map[string]any{"Detail": detail}, false)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
