package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/salvo/internal/broadcast"
	appcfg "github.com/park285/salvo/internal/config"
	"github.com/park285/salvo/internal/httpapi"
	"github.com/park285/salvo/internal/match"
	"github.com/park285/salvo/internal/matchmaking"
	"github.com/park285/salvo/internal/msgcat"
	"github.com/park285/salvo/internal/obslog"
	"github.com/park285/salvo/internal/queue"
	"github.com/park285/salvo/internal/render"
	"github.com/park285/salvo/internal/ruleset"
	"github.com/park285/salvo/internal/stats"
	"github.com/park285/salvo/internal/termination"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	rules, err := ruleset.Load(cfg.RulesetFile)
	if err != nil {
		logger.Fatal("ruleset_error", zap.Error(err))
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rdb, err := appcfg.OpenRedis(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		logger.Fatal("redis_error", zap.Error(err))
	}

	repo := openStats(cfg, logger)

	// Outbound events
	headers := broadcast.BearerToken(cfg.GatewayToken)
	var client *broadcast.Client
	if cfg.GatewayBaseURL != "" {
		client = broadcast.NewClient(cfg.GatewayBaseURL, broadcast.WithHeaderProvider(headers))
	}
	var ws *broadcast.WebSocket
	if cfg.GatewayWSURL != "" {
		ws = broadcast.NewWebSocket(cfg.GatewayWSURL, 5)
		ws.SetHeaderProvider(headers)
		ws.OnStateChange(func(state broadcast.WebSocketState) {
			logger.Info("gateway_ws_state", zap.String("state", state.String()))
		})
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ws.Connect(cctx); err != nil {
			// reconnect continues in the background
			logger.Warn("gateway_ws_connect_error", zap.Error(err))
		}
		ccancel()
	}
	dispatcher := broadcast.NewDispatcher(broadcast.New(cfg.BroadcastMode, client, ws, logger), cfg.BroadcastQueueSize)

	// Match lifecycle
	matchStore := match.NewStore(rdb, cfg.MatchTTL)
	engine := match.NewEngine(matchStore, rules, dispatcher)
	coord := termination.NewCoordinator(matchStore, repo, dispatcher, rules.Elo)
	engine.AttachTerminator(coord)

	q := queue.NewStore(rdb, engine)
	sched := matchmaking.NewScheduler(q, engine, dispatcher, cfg.PairingInterval)
	if err := sched.Start(context.Background()); err != nil {
		logger.Fatal("scheduler_start_error", zap.Error(err))
	}

	api := httpapi.New(httpapi.Deps{
		Engine:      engine,
		Queue:       q,
		Stats:       repo,
		Renderer:    render.NewBoardRenderer(),
		Catalog:     catalog,
		Redis:       rdb,
		Coordinator: coord,
		Dispatcher:  dispatcher,
		Scheduler:   sched,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- api.ListenAndServe(cfg.HTTPAddr, cfg.ReadTimeout, cfg.WriteTimeout) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http_server_error", zap.Error(err))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	// stop intake first, then drain in-flight work
	if err := api.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if err := sched.Stop(); err != nil && !errors.Is(err, matchmaking.ErrAlreadyStopped) {
		logger.Warn("scheduler_stop_error", zap.Error(err))
	}
	if err := dispatcher.Close(sctx); err != nil {
		logger.Warn("dispatcher_close_error", zap.Error(err))
	}
	if ws != nil {
		_ = ws.Close(sctx)
	}
	_ = repo.Close()
	_ = rdb.Close()
}

// openStats uses Postgres when DATABASE_URL is set and an in-memory store otherwise.
func openStats(cfg *appcfg.AppConfig, logger *zap.Logger) stats.Repository {
	if cfg.DatabaseURL == "" {
		logger.Warn("stats_in_memory", zap.String("hint", "set DATABASE_URL to persist stats"))
		return stats.NewMemoryRepository()
	}
	pg, err := stats.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("stats_repo_error", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("stats_schema_error", zap.Error(err))
	}
	return pg
}
