package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/api"
	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/cache"
	"github.com/dennisdiepolder/kpiboard/internal/config"
	"github.com/dennisdiepolder/kpiboard/internal/event"
	"github.com/dennisdiepolder/kpiboard/internal/history"
	"github.com/dennisdiepolder/kpiboard/internal/ingestion"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/ranking"
	"github.com/dennisdiepolder/kpiboard/internal/recompute"
	"github.com/dennisdiepolder/kpiboard/internal/storage"
	"github.com/dennisdiepolder/kpiboard/internal/ticker"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/dennisdiepolder/kpiboard/internal/websocket"
	"github.com/dennisdiepolder/kpiboard/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Dur("recompute_debounce", cfg.RecomputeDebounce).
		Dur("resync_interval", cfg.ResyncInterval).
		Int("leaderboard_size", cfg.LeaderboardSize).
		Msg("starting kpiboard server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the document store
	storeCfg := storage.LoadConfig()
	store, err := storage.NewStore(ctx, storeCfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("mode", string(storeCfg.Mode)).Msg("failed to open store")
	}

	// Optional leaderboard history
	var recorder recompute.Recorder
	influxCfg := history.LoadConfig()
	if influxCfg.Enabled() {
		influx, err := history.NewInfluxRecorder(ctx, influxCfg, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("url", influxCfg.URL).Msg("leaderboard history disabled")
		} else {
			defer influx.Close()
			recorder = influx
		}
	}

	// Shared state and leaderboard cache
	state := cache.NewState()
	boards := cache.NewLeaderboardCache()

	engine := ranking.NewEngine(store, ranking.Options{
		Concurrency:  cfg.RankingConcurrency,
		Size:         cfg.LeaderboardSize,
		FetchTimeout: cfg.FetchTimeout,
	}, log.Logger)

	// The hub and the coordinator reference each other through interfaces
	var coordinator *recompute.Coordinator
	hub := websocket.NewHub(boards, watcherFunc(func(month string) { coordinator.Watch(month) }), log.Logger)
	coordinator = recompute.NewCoordinator(engine, state, boards, hub, recorder, cfg.RecomputeDebounce, log.Logger)
	go hub.Run()
	go coordinator.Start(ctx)

	// Load roster and settings, then follow store changes
	processor := ingestion.NewDefaultProcessor(store, state, coordinator, log.Logger)
	coordinator.Watch(types.MonthIDOf(time.Now()))
	if err := processor.Resync(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load initial state")
	}
	go processor.Run(ctx, store)

	if mongoStore, ok := store.(*storage.MongoStore); ok && storeCfg.Mongo.Watch {
		go func() {
			if err := mongoStore.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("mongo change stream stopped, relying on periodic resync")
			}
		}()
	}

	// Periodic resync covers missed change events
	tickerService := ticker.NewTicker(processor, coordinator, cfg.ResyncInterval, log.Logger)
	go tickerService.Start(ctx)

	// Create WebSocket handler
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)

	// Create change receiver
	changeReceiver := event.NewReceiver(processor, log.Logger)

	handlers := &api.Handlers{
		Settings:    api.NewSettingsHandler(store, log.Logger),
		Roster:      api.NewRosterHandler(store, log.Logger),
		Kpi:         api.NewKpiHandler(store, log.Logger),
		Actions:     api.NewAgentActionsHandler(store, cfg.MaxImportBytes, log.Logger),
		History:     api.NewAgentHistoryHandler(store, state, engine, log.Logger),
		Leaderboard: api.NewLeaderboardHandler(boards, coordinator, log.Logger),
		Admin:       api.NewAdminHandler(processor, state, boards, coordinator, hub, log.Logger),
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Internal routes (no auth - for the document store's change feed)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/changes", changeReceiver.HandleChange)
		r.Get("/changes/stats", changeReceiver.GetStats)
	})

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)
		handlers.Mount(r)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background services
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}

	log.Info().Msg("server stopped")
}

// watcherFunc adapts a function to websocket.Watcher
type watcherFunc func(monthID string)

func (f watcherFunc) Watch(monthID string) { f(monthID) }

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"kpiboard"}`)
}
