package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/freeeve/stagecraft/internal/auth"
	"github.com/freeeve/stagecraft/internal/config"
	"github.com/freeeve/stagecraft/internal/handler"
	"github.com/freeeve/stagecraft/internal/logger"
	"github.com/freeeve/stagecraft/internal/middleware"
	"github.com/freeeve/stagecraft/internal/repository"
	"github.com/freeeve/stagecraft/internal/repository/postgres"
	redisrepo "github.com/freeeve/stagecraft/internal/repository/redis"
	"github.com/freeeve/stagecraft/internal/repository/sqlite"
	"github.com/freeeve/stagecraft/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.Dev})
	log.Info().Str("saveBackend", cfg.SaveBackend).Bool("clearArchive", cfg.DatabaseURL != "").Msg("Config loaded")

	// Save slots
	var store repository.SlotStore
	switch cfg.SaveBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("SQLite open failed")
		}
		defer s.Close()
		store = s
	default:
		c, err := redisrepo.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer c.Close()
		store = c
	}

	// Clear archive (optional)
	var clears repository.ClearRepository
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		clears = postgres.NewClearRepo(db)
	}

	lang, err := language.Parse(cfg.Language)
	if err != nil {
		log.Warn().Err(err).Str("language", cfg.Language).Msg("Unknown language, using English")
		lang = language.English
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	wsHub := handler.NewHub()

	clock := clockwork.NewRealClock()
	persister := service.NewPersister(store)
	stageSvc := service.NewStageService(persister, clears, wsHub, service.Options{
		Clock:               clock,
		VerdictTTL:          cfg.VerdictCacheTTL,
		RewardTTL:           cfg.RewardCacheTTL,
		BatchSize:           cfg.BatchSize,
		BatchIdle:           cfg.BatchIdle,
		FinishedTTL:         cfg.FinishedRunTTL,
		BossCurrencyPerKill: cfg.BossCurrencyPerKill,
		Language:            lang,
	})
	flusher := service.NewIdleFlusher(stageSvc, clock, cfg.BatchIdle)

	// Handlers
	authHandler := handler.NewAuthHandler(jwtMgr, cfg.DevAuth)
	stageHandler := handler.NewStageHandler(stageSvc, cfg.StagesDir)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr, stageSvc)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("POST /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /slot", stageHandler.GetSlot)
	api.HandleFunc("POST /stages", stageHandler.StartStage)
	api.HandleFunc("GET /stages/{id}", stageHandler.GetStage)
	api.HandleFunc("POST /stages/{id}/combat", stageHandler.ResolveAttack)
	api.HandleFunc("POST /stages/{id}/heal", stageHandler.ApplyHealing)
	api.HandleFunc("POST /stages/{id}/recruitment/check", stageHandler.CheckRecruitment)
	api.HandleFunc("GET /stages/{id}/recruits", stageHandler.CompleteRecruitment)
	api.HandleFunc("POST /stages/{id}/moves", stageHandler.ReachPosition)
	api.HandleFunc("POST /stages/{id}/turn/end", stageHandler.EndTurn)
	api.HandleFunc("POST /stages/{id}/bosses/{unitId}/defeat", stageHandler.DefeatBoss)
	api.HandleFunc("GET /stages/{id}/objectives", stageHandler.ListObjectives)
	api.HandleFunc("POST /stages/{id}/objectives/track", stageHandler.TrackObjectives)
	api.HandleFunc("POST /stages/{id}/objectives/{objectiveId}/progress", stageHandler.UpdateObjectiveProgress)
	api.HandleFunc("GET /stages/{id}/victory", stageHandler.CheckVictory)
	api.HandleFunc("GET /stages/{id}/defeat", stageHandler.CheckDefeat)
	api.HandleFunc("GET /stages/{id}/units/{unitId}/priority", stageHandler.TargetPriority)
	api.HandleFunc("POST /stages/{id}/abort", stageHandler.AbortStage)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go flusher.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if err := stageSvc.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending save slot writes did not finish")
	}
	log.Info().Msg("Server stopped")
}
