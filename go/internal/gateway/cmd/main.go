package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/internal/gateway"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := gateway.LoadConfig(os.Getenv("GATEWAY_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick the store backend
	var store gateway.Store
	switch cfg.Store {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		store, err = gateway.NewPGStore(ctx, pool)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize postgres store")
		}
		log.Info().Str("database", cfg.Postgres.Database).Msg("using postgres store")
	default:
		store = gateway.NewMemStore()
		log.Info().Msg("using in-memory store")
	}

	// Optional event bus
	var publisher gateway.EventPublisher = gateway.NoopPublisher{}
	if cfg.NATS.Enabled {
		pubCfg := gateway.DefaultJetStreamPublisherConfig()
		pubCfg.URL = cfg.NATS.URL
		pubCfg.StreamName = cfg.NATS.StreamName
		pubCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		jsPub, err := gateway.NewJetStreamPublisher(ctx, pubCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect JetStream publisher")
		}
		defer jsPub.Close()
		publisher = jsPub
	}

	clock := clockwork.NewRealClock()
	service := gateway.NewService(store, publisher, clock)
	hub := gateway.NewRoomHub(gateway.DefaultHubConfig(), service)
	scheduler := gateway.NewLifecycleScheduler(clock, service)
	service.AttachHub(hub)
	service.AttachScheduler(scheduler)

	go hub.Start(ctx)

	// Re-arm lifecycle timers for everything already in the store
	if err := scheduler.Resume(ctx, store); err != nil {
		log.Fatal().Err(err).Msg("failed to resume lifecycle timers")
	}

	mux := http.NewServeMux()
	handlers := gateway.NewHandlers(service, hub)
	handlers.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-User-Id", "X-Username"},
	}).Handler(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      corsHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("auction gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("auction gateway shutdown complete")
}
