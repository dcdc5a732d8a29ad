package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizduel/arena/internal/ban"
	"github.com/quizduel/arena/internal/config"
	"github.com/quizduel/arena/internal/gateway"
	"github.com/quizduel/arena/internal/match"
	"github.com/quizduel/arena/internal/matchmaker"
	"github.com/quizduel/arena/internal/messaging"
	"github.com/quizduel/arena/internal/metrics"
	"github.com/quizduel/arena/internal/pool"
	"github.com/quizduel/arena/internal/presence"
	"github.com/quizduel/arena/internal/ratelimit"
	"github.com/quizduel/arena/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// --- Postgres ---
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := st.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// --- Redis (connect throttling + temp bans) ---
	var (
		limiter *ratelimit.Limiter
		bans    *ban.Store
	)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable at %s: %v (connect throttling and temp bans disabled)", cfg.RedisAddr, err)
		rdb.Close()
		rdb = nil
	} else {
		limiter = ratelimit.NewLimiter(rdb)
		bans = ban.NewStore(rdb)
	}
	cancelPing()

	// --- NATS (lifecycle events, optional) ---
	var natsClient *messaging.Client
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	// --- Matchmaking core ---
	registry := presence.NewRegistry(pool.New(), cfg.QueuePingInterval)

	deps := match.Deps{
		Problems: st,
		Settler:  st,
		Presence: registry,
	}
	var bus matchmaker.Bus
	if natsClient != nil {
		deps.Notifier = natsClient
		bus = natsClient
	}

	loop := matchmaker.New(cfg.Matchmaker, registry, deps, bus)

	// --- Gateway ---
	gwConfig := gateway.DefaultConfig()
	gwConfig.ListenAddr = cfg.ListenAddr
	gwConfig.JWTSecret = []byte(cfg.JWTSecret)
	gw := gateway.NewServer(gwConfig, registry, st, limiter, bans)

	// --- Metrics ---
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		log.Printf("metrics: listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("Quiz duel server starting")
	log.Printf("  listen_addr:        %s", cfg.ListenAddr)
	log.Printf("  metrics_addr:       %s", cfg.MetricsAddr)
	log.Printf("  redis_addr:         %s", cfg.RedisAddr)
	log.Printf("  nats_url:           %s", cfg.NATSURL)
	log.Printf("  matchmake_interval: %s", cfg.Matchmaker.Interval)
	log.Printf("  tolerance_slope:    %.0f pts/s", cfg.Matchmaker.Slope)
	log.Printf("  problems_per_match: %d", cfg.Matchmaker.Params.ProblemCount)
	log.Printf("  problem_timeout:    %s", cfg.Matchmaker.Params.ProblemTimeout)
	log.Printf("  reconnect_grace:    %s", cfg.Matchmaker.Params.ReconnectGrace)

	loop.Start()

	// Graceful shutdown: stop accepting joins, then cancel in-flight
	// matches (zero rating change) before closing the stores.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Printf("gateway shutdown error: %v", err)
		}
		metricsSrv.Shutdown(shutdownCtx)

		loop.Stop()

		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := gw.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
