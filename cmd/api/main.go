package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paircomms/msg-gateway/internal/config"
	"github.com/paircomms/msg-gateway/internal/core"
	"github.com/paircomms/msg-gateway/internal/db"
	httpapi "github.com/paircomms/msg-gateway/internal/http"
	"github.com/paircomms/msg-gateway/internal/limiter"
	"github.com/paircomms/msg-gateway/internal/metrics"
	"github.com/paircomms/msg-gateway/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		panic(err)
	}

	var log *zap.Logger
	if cfg.LogDev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(rootCtx, cfg.Database.URL)
	if err != nil {
		log.Fatal("db pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Fatal("db ping", zap.Error(err))
	}
	if err := db.Migrate(rootCtx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// ---- Rate limiter ----
	var lim limiter.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		lim = limiter.NewRedisStore(rdb, cfg.RateLimit.Window, cfg.RateLimit.Max)
		log.Info("rate limiter backend: redis", zap.String("addr", cfg.Redis.Address))
	} else {
		mem := limiter.NewMemoryStore(cfg.RateLimit.Window, cfg.RateLimit.Max)
		mem.StartJanitor(rootCtx, 2*time.Minute)
		lim = mem
		log.Info("rate limiter backend: memory")
	}

	// ---- Core ----
	store := core.NewStore(pool, cfg.Cooldown.Window)
	svc := core.NewService(store, lim, core.RealClock(), log)

	recv, err := upload.NewReceiver(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		log.Fatal("upload receiver", zap.Error(err))
	}

	// ---- Pool stats exporter ----
	stop := make(chan struct{})
	defer close(stop)
	go metrics.NewPGXPoolStats(pool).Start(15*time.Second, stop)

	// ---- HTTP server ----
	throttle := httpapi.NewIPThrottle(cfg.Ingress.RPS, cfg.Ingress.Burst)
	throttle.StartJanitor(rootCtx, 2*time.Minute, 15*time.Minute)
	srv := httpapi.NewServer(svc, recv, throttle, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("HTTP listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server", zap.Error(err))
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	cancel()
	_ = server.Shutdown(shutdownCtx)
}
