package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/feedfan/internal/api"
	"example.com/feedfan/internal/auth"
	"example.com/feedfan/internal/config"
	"example.com/feedfan/internal/firehose"
	"example.com/feedfan/internal/lock"
	"example.com/feedfan/internal/manager"
	persistence "example.com/feedfan/internal/persistence/postgres"
	"example.com/feedfan/internal/queue"
	httptransport "example.com/feedfan/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := persistence.RunMigrations(cfg.PostgresURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	lockOpts := lock.DefaultOptions()
	lockOpts.RetryCount = cfg.LockRetryCount
	lockOpts.RetryDelay = cfg.LockRetryDelay
	locker := lock.NewPostgresLocker(pool, lockOpts)

	var fanoutQueue queue.Queue
	if cfg.UseQueue {
		kq := queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.FanoutTopic)
		defer kq.Close()
		fanoutQueue = kq
	}

	notifier := firehose.NewKafka(cfg.KafkaBrokers, cfg.FirehoseTopic)
	defer notifier.Close()

	engine := manager.New(repo, locker, fanoutQueue, notifier, manager.Options{
		UseQueue:        cfg.UseQueue,
		CopyLimit:       cfg.CopyLimit,
		FanoutBatchSize: cfg.FanoutBatchSize,
		SearchDepth:     cfg.SearchDepth,
		LockTTL:         cfg.LockTTL,
	})

	handler := api.NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("feedfan api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
