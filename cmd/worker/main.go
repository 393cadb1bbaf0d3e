package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/feedfan/internal/config"
	"example.com/feedfan/internal/consumer"
	"example.com/feedfan/internal/firehose"
	"example.com/feedfan/internal/lock"
	"example.com/feedfan/internal/manager"
	persistence "example.com/feedfan/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	notifier := firehose.NewKafka(cfg.KafkaBrokers, cfg.FirehoseTopic)
	defer notifier.Close()

	// Workers replay jobs inline; they must not enqueue again.
	engine := manager.New(repo, locker, nil, notifier, manager.Options{
		CopyLimit:       cfg.CopyLimit,
		FanoutBatchSize: cfg.FanoutBatchSize,
		SearchDepth:     cfg.SearchDepth,
		LockTTL:         cfg.LockTTL,
	})
	handler := consumer.NewFanoutHandler(engine)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for i := 0; i < cfg.WorkerConcurrency; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.WorkerGroupID,
			Topic:           cfg.FanoutTopic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler)

		wg.Add(1)
		go func(worker int, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("worker %d started (topic=%s, group=%s)", worker, cfg.FanoutTopic, cfg.WorkerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("worker %d stopped with error: %v", worker, err)
			}
		}(i, reader)
	}

	<-stop
	log.Println("worker shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}
