package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"payment-status-orchestrator/internal/archive"
	"payment-status-orchestrator/internal/config"
	"payment-status-orchestrator/internal/gateway"
	"payment-status-orchestrator/internal/orchestrator"
	"payment-status-orchestrator/internal/queue"
	"payment-status-orchestrator/internal/store"
	"payment-status-orchestrator/internal/substrate"
	"payment-status-orchestrator/internal/telemetry"
	workerproc "payment-status-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.New(redisClient, cfg.VisibilityTimeout)
	stepCache := substrate.NewRedisCache(redisClient, cfg.StepCacheTTL)

	engine := orchestrator.NewEngine(
		gateway.NewHTTPLookupClient(cfg.LookupIndexURL, cfg.PerCallTimeout),
		gateway.NewHTTPNotifierClient(cfg.NotifierURL, cfg.PerCallTimeout),
		gateway.NewHTTPStatusCheckClient(cfg.StatusCheckURL, cfg.PerCallTimeout),
		stepCache,
		st,
	)

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init archiver: %v", err)
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.New(cfg, q, st, engine, archiver, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started with visibility=%s lookup_batch=%d chunk_size=%d",
		workerID, cfg.VisibilityTimeout, cfg.LookupBatchSize, cfg.ChunkSize)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
