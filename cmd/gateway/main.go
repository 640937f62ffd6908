package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auditgate/internal/auth"
	"auditgate/internal/config"
	"auditgate/internal/gateway"
	"auditgate/internal/httpapi"
	"auditgate/internal/ledger"
	"auditgate/internal/logging"
	"auditgate/internal/metrics"
	"auditgate/internal/models"
	"auditgate/internal/providers"
	"auditgate/internal/queue"
	"auditgate/internal/ratelimit"
	"auditgate/internal/recorder"
	"auditgate/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	db, err := storage.NewDB(cfg.Database, cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	encryption, err := storage.NewEncryptionFromBase64(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v", err)
	}

	registry := providers.NewRegistry(storage.NewProviderRepository(db), encryption)
	if err := registry.Reload(rootCtx); err != nil {
		log.Fatalf("Failed to load providers: %v", err)
	}
	defer registry.Close()

	directory := storage.NewDirectory(db)
	resolver := auth.NewResolver(directory)

	limiter := ratelimit.NewRateLimiter(redisClient)

	led := ledger.NewPostgresLedger(db.Conn(), cfg.Ledger.ReservationTTL)
	led.StartSweeper(rootCtx, cfg.Ledger.SweepInterval)

	queueCfg := queue.DefaultConfig("audit")
	queueCfg.BatchSize = cfg.Queue.BatchSize
	queueCfg.BatchTimeout = cfg.Queue.BatchTimeout
	queueCfg.MaxRetries = cfg.Queue.MaxRetries
	queueCfg.RetryBackoff = cfg.Queue.RetryBackoff

	var auditQueue queue.Queue
	var dlq queue.DeadLetterQueue
	if cfg.Queue.UseRedis {
		auditQueue, err = queue.NewRedisQueue(redisClient, queueCfg)
		if err != nil {
			log.Fatalf("Failed to create audit queue: %v", err)
		}
		dlq, err = queue.NewRedisDeadLetterQueue(redisClient, queueCfg)
		if err != nil {
			log.Fatalf("Failed to create dead letter queue: %v", err)
		}
	} else {
		auditQueue = queue.NewMemoryQueue(queueCfg)
		dlq = queue.NewMemoryDeadLetterQueue()
	}

	m := metrics.New()

	rec := recorder.New(auditQueue, dlq, storage.NewRequestRepository(db), m, queueCfg)
	rec.Start(rootCtx)

	archive := buildArchive(rootCtx, cfg)
	defer archive.Close()

	gw := gateway.New(resolver, limiter, led, registry, &auditSink{recorder: rec, archive: archive}, m)

	deps := &httpapi.Dependencies{
		Config:     cfg,
		DB:         db,
		Redis:      redisClient,
		Encryption: encryption,
		Registry:   registry,
		Gateway:    gw,
		Resolver:   resolver,
		Recorder:   rec,
		AdminStore: directory,
		Metrics:    m,
	}

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses have no bounded duration
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Gateway listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Drain in dependency order: stop accepting records, flush the
	// archive, then release the queue and sweeper.
	if err := rec.Stop(); err != nil {
		log.Printf("Recorder shutdown: %v", err)
	}
	if err := archive.Close(); err != nil {
		log.Printf("Archive shutdown: %v", err)
	}
	_ = auditQueue.Close()
	stopRoot()

	log.Println("Server exited")
}

// buildArchive returns the S3 archive sink, or a noop when archiving is
// disabled or S3 is unreachable. Archive loss never blocks startup.
func buildArchive(ctx context.Context, cfg *config.Config) logging.Sink {
	if !cfg.Archive.Enabled {
		return logging.NewNoopSink()
	}

	writer, err := logging.NewS3Writer(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Prefix, cfg.Archive.PodName)
	if err != nil {
		log.Printf("S3 archive unavailable, continuing without it: %v", err)
		return logging.NewNoopSink()
	}

	return logging.NewArchiver(writer, cfg.Archive)
}

// auditSink fans each settled record out to the durable recorder and the
// best-effort archive. Archive saturation is not an error.
type auditSink struct {
	recorder *recorder.Recorder
	archive  logging.Sink
}

func (s *auditSink) Record(ctx context.Context, record *models.APIRequest) error {
	if err := s.archive.Enqueue(record); err != nil && err != logging.ErrBufferFull {
		log.Printf("Archive enqueue failed: %v", err)
	}
	return s.recorder.Record(ctx, record)
}
