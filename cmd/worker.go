package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"resonate/config"
	"resonate/core/audio"
	"resonate/core/ingest"
	"resonate/db"
	"resonate/events"
	"resonate/logger"
	"resonate/queue"
	"resonate/repository"
	"resonate/storage"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the ingestion worker",
	Long:  `Starts the pipeline workers that consume the processing queue, plus the stale-job watchdog and the event counter.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, OutputPath: cfg.LogOutput})

	store, err := storage.NewMinioStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize object storage", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("Failed to migrate database schema", logger.ErrorField(err))
	}

	assetRepo := repository.NewGormAssetRepository(db.GormDB)
	jobs := queue.New(db.RedisClient)
	bus := events.NewBus(db.RedisClient)
	runner := audio.NewExecRunner()

	orchestrator := ingest.NewOrchestrator(ingest.Params{
		Repo:       assetRepo,
		Store:      store,
		Prober:     audio.NewFFprobeProber(cfg.FFprobePath, runner),
		Transcoder: audio.NewFFmpegTranscoder(cfg.FFmpegPath, cfg.HLSSegmentTime, runner),
		Waveform:   audio.NewFFmpegWaveformRenderer(cfg.FFmpegPath, runner),
		Events:     bus,

		Ladder:      cfg.HLSVariants,
		ScratchBase: cfg.ScratchDir,
		Retry: ingest.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    ingest.FixedBackoff(cfg.RetryBackoff),
		},
		UploadWorkers: cfg.WorkerCount,
	})

	pool := queue.NewWorkerPool(jobs, cfg.WorkerCount, orchestrator.Process)
	watchdog := ingest.NewWatchdog(assetRepo, jobs, cfg.WatchdogStaleAfter, cfg.WatchdogInterval)
	counter := events.NewCounterHandler(db.RedisClient, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchdog.Run(ctx)
	go counter.Run(ctx)

	logger.Info("Ingestion worker starting",
		logger.Int("workers", cfg.WorkerCount),
		logger.Any("ladder", cfg.HLSVariants))

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down worker, waiting for in-flight jobs")
	cancel()
	<-done
	logger.Info("Worker stopped")
}
