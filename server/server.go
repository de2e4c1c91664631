package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resonate/config"
	"resonate/db"
	"resonate/events"
	"resonate/logger"
	"resonate/queue"
	"resonate/repository"
	"resonate/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP API until interrupted.
func Start() {
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

	apiHandler := NewAPIHandler(assetRepo, store, jobs, cfg)
	hub := NewStatusHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/assets", apiHandler.CreateAssetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/assets/{id}", apiHandler.GetAssetHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/{id}/process", apiHandler.ProcessAssetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/assets/{id}/stream", apiHandler.StreamAssetHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/assets/{id}/publish", apiHandler.PublishAssetHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/ws/assets", hub.ServeWS).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("API server starting", logger.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
