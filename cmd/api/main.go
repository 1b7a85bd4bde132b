package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finetune-pipeline/cmd"
	"finetune-pipeline/internal/api"
	"finetune-pipeline/internal/core/serving"
	"finetune-pipeline/internal/database"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	env, cfg, err := cmd.LoadConfig()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	closeLog, err := cmd.SetupLogging(env.Root, "api.log")
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer closeLog()

	destroyOnnx, err := cmd.InitOnnx(env.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer destroyOnnx()

	slog.Info("starting api", "root", env.Root, "port", env.APIPort, "config", env.ConfigPath, "base_model", cfg.Model.BaseModel, "model_dir", cfg.Model.FinetunedModelDir)

	db, err := database.NewDatabase(cmd.DatabaseURL(cfg, env.Root))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	llm, err := cmd.NewLLM(cfg)
	if err != nil {
		log.Fatalf("Failed to create llm client: %v", err)
	}

	orchestrator, err := cmd.NewOrchestrator(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer orchestrator.Framework.Close()

	publisher, err := cmd.NewPublisher(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create artifact publisher: %v", err)
	}

	cache := serving.NewCache(serving.OnnxLoader{UseCuda: cfg.Serving.UseCuda}, prometheus.DefaultRegisterer)
	defer cache.Close()

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.MetricsMiddleware)

	service := api.NewPipelineService(db, llm, orchestrator, cache, publisher, cfg.Model.FinetunedModelDir)
	service.AddRoutes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", env.APIPort),
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", env.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", env.APIPort, err)
	}

	slog.Info("server stopped")
}
