package main

import (
	"context"
	"log"
	"os"
	"time"

	"kaichat/internal/api"
	"kaichat/internal/auth"
	"kaichat/internal/config"
	"kaichat/internal/redis"
	"kaichat/internal/service/ai"
	"kaichat/internal/service/assistant"
	"kaichat/internal/service/memory"
	"kaichat/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("KAI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := storage.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	// Redis is optional: without it, token validation just hits the database.
	cache, err := redis.NewClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, auth cache disabled", zap.Error(err))
		cache = nil
	} else {
		defer cache.Close()
	}

	authService := auth.NewService(db, cache, logger, 24*time.Hour)
	assistantService := assistant.NewService(db, logger)

	aiClient := ai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.EmbedModel, logger)

	memoryStore := memory.NewPostgresStore(db)
	pipeline := memory.NewPipeline(memoryStore, aiClient, cfg.Memory, aiClient.DefaultModel(), logger)
	if pipeline == nil {
		logger.Info("memory features disabled")
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	assistantService.StartMemorySweeper(sweepCtx, cfg.Memory.SweepInterval)

	handlers := api.NewHandler(assistantService, authService, pipeline,
		func(apiKey string) ai.Client { return aiClient.WithKey(apiKey) },
		aiClient.DefaultModel(), logger)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("server starting", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
