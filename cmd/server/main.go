package main

import (
	"codepair/internal/cache"
	"codepair/internal/checkpoint"
	"codepair/internal/config"
	"codepair/internal/live"
	"codepair/internal/model"
	"codepair/internal/repository"
	"codepair/internal/service"
	"codepair/internal/transport/rest"
	"codepair/internal/transport/ws"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// @title Codepair Session API
// @version 1.0
// @description Realtime collaborative coding sessions
// @host localhost:8080
// @BasePath /
func main() {
	log.Println("started")
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("Failed to ping MongoDB:", err)
	}
	log.Println("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL:", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Connected to Redis")

	// Initialize repositories
	sessionRepo := repository.NewSessionRepo(db)
	indexCtx, indexCancel := context.WithTimeout(ctx, 10*time.Second)
	defer indexCancel()
	if err := sessionRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatal("Failed to create session indexes:", err)
	}

	// Initialize caches
	sessionCache := cache.NewSessionCache(rdb, cfg.SessionCacheTTL)

	// Initialize services
	authSvc := service.NewAuthService(cfg.JWTSecret)
	sessionSvc := service.NewSessionService(sessionRepo, sessionCache)

	// Live state and code checkpoints
	registry := live.NewRegistry()
	checkpoints := checkpoint.New(sessionRepo, registry, checkpoint.Config{
		Debounce:     cfg.CodeSaveDebounce,
		MaxWait:      cfg.CodeSaveMaxWait,
		StoreTimeout: cfg.StoreTimeout,
		MaxHistory:   model.DefaultMaxCodeHistory,
	})

	// Initialize WebSocket hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	events := ws.NewEventHandler(wsHub, registry, sessionSvc, checkpoints, cfg.StoreTimeout)
	wsHandler := ws.NewHandler(wsHub, authSvc, events, ws.Config{
		EventsPerSecond: float64(cfg.WSEventsPerSecond),
		EventBurst:      cfg.WSEventBurst,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	router := rest.NewRouter(&rest.Container{
		AuthService:    authSvc,
		SessionService: sessionSvc,
		WSHandler:      wsHandler,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s (%s)", cfg.Port, cfg.Env)
		log.Println("Endpoints:")
		log.Println("  POST /session/create-session")
		log.Println("  POST /session/join-session")
		log.Println("  GET  /session/verify-session/{sessionId}")
		log.Println("  WS   /ws")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Server forced to shutdown:", err)
	}

	// hijacked websocket connections are not closed by Shutdown
	wsHub.Stop()
	checkpoints.Stop(shutdownCtx)

	log.Println("Server exited")
}
