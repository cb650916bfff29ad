package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridwatch/config"
	"gridwatch/database"
	"gridwatch/handlers"
	"gridwatch/metrics"
	"gridwatch/middleware"
	"gridwatch/rabbitmq"
	"gridwatch/relay"
	"gridwatch/session"
	"gridwatch/share"
	"gridwatch/storage"
	"gridwatch/websocket"
	"gridwatch/workflow"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database connection
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Info("Initializing database schema...")
	if err := database.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	metrics.Register()

	reports := database.NewReportService(db)
	users := database.NewUserService(db)
	sessions := session.NewService(users, session.ProvidersFromConfig(cfg), cfg.JWTSecret, cfg.SessionTTL)

	bucket, err := storage.NewBucket(cfg.StorageDir, cfg.StorageBucket, cfg.PublicBaseURL, cfg.ImageMaxDimension)
	if err != nil {
		log.Fatalf("Failed to open storage bucket: %v", err)
	}

	relaySvc := relay.NewService(cfg.TwitterAPIURL, cfg.RelayTimeout)
	sharers := []workflow.Sharer{
		share.NewFacebook(cfg.FacebookGraphURL, cfg.RelayTimeout),
		share.NewTwitter(relaySvc),
	}

	// The event bus is optional; without it changes only reach the live feed
	var publisher *rabbitmq.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.Fatalf("Failed to create RabbitMQ publisher: %v", err)
		}
		defer publisher.Close()
	}

	hub := websocket.NewHub()
	go hub.Run()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	drafts := workflow.NewRegistry(cfg.DraftTTL)
	go drafts.Run(ctx, time.Minute)

	// unfinished drafts end with the user's session
	sessions.Subscribe(func(e session.Event) {
		if e.Kind != session.EventSignedOut {
			return
		}
		if n := drafts.DropOwner(e.UserID); n > 0 {
			log.WithField("user_id", e.UserID).Infof("Dropped %d drafts on sign-out", n)
		}
	})

	h := handlers.NewHandlers(handlers.Deps{
		Reports:       reports,
		Auth:          sessions,
		Bucket:        bucket,
		Drafts:        drafts,
		Sharers:       sharers,
		Publisher:     publisher,
		Hub:           hub,
		DB:            db,
		MaxPhotos:     cfg.MaxPhotos,
		MaxPhotoBytes: cfg.MaxPhotoBytes,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: strings.HasPrefix(cfg.PublicBaseURL, "https://"),
	})

	router := handlers.SetupRouter(h, handlers.RouterConfig{
		Resolver:       sessions,
		Relay:          relaySvc,
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stop()
	hub.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
