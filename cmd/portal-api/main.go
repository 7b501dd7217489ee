package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "carbon-scribe/project-portal/registry-backend/api/v1"
	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/cache"
	"carbon-scribe/project-portal/registry-backend/internal/config"
	"carbon-scribe/project-portal/registry-backend/internal/database"
	"carbon-scribe/project-portal/registry-backend/internal/monitoring"
	"carbon-scribe/project-portal/registry-backend/internal/notifications"
	streaming "carbon-scribe/project-portal/registry-backend/internal/notifications/websocket"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	"carbon-scribe/project-portal/registry-backend/pkg/logger"
	"carbon-scribe/project-portal/registry-backend/pkg/middleware/requestid"
	"carbon-scribe/project-portal/registry-backend/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg)
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()
	metrics := monitoring.NewMetricsService()

	// Store
	var st store.Store
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("Using in-memory store, data is lost on restart")
		st = store.NewMemoryStore()
	default:
		log.Info("Connecting to database",
			zap.String("host", cfg.Database.Host),
			zap.String("db_name", cfg.Database.DBName))
		db, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		st = store.NewPostgresStore(db)
	}

	// Publishers
	publishers := notifications.Fanout{notifications.NewLogPublisher(log)}
	var stream *streaming.Manager
	if cfg.Notifications.WebSocket {
		stream = streaming.NewManager(log, originChecker(cfg.Server.AllowedOrigins))
		defer stream.Close()
		publishers = append(publishers, stream)
	}
	if cfg.Notifications.SNSEnabled {
		snsPublisher, err := notifications.NewSNSPublisherFromEnv(ctx, cfg.Notifications.AWSRegion, cfg.Notifications.SNSTopicARN)
		if err != nil {
			log.Fatal("Failed to initialize SNS publisher", zap.Error(err))
		}
		publishers = append(publishers, snsPublisher)
	}

	deps := v1.Dependencies{
		Store:     st,
		Tokens:    auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.TokenTTL),
		Publisher: publishers,
		Stream:    stream,
		Metrics:   metrics,
		Logger:    log,
	}
	if cfg.Security.JWTSecret == "" {
		log.Warn("security.jwt_secret is empty, every authenticated request will be rejected")
	}

	// Cache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		deps.Cache = cache.New(client, cfg.Redis.TTL, log, cache.WithMetrics(metrics))
	}

	// Certificate archive
	if cfg.Storage.CertificateBucket != "" {
		archive, err := storage.NewS3StoreFromEnv(ctx, cfg.Storage.S3Region, cfg.Storage.CertificateBucket)
		if err != nil {
			log.Fatal("Failed to initialize certificate archive", zap.Error(err))
		}
		deps.Archive = archive
	}

	api := v1.Setup(deps)

	// Router
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestid.Middleware(),
		logger.GinMiddleware(log),
		monitoring.GinMiddleware(metrics),
		corsMiddleware(cfg.Server.AllowedOrigins),
	)

	api.RegisterRoutes(router.Group("/api/v1"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("sns", cfg.Notifications.SNSEnabled))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

func allowsAll(origins []string) bool {
	return len(origins) == 0 || slices.Contains(origins, "*")
}

func originChecker(origins []string) func(r *http.Request) bool {
	if allowsAll(origins) {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := allowsAll(origins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, If-Match, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions,
		}, ", "))
		c.Writer.Header().Set("Access-Control-Expose-Headers", "ETag, Location, X-Request-ID, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
