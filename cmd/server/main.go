package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"novel-engine/internal/cache"
	"novel-engine/internal/catalog"
	"novel-engine/internal/config"
	internaldb "novel-engine/internal/database"
	"novel-engine/internal/engine"
	"novel-engine/internal/handler"
	"novel-engine/internal/messaging"
	"novel-engine/internal/mint"
	"novel-engine/internal/provider"
	"novel-engine/internal/stamina"
	"novel-engine/migrations"
	"novel-engine/pkg/database"
	"novel-engine/pkg/logger"
	"novel-engine/pkg/migration"
)

func main() {
	// .env нужен только для локальной разработки
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: "json"})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL ---
	db, err := database.New(ctx, database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: cfg.DBMaxConns,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	migrator := migration.NewMigrator(migration.Config{MigrationsFS: migrations.FS, MigrationsPath: "."}, db.Pool)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// --- RabbitMQ (опционально) ---
	var publisher messaging.EventPublisher
	if cfg.RabbitMQURL != "" {
		mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()
		publisher, err = messaging.NewRabbitMQPublisher(mqConn, cfg.MintEventsQueueName, cfg.PregenTasksQueueName, log)
		if err != nil {
			log.Fatal("Failed to create event publisher", zap.Error(err))
		}
	} else {
		log.Warn("RABBITMQ_URL is not set, engine events will be dropped")
		publisher = messaging.NewNoopPublisher(log)
	}

	// --- Repositories ---
	txManager := internaldb.NewTransactionHelper(db.Pool, log)
	userRepo := internaldb.NewPgUserRepository(log)
	characterRepo := internaldb.NewPgCharacterRepository(log)
	sceneRepo := internaldb.NewPgSceneRepository(log)
	choiceRepo := internaldb.NewPgUserChoiceRepository(log)
	staminaTxRepo := internaldb.NewPgStaminaTransactionRepository(log)

	// --- Providers ---
	textChain := []provider.TextProvider{
		provider.NewOpenRouterClient(cfg.TextAPIKey, cfg.TextAPIBaseURL, cfg.TextModel, cfg.ProviderTimeout, log),
		provider.NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel, cfg.ProviderTimeout, log),
	}
	imageChain := []provider.ImageProvider{
		provider.NewHTTPImageClient("primary", cfg.ImagePrimaryURL, cfg.ProviderTimeout, log),
		provider.NewHTTPImageClient("secondary", cfg.ImageSecondaryURL, cfg.ProviderTimeout, log),
	}
	dialogueCache := cache.New(cfg.DialogueCacheSize, log)
	profileCache := cache.New(0, log)
	gateway := provider.NewGateway(textChain, imageChain, dialogueCache, cfg.ImageStyleSuffix, log)

	// --- Services ---
	ledger := stamina.NewLedger(db.Pool, txManager, userRepo, staminaTxRepo, stamina.Limits{
		RegenPerHour: cfg.RegenPerHour,
		InitialGrant: cfg.InitialGrant,
		FreeMax:      cfg.FreeTierMax,
		PremiumMax:   cfg.PremiumTierMax,
		UnlimitedMax: cfg.UnlimitedTierMax,
	}, log)
	catalogSvc := catalog.NewService(db.Pool, characterRepo, profileCache, cfg.ProfileCacheTTL, log)
	progressionEngine := engine.NewEngine(db.Pool, txManager, sceneRepo, choiceRepo,
		catalogSvc, ledger, gateway, publisher, cfg.SceneCost, cfg.ProviderTimeout, log)
	mintGate := mint.NewGate(db.Pool, txManager, sceneRepo, publisher, log)

	// --- HTTP Server (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(handler.GinZapLogger(log))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	httpHandler := handler.NewHandler(progressionEngine, ledger, catalogSvc, mintGate, cfg.JWTSecret, log)
	httpHandler.RegisterRoutes(router)

	// Prometheus middleware применяется после регистрации роутов
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // генерация сцены может занимать до ProviderTimeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

// connectRabbitMQ подключается к брокеру с несколькими повторами,
// чтобы пережить старт docker-compose в произвольном порядке.
func connectRabbitMQ(url string, log *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("RabbitMQ connection failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, err
}
