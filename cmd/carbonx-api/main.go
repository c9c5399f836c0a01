package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"carbon-x/marketplace/marketplace-backend/internal/auth"
	"carbon-x/marketplace/marketplace-backend/internal/certificates"
	"carbon-x/marketplace/marketplace-backend/internal/config"
	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/events"
	"carbon-x/marketplace/marketplace-backend/internal/events/feed"
	"carbon-x/marketplace/marketplace-backend/internal/ledger"
	"carbon-x/marketplace/marketplace-backend/internal/ledger/confirmation"
	"carbon-x/marketplace/marketplace-backend/internal/marketplace"
	"carbon-x/marketplace/marketplace-backend/internal/reports/export"
	"carbon-x/marketplace/marketplace-backend/internal/reports/scheduler"
	"carbon-x/marketplace/marketplace-backend/internal/storage"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
	"carbon-x/marketplace/marketplace-backend/internal/wallet"
	"carbon-x/marketplace/marketplace-backend/internal/wallet/bridge"
	"carbon-x/marketplace/marketplace-backend/internal/wallet/keystore"
	objectstore "carbon-x/marketplace/marketplace-backend/pkg/storage"
)

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	backend, closeBackend, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer closeBackend()

	creditStore, err := credits.NewStore(ctx, backend, logger)
	if err != nil {
		logger.Fatal("Failed to load credits", zap.Error(err))
	}
	txLog, err := transactions.NewLog(ctx, backend, logger)
	if err != nil {
		logger.Fatal("Failed to load transactions", zap.Error(err))
	}

	if cfg.Storage.Archive {
		logger.Info("Connecting to transaction archive", zap.String("host", cfg.Database.Host))
		db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		archive := transactions.NewArchive(db)
		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare archive schema", zap.Error(err))
		}
		txLog.SetArchiver(archive)
	}

	// Router
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	authService := auth.NewService(cfg.Security.JWTSecret, cfg.Security.AdminPasswordHash)
	if !authService.Enabled() {
		logger.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	api := router.Group("/api/v1")
	auth.NewHandler(authService, logger).RegisterRoutes(api)
	guarded := api.Group("", authService.Middleware())

	// Wallet
	var ext wallet.Extension
	switch cfg.Wallet.Extension {
	case "keystore":
		ks, err := keystore.Open(cfg.Wallet.KeystorePath, cfg.Wallet.KeystorePassword)
		if err != nil {
			logger.Fatal("Failed to open keystore", zap.String("path", cfg.Wallet.KeystorePath), zap.Error(err))
		}
		logger.Info("Using keystore signer", zap.String("address", ks.Address()))
		ext = ks
	default:
		b := bridge.New(logger)
		b.RegisterRoutes(guarded)
		ext = b
	}
	w := wallet.New(ext, logger)
	if cfg.Wallet.Extension == "keystore" {
		if _, err := w.ConnectExtension(ctx); err != nil {
			logger.Fatal("Failed to connect keystore wallet", zap.Error(err))
		}
	}

	// Ledger
	ledgerClient := ledger.NewClient(ledger.Config{
		HorizonURL:        cfg.Stellar.HorizonURL,
		NetworkPassphrase: cfg.Stellar.NetworkPassphrase,
		ContractID:        cfg.Stellar.ContractID,
	}, logger)

	tracker := confirmation.NewTracker(ledgerClient, backend, logger, confirmation.Config{
		Schedule: cfg.Confirmation.Schedule,
	})
	if err := tracker.Load(ctx); err != nil {
		logger.Fatal("Failed to load receipts", zap.Error(err))
	}
	if cfg.Confirmation.Enabled {
		if err := tracker.Start(ctx); err != nil {
			logger.Fatal("Failed to start confirmation tracker", zap.Error(err))
		}
		defer tracker.Stop()
	}

	// Certificates and events
	objects := objectstore.NewMemoryClient()
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AWS.CertificateBucket != "" || cfg.Exports.Bucket != "" {
		objects, err = objectstore.NewS3Client(ctx, cfg.AWS.Region)
		if err != nil {
			logger.Fatal("Failed to create S3 client", zap.Error(err))
		}
		logger.Info("Using S3 object storage",
			zap.String("certificate_bucket", cfg.AWS.CertificateBucket),
			zap.String("export_bucket", cfg.Exports.Bucket))
	}
	if cfg.AWS.EventsTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Fatal("Failed to load AWS config", zap.Error(err))
		}
		publisher = events.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.AWS.EventsTopicARN, logger)
	}

	hub := feed.NewHub(logger)
	defer hub.Close()
	hub.WatchWallet(ctx, w)
	publisher = events.Multi{publisher, hub}

	issuer, err := certificates.NewIssuer(ctx, objects, cfg.AWS.CertificateBucket, backend, logger)
	if err != nil {
		logger.Fatal("Failed to load certificates", zap.Error(err))
	}

	// Initialize marketplace module
	service := marketplace.NewService(w, creditStore, txLog, ledgerClient, marketplace.Options{
		Receipts:     tracker,
		Certificates: issuer,
		Publisher:    publisher,
	}, logger)

	if cfg.Exports.Enabled {
		formats := make([]export.Format, 0, len(cfg.Exports.Formats))
		for _, name := range cfg.Exports.Formats {
			f, err := export.ParseFormat(name)
			if err != nil {
				logger.Fatal("Invalid export format", zap.Error(err))
			}
			formats = append(formats, f)
		}
		bucket := cfg.Exports.Bucket
		if bucket == "" {
			bucket = cfg.AWS.CertificateBucket
		}

		exports := scheduler.NewScheduler(service, objects, logger, scheduler.Config{
			Schedule: cfg.Exports.Schedule,
			Formats:  formats,
			Bucket:   bucket,
		})
		if err := exports.Start(ctx); err != nil {
			logger.Fatal("Failed to start export scheduler", zap.Error(err))
		}
		defer exports.Stop()
	}

	// Register Routes
	wallet.NewHandler(w, logger).RegisterRoutes(guarded)
	marketplace.NewHandler(service, logger).RegisterRoutes(guarded)
	hub.RegisterRoutes(guarded)

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":           "healthy",
			"timestamp":        time.Now(),
			"wallet_connected": w.IsConnected(),
			"feed_clients":     hub.ConnectionCount(),
			"network":          cfg.Stellar.NetworkPassphrase,
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("wallet", cfg.Wallet.Extension))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
