package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/config"
	"carbon-x/marketplace/marketplace-backend/internal/ledger"
	"carbon-x/marketplace/marketplace-backend/internal/ledger/confirmation"
	"carbon-x/marketplace/marketplace-backend/internal/storage"
)

// receiptChecker is the part of the tracker the worker drives.
type receiptChecker interface {
	Load(ctx context.Context) error
	CheckPending(ctx context.Context) (int, error)
}

// ConfirmationWorker polls the ledger for submitted payments on behalf of
// API instances that run with the in-process tracker disabled.
type ConfirmationWorker struct {
	tracker receiptChecker
	logger  *zap.Logger
	config  ConfirmationWorkerConfig
	done    chan struct{}
}

// ConfirmationWorkerConfig configuration for the confirmation worker
type ConfirmationWorkerConfig struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
}

// DefaultConfirmationWorkerConfig returns default configuration
func DefaultConfirmationWorkerConfig() ConfirmationWorkerConfig {
	return ConfirmationWorkerConfig{
		PollInterval: 15 * time.Second,
		CheckTimeout: time.Minute,
	}
}

// NewConfirmationWorker creates a new confirmation worker
func NewConfirmationWorker(tracker receiptChecker, logger *zap.Logger, config ConfirmationWorkerConfig) *ConfirmationWorker {
	return &ConfirmationWorker{
		tracker: tracker,
		logger:  logger,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start runs until ctx is cancelled or Stop is called.
func (w *ConfirmationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting confirmation worker",
		zap.Duration("poll_interval", w.config.PollInterval))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Confirmation worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Confirmation worker stopped")
			return nil
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// Stop stops the confirmation worker
func (w *ConfirmationWorker) Stop() {
	close(w.done)
}

// processPending reloads receipts written by the API and checks the pending
// ones once.
func (w *ConfirmationWorker) processPending(ctx context.Context) int {
	checkCtx, cancel := context.WithTimeout(ctx, w.config.CheckTimeout)
	defer cancel()

	if err := w.tracker.Load(checkCtx); err != nil {
		w.logger.Error("Failed to load receipts", zap.Error(err))
		return 0
	}

	startTime := time.Now()
	changed, err := w.tracker.CheckPending(checkCtx)
	if err != nil {
		w.logger.Error("Confirmation check failed", zap.Error(err))
		return changed
	}

	if changed > 0 {
		w.logger.Info("Receipts updated",
			zap.Int("changed", changed),
			zap.Duration("duration", time.Since(startTime)))
	}
	return changed
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Storage.Backend == "memory" {
		logger.Fatal("The confirmation worker needs shared storage, memory backend is process-local")
	}

	backend, closeBackend, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer closeBackend()

	client := ledger.NewClient(ledger.Config{
		HorizonURL:        cfg.Stellar.HorizonURL,
		NetworkPassphrase: cfg.Stellar.NetworkPassphrase,
		ContractID:        cfg.Stellar.ContractID,
	}, logger)
	tracker := confirmation.NewTracker(client, backend, logger, confirmation.DefaultConfig())

	// Create worker
	workerConfig := DefaultConfirmationWorkerConfig()
	if d, err := time.ParseDuration(os.Getenv("CONFIRMATION_POLL_INTERVAL")); err == nil && d > 0 {
		workerConfig.PollInterval = d
	}
	worker := NewConfirmationWorker(tracker, logger, workerConfig)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := worker.Start(ctx); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}

	logger.Info("Confirmation worker exited")
}
