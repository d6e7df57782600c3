package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"objsweep/internal/config"
	"objsweep/internal/deleter"
	"objsweep/internal/journal"
	"objsweep/internal/logger"
	"objsweep/internal/metrics"
	"objsweep/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "objsweep",
	Short: "Bulk-delete objects and their containers from an object store",
	Long: `A concurrent bulk deletion tool for object storage. Matching containers are
drained by a fixed-size worker pool, then deleted once empty. Supports MinIO
and AWS S3 backends with optional bulk delete batching.`,
	RunE: runSweep,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	config.RegisterFlags(rootCmd.Flags())
}

func runSweep(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger; verbose forces debug output
	level := cfg.LogLevel
	if cfg.Sweep.Verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Create the storage backend
	backend, err := storage.Open(cfg.Backend, storage.Config{
		Endpoint:  cfg.Store.Endpoint,
		AccessKey: cfg.Store.AccessKey,
		SecretKey: cfg.Store.SecretKey,
		Region:    cfg.Store.Region,
		Secure:    cfg.Store.Secure,
		PageSize:  cfg.Store.PageSize,
		BulkSize:  cfg.Sweep.BulkSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	// Create metrics collector and start the endpoint if configured
	collector := metrics.New()
	if cfg.Sweep.MetricsAddr != "" {
		go func() {
			if err := collector.StartServer(cfg.Sweep.MetricsAddr); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Open the run journal if configured
	var store journal.Store
	if cfg.Sweep.Journal != "" {
		sqliteStore, err := journal.NewSQLiteStore(cfg.Sweep.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	sweeper := deleter.New(cfg.Sweep, backend, log, collector, store)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	return sweeper.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
