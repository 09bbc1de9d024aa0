// File: cmd/anchord/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/supplychain-anchor/internal/anchor"
	"github.com/smartdevs17/supplychain-anchor/internal/config"
	"github.com/smartdevs17/supplychain-anchor/internal/coordinator"
	"github.com/smartdevs17/supplychain-anchor/internal/metrics"
	"github.com/smartdevs17/supplychain-anchor/internal/notification"
	"github.com/smartdevs17/supplychain-anchor/internal/server"
	"github.com/smartdevs17/supplychain-anchor/internal/storage"
	"github.com/smartdevs17/supplychain-anchor/internal/verify"
	"github.com/smartdevs17/supplychain-anchor/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires together the anchoring engine components
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	storage        storage.Storage
	ledger         anchor.Client
	notifier       *notification.Manager
	coordinator    *coordinator.AnchorCoordinator
	verifier       *verify.Service
	server         *server.HTTPServer
	metricsManager *metrics.Manager
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initializeLedger(); err != nil {
		return fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	app.notifier = notification.NewManager(&app.config.Notifications)

	app.coordinator = coordinator.NewAnchorCoordinator(
		app.storage, app.ledger, app.notifier, &coordinator.Config{
			SweepInterval:   app.config.Coordinator.SweepInterval,
			BatchSize:       app.config.Coordinator.BatchSize,
			Workers:         app.config.Coordinator.Workers,
			MaxRetries:      app.config.Coordinator.MaxRetries,
			BackoffBase:     app.config.Coordinator.BackoffBase,
			BackoffMax:      app.config.Coordinator.BackoffMax,
			SubmitTimeout:   app.config.Coordinator.SubmitTimeout,
			ResubmitTimeout: app.config.Coordinator.ResubmitTimeout,
		})
	app.coordinator.SetMetricsManager(app.metricsManager)

	app.verifier = verify.NewService(app.storage, app.ledger, app.notifier)
	app.verifier.SetMetricsManager(app.metricsManager)

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = store
	app.logger.WithField("type", app.config.Storage.Type).Info("Storage layer initialized")
	return nil
}

// initializeLedger creates the configured ledger client
func (app *Application) initializeLedger() error {
	ledger, err := newLedgerClient(&app.config.Ledger)
	if err != nil {
		return err
	}
	app.ledger = ledger
	app.logger.WithField("type", app.config.Ledger.Type).Info("Ledger client initialized")
	return nil
}

// newLedgerClient builds a ledger client from configuration
func newLedgerClient(cfg *config.LedgerConfig) (anchor.Client, error) {
	switch cfg.Type {
	case "memory":
		return anchor.NewMemoryLedger(), nil
	case "ethereum":
		return anchor.NewEthereumClient(&anchor.EthereumConfig{
			NodeURL:         cfg.NodeURL,
			ChainID:         cfg.ChainID,
			PrivateKey:      cfg.PrivateKey,
			ContractAddress: cfg.ContractAddress,
			Confirmations:   cfg.Confirmations,
			RequestTimeout:  cfg.RequestTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Type)
	}
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	srv, err := server.NewHTTPServer(
		&app.config.Server,
		app.storage,
		app.coordinator,
		app.verifier,
		app.notifier,
		app.metricsManager,
	)
	if err != nil {
		return err
	}

	app.server = srv
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting supply chain anchoring service")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := app.coordinator.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"ledger":         app.config.Ledger.Type,
		"sweep_interval": app.config.Coordinator.SweepInterval,
	}).Info("Supply chain anchoring service started")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping supply chain anchoring service")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop HTTP server")
		}
	}
	if app.coordinator != nil {
		if err := app.coordinator.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop coordinator")
		}
	}
	if app.ledger != nil {
		if err := app.ledger.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close ledger client")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close storage")
		}
	}

	app.logger.Info("Supply chain anchoring service stopped")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "anchord",
	Short:   "Supply chain event integrity and anchoring service",
	Long:    `Records supply chain events, fingerprints their canonical payloads, anchors the fingerprints on an external ledger, and verifies stored events against their anchors.`,
	Version: AppVersion,
	RunE:    runService,
}

// runService is the main command to run the anchoring service
func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("supplychain-anchor %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Ledger: %s\n", cfg.Ledger.Type)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Sweep interval: %s\n", cfg.Coordinator.SweepInterval)

		return nil
	},
}

// testCmd tests connectivity to storage and the ledger
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Testing anchoring service connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("✓ Storage connection successful")

		fmt.Printf("Testing ledger connection (%s)...\n", cfg.Ledger.Type)
		ledger, err := newLedgerClient(&cfg.Ledger)
		if err != nil {
			return fmt.Errorf("failed to create ledger client: %w", err)
		}
		defer ledger.Close()
		if err := ledger.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reach ledger: %w", err)
		}
		fmt.Println("✓ Ledger connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// sweepCmd runs one sweep cycle and exits
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single anchoring sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if batchSize, _ := cmd.Flags().GetInt("batch-size"); batchSize > 0 {
			cfg.Coordinator.BatchSize = batchSize
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			due, err := app.storage.GetDueRecords(cmd.Context(),
				cfg.Coordinator.MaxRetries, cfg.Coordinator.BatchSize)
			if err != nil {
				return fmt.Errorf("failed to load due records: %w", err)
			}
			fmt.Printf("Dry run: %d records due for anchoring\n", len(due))
			for _, record := range due {
				fmt.Printf("  %s  status=%s retries=%d\n",
					record.EventID, record.IntegrityStatus, record.RetryCount)
			}
			return nil
		}

		result, err := app.coordinator.SweepOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("Sweep completed in %s\n", result.Duration)
		fmt.Printf("  due examined: %d\n", result.DueExamined)
		fmt.Printf("  submitted:    %d\n", result.Submitted)
		fmt.Printf("  confirmed:    %d\n", result.Confirmed)
		fmt.Printf("  retried:      %d\n", result.Retried)
		fmt.Printf("  terminal:     %d\n", result.Terminal)
		fmt.Printf("  stranded:     %d\n", result.Stranded)
		return nil
	},
}

// verifyCmd verifies one event, or all anchored events, and exits
var verifyCmd = &cobra.Command{
	Use:   "verify [event-id]",
	Short: "Verify event integrity against stored fingerprints and the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		if len(args) == 1 {
			result, err := app.verifier.Verify(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			fmt.Printf("Event %s: %s\n", result.EventID, result.Reason)
			if result.Detail != "" {
				fmt.Printf("  %s\n", result.Detail)
			}
			if !result.Verified {
				os.Exit(1)
			}
			return nil
		}

		batchSize := cfg.Coordinator.BatchSize
		if flagBatch, _ := cmd.Flags().GetInt("batch-size"); flagBatch > 0 {
			batchSize = flagBatch
		}

		results, err := app.verifier.VerifyAnchored(cmd.Context(), batchSize)
		if err != nil {
			return fmt.Errorf("verification pass failed: %w", err)
		}

		failures := 0
		for _, result := range results {
			if !result.Verified {
				failures++
				fmt.Printf("FAIL %s: %s (%s)\n", result.EventID, result.Reason, result.Detail)
			}
		}
		fmt.Printf("Verified %d anchored events, %d failures\n", len(results), failures)
		if failures > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	sweepCmd.Flags().Int("batch-size", 0, "override the sweep batch size")
	sweepCmd.Flags().Bool("dry-run", false, "list due records without submitting")
	verifyCmd.Flags().Int("batch-size", 0, "override the verification batch size")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(verifyCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
