package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/questforge/questforge/internal/chain"
	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/connection"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/mission"
	"github.com/questforge/questforge/internal/notification"
	"github.com/questforge/questforge/internal/registry"
	"github.com/questforge/questforge/internal/reward"
	"github.com/questforge/questforge/internal/server"
	"github.com/questforge/questforge/internal/storage"
	"github.com/questforge/questforge/internal/verify"
	"github.com/questforge/questforge/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires together every component of the verification service
type Application struct {
	config     *config.Config
	connection *connection.ConnectionManager
	storage    storage.Storage
	registry   *registry.Registry
	reader     *chain.Reader
	hub        *notification.OutcomeHub
	rewards    *reward.Ledger
	missions   *mission.Engine
	verifier   *verify.Manager
	server     *server.HTTPServer
	metrics    *metrics.Manager
	ctx        context.Context
	cancel     context.CancelFunc
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

	utils.GetLogger().WithField("level", logCfg.Level).Info("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	// Chain connection
	app.connection = connection.NewConnectionManager(&app.config.Chain)
	if _, err := app.connection.GetClient(app.ctx); err != nil {
		return fmt.Errorf("failed to connect to chain node: %w", err)
	}

	// Storage
	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}
	store, err := storage.NewStorageWithMetrics(storageCfg, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}
	app.storage = store

	// App registry
	app.registry = registry.New(registry.DefaultEntries())

	// Chain reader
	backend := chain.NewEthBackend(app.connection, int64(app.config.Chain.NetworkID), app.metrics)
	app.reader = chain.NewReader(backend, &app.config.Verification, &app.config.Chain, app.metrics)

	// Rewards and missions
	app.rewards = reward.NewLedger(app.storage, &app.config.Rewards, app.metrics)
	app.missions = mission.NewEngine(app.storage, &app.config.Missions, app.rewards, app.metrics)

	// Outcome delivery and verification engine
	app.hub = notification.NewOutcomeHub(&app.config.Notifications)
	app.verifier = verify.NewManager(app.reader, app.registry, &app.config.Verification, app.hub, app.missions, app.metrics)

	// HTTP server
	app.server = server.NewHTTPServer(
		&app.config.Server,
		app.storage,
		app.connection,
		app.registry,
		app.verifier,
		app.missions,
		app.rewards,
		app.metrics,
	)

	logger.Info("All components initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithFields(map[string]interface{}{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting QuestForge")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"chain_node":     app.config.Chain.NodeURL,
		"apps":           len(app.registry.Apps()),
	}).Info("QuestForge started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping QuestForge")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}
	if app.verifier != nil {
		app.verifier.Shutdown()
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			logger.WithError(err).Error("Failed to close storage")
		}
	}
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			logger.WithError(err).Error("Failed to close chain connection")
		}
	}

	logger.Info("QuestForge stopped successfully")
	return nil
}

// CLI commands

var rootCmd = &cobra.Command{
	Use:     "questforge",
	Short:   "On-chain interaction verification and reward service",
	Long:    `QuestForge verifies user interactions with registered on-chain apps and drives a daily mission and cube reward system on top of them.`,
	Version: AppVersion,
	RunE:    runService,
}

// runService is the main command to run the service
func runService(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
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

	return app.Stop()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("QuestForge %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Chain node: %s\n", cfg.Chain.NodeURL)
		fmt.Printf("Network ID: %d\n", cfg.Chain.NetworkID)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Mission templates: %d\n", len(cfg.Missions.Templates))

		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Printf("Testing chain connection to %s...\n", cfg.Chain.NodeURL)
		conn := connection.NewConnectionManager(&cfg.Chain)
		if _, err := conn.GetClient(ctx); err != nil {
			return fmt.Errorf("failed to connect to chain node: %w", err)
		}
		networkID, err := conn.GetNetworkID(ctx)
		if err != nil {
			return fmt.Errorf("failed to query network id: %w", err)
		}
		if cfg.Chain.NetworkID != 0 && uint64(cfg.Chain.NetworkID) != networkID {
			return fmt.Errorf("network id mismatch: configured %d, node reports %d", cfg.Chain.NetworkID, networkID)
		}
		fmt.Printf("✓ Chain connection successful (network %d)\n", networkID)

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
