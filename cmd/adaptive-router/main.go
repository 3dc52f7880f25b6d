package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tributary-ai/adaptive-router/internal/config"
	"github.com/tributary-ai/adaptive-router/internal/engine"
	"github.com/tributary-ai/adaptive-router/internal/security"
	"github.com/tributary-ai/adaptive-router/internal/server"
)

const version = "1.0.0"

// Application represents the main application
type Application struct {
	config    *config.Config
	engine    *engine.Engine
	server    *server.Server
	logger    *logrus.Logger
	logCloser io.Closer
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	closer, err := setupLogger(logger, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	pool := engine.NewProviderPool(cfg, logger)
	e, err := engine.Build(cfg, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	return &Application{
		config:    cfg,
		engine:    e,
		server:    server.NewServer(e, cfg.Server, cfg.Security, logger),
		logger:    logger,
		logCloser: closer,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting adaptive router")
	defer app.closeLog()

	if err := app.engine.Start(); err != nil {
		app.engine.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	// Experiments drain and snapshots flush after traffic stops
	app.engine.Stop()

	app.logger.Info("Graceful shutdown completed")
	return runErr
}

func (app *Application) closeLog() {
	if app.logCloser != nil {
		app.logCloser.Close()
	}
}

// setupLogger configures the logger based on configuration. The returned
// closer is non-nil when logging to a rotated file.
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.Output, err)
		}
		writer := &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		logger.SetOutput(writer)
		return writer, nil
	}

	return nil, nil
}

// issueAdminToken prints a signed admin token for subject
func issueAdminToken(configPath, subject string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	token, err := security.NewAdminAuth(cfg.Security.Admin, logger).IssueToken(subject, security.ScopeAdmin)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY             OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY          Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_PORT            Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_LEVEL       Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_LOG_FORMAT      Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_SHADOW_ENABLED  Enable shadow experiments (true,false)\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_SNAPSHOT_DIR    Directory for learned-state snapshots\n")
	fmt.Fprintf(os.Stderr, "  LLM_ROUTER_ADMIN_SECRET    Secret for signing admin tokens\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s --issue-admin-token ops@example.com\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		showVer    = flag.Bool("version", false, "Show version information")
		adminToken = flag.String("issue-admin-token", "", "Print an admin token for the given subject and exit")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVer {
		fmt.Printf("Adaptive Router v%s\n", version)
		os.Exit(0)
	}

	// A missing .env file is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	if *adminToken != "" {
		if err := issueAdminToken(*configPath, *adminToken); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue admin token: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
