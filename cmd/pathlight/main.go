package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pathlight-ai/pathlight/internal/api"
	"github.com/pathlight-ai/pathlight/internal/cache"
	"github.com/pathlight-ai/pathlight/internal/configstore"
	"github.com/pathlight-ai/pathlight/internal/genai"
	"github.com/pathlight-ai/pathlight/internal/lockfile"
	"github.com/pathlight-ai/pathlight/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Pathlight state data
	DefaultStateDir = "/var/lib/pathlight"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pathlight.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Pathlight with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("Pathlight failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Pathlight exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver     string
	DatabaseDSN  string
	StateDir     string
	APIAddr      string
	OpenAIKeySet bool
}

// Flags holds command line flag values
type Flags struct {
	dbDriver *string
	dbDSN    *string
	stateDir *string
	apiAddr  *string

	cacheCapacity   int
	cacheTTLMinutes int
	preloadTrees    bool
	openAIKeySet    bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	return Config{
		DbDriver:     os.Getenv("PATHLIGHT_DB_DRIVER"),
		DatabaseDSN:  os.Getenv("PATHLIGHT_DB_DSN"),
		StateDir:     os.Getenv("PATHLIGHT_STATE_DIR"),
		APIAddr:      os.Getenv("PATHLIGHT_API_ADDR"),
		OpenAIKeySet: os.Getenv("OPENAI_API_KEY") != "",
	}
}

// parseCommandLineFlags parses flags with environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	if config.DbDriver == "" {
		config.DbDriver = "sqlite"
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	flags := Flags{
		dbDriver: flag.String("db-driver", config.DbDriver, "config store driver: memory, sqlite, or postgres"),
		dbDSN:    flag.String("db-dsn", config.DatabaseDSN, "config store DSN (file path for sqlite, connection string for postgres)"),
		stateDir: flag.String("state-dir", config.StateDir, "directory for Pathlight state data"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API listen address"),
	}
	flag.Parse()

	flags.cacheCapacity = util.ParseIntEnv("PATHLIGHT_CACHE_CAPACITY", cache.DefaultCapacity)
	flags.cacheTTLMinutes = util.ParseIntEnv("PATHLIGHT_CACHE_TTL_MINUTES", int(cache.DefaultTTL/time.Minute))
	flags.preloadTrees = util.ParseBoolEnv("PATHLIGHT_PRELOAD_TREES", true)
	flags.openAIKeySet = config.OpenAIKeySet
	return flags
}

// buildStore selects and constructs the config store backend.
func buildStore(flags Flags) (configstore.Store, error) {
	switch *flags.dbDriver {
	case "memory":
		return configstore.NewMemoryStore(), nil
	case "sqlite":
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		return configstore.NewSQLiteStore(configstore.WithSQLiteDSN(dsn))
	case "postgres":
		return configstore.NewPostgresStore(configstore.WithPostgresDSN(*flags.dbDSN))
	default:
		return nil, fmt.Errorf("unknown db driver %q", *flags.dbDriver)
	}
}

func run(ctx context.Context, flags Flags) error {
	// SQLite shares the state directory between instances; lock it before
	// opening the database.
	if *flags.dbDriver == "sqlite" {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			return fmt.Errorf("failed to lock state directory: %w", err)
		}
		defer lock.Release()
	}

	store, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to build config store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close config store", "error", err)
		}
	}()

	promptCache, err := cache.New(store, cache.Options{
		Capacity:     flags.cacheCapacity,
		TTL:          time.Duration(flags.cacheTTLMinutes) * time.Minute,
		PreloadTrees: flags.preloadTrees,
	})
	if err != nil {
		return fmt.Errorf("failed to build prompt cache: %w", err)
	}
	promptCache.Start(ctx)
	defer promptCache.Cleanup()

	var genaiClient genai.ClientInterface
	if flags.openAIKeySet {
		client, err := genai.NewClient()
		if err != nil {
			slog.Error("failed to initialize GenAI client, reply generation disabled", "error", err)
		} else {
			genaiClient = client
		}
	} else {
		slog.Info("OPENAI_API_KEY not set, reply generation disabled")
	}

	server := api.NewServer(promptCache, store, genaiClient)
	return server.Run(ctx, *flags.apiAddr)
}
