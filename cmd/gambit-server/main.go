// Package main runs the match orchestration server: a RESTful API for
// creating and playing chess matches, backed by a durable match store,
// a UCI engine bridge, and an optional SQLite archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"gambit/cmd/gambit-server/cli"
	"gambit/internal/archive"
	"gambit/internal/challenge"
	"gambit/internal/engine"
	"gambit/internal/match"
	"gambit/internal/rules"
	serverhttp "gambit/internal/server/http"
	"gambit/internal/store"
)

const gracefulShutdownTimeout = 5 * time.Second

func main() {
	// Check for CLI archive commands
	if len(os.Args) > 1 && os.Args[1] == "db" {
		if err := cli.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "CLI error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// .env is optional; real environment variables win either way.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, reading environment variables directly")
	}

	var (
		apiHost     = flag.String("api-host", envOr("GAMBIT_API_HOST", "localhost"), "API server host")
		apiPort     = flag.Int("api-port", envOrInt("GAMBIT_API_PORT", 8080), "API server port")
		dev         = flag.Bool("dev", false, "Development mode (relaxed rate limits, console logs)")
		logLevel    = flag.String("log-level", envOr("GAMBIT_LOG_LEVEL", "info"), "Log level (trace..panic)")
		storePath   = flag.String("store-path", envOr("GAMBIT_STORE_PATH", "data/matches.json"), "Path to the match store JSON file")
		archivePath = flag.String("archive-path", envOr("GAMBIT_ARCHIVE_PATH", ""), "Path to SQLite archive file (disables archiving if empty)")
		engineBin   = flag.String("engine-bin", envOr("GAMBIT_ENGINE_BIN", "stockfish"), "UCI engine binary")
		engineConc  = flag.Int("engine-concurrency", envOrInt("GAMBIT_ENGINE_CONCURRENCY", 4), "Max concurrent engine searches")
		botPrefix   = flag.String("automated-prefix", envOr("GAMBIT_AUTOMATED_PREFIX", "engine"), "Participant ID namespace for automated opponents")
		expiry      = flag.Duration("challenge-expiry", envOrDuration("GAMBIT_CHALLENGE_EXPIRY", challenge.DefaultExpiry), "Pending challenge lifetime")
		sweep       = flag.Duration("challenge-sweep", envOrDuration("GAMBIT_CHALLENGE_SWEEP", challenge.DefaultSweepInterval), "Expired challenge sweep interval")
		pidPath     = flag.String("pid", "", "Optional path to write PID file")
		pidLock     = flag.Bool("pid-lock", false, "Lock PID file to allow only one instance (requires -pid)")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *dev)

	if *pidLock && *pidPath == "" {
		logger.Fatal().Msg("-pid-lock flag requires the -pid flag to be set")
	}
	if *pidPath != "" {
		release, err := acquirePIDFile(*pidPath, *pidLock)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to acquire PID file")
		}
		defer release()
		logger.Info().Str("path", *pidPath).Bool("lock", *pidLock).Msg("PID file created")
	}

	// 1. Durable match store
	if dir := filepath.Dir(*storePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create store directory")
		}
	}
	st, err := store.New(*storePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *storePath).Msg("failed to open match store")
	}
	logger.Info().Str("path", *storePath).Int("active", st.ActiveMatches()).Msg("match store ready")

	// 2. Finished-match archive (optional)
	var arc *archive.Archive
	if *archivePath != "" {
		if dir := filepath.Dir(*archivePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create archive directory")
			}
		}
		arc, err = archive.New(*archivePath, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *archivePath).Msg("failed to open archive")
		}
		if err := arc.Init(); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize archive schema")
		}
		defer func() {
			if err := arc.Close(); err != nil {
				logger.Warn().Err(err).Msg("archive did not close cleanly")
			}
		}()
		logger.Info().Str("path", *archivePath).Msg("archive ready")
	} else {
		logger.Info().Msg("archiving disabled (use -archive-path to enable)")
	}

	// 3. Rules adapter and engine bridge
	adapter := rules.New()
	bridge := engine.New(engine.Config{
		Binary:        *engineBin,
		MaxConcurrent: *engineConc,
	}, adapter, logger)

	// 4. Challenge registry with its expiry sweep
	registry := challenge.NewRegistry(*expiry, logger)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go registry.Run(sweepCtx, *sweep)

	// 5. Match orchestrator
	var archiver match.Archiver
	if arc != nil {
		archiver = arc
	}
	orch := match.New(match.Config{AutomatedPrefix: *botPrefix}, adapter, bridge, st, archiver, logger)

	// 6. HTTP surface
	app := serverhttp.NewFiberApp(serverhttp.NewHandler(orch, registry, arc, st, logger), *dev)

	apiAddr := fmt.Sprintf("%s:%d", *apiHost, *apiPort)
	go func() {
		logger.Info().
			Str("addr", apiAddr).
			Str("engine", *engineBin).
			Bool("dev", *dev).
			Msg("match server listening")
		if err := app.Listen(apiAddr); err != nil {
			logger.Error().Err(err).Msg("api server listen error")
		}
	}()

	// Wait for an interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	sweepCancel()

	logger.Info().Msg("server exited")
}

func newLogger(level string, dev bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if dev {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
