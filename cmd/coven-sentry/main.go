// ABOUTME: Entry point for the coven-sentry agent daemon
// ABOUTME: Wires the Matrix transport, epoch gate, interpreter, journal, and liveness reporter

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-sentry/internal/command"
	"github.com/2389/coven-sentry/internal/config"
	"github.com/2389/coven-sentry/internal/dedupe"
	"github.com/2389/coven-sentry/internal/epoch"
	"github.com/2389/coven-sentry/internal/host"
	"github.com/2389/coven-sentry/internal/journal"
	"github.com/2389/coven-sentry/internal/liveness"
	"github.com/2389/coven-sentry/internal/matrix"
	"github.com/2389/coven-sentry/internal/sentry"
)

const banner = `
                                                _
  ___ _____   _____ _ __        ___  ___ _ __ | |_ _ __ _   _
 / __/ _ \ \ / / _ \ '_ \ _____/ __|/ _ \ '_ \| __| '__| | | |
| (_| (_) \ V /  __/ | | |_____\__ \  __/ | | | |_| |  | |_| |
 \___\___/ \_/ \___|_| |_|     |___/\___|_| |_|\__|_|   \__, |
                                                         |___/
`

// getConfigPath returns the path to the sentry config file.
// Priority: COVEN_SENTRY_CONFIG env var > ./coven-sentry.toml > XDG_CONFIG_HOME/coven-sentry/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_SENTRY_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("coven-sentry.toml"); err == nil {
		return "coven-sentry.toml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "coven-sentry.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-sentry", "config.toml")
}

func main() {
	// Check for init command
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Identity:   %s\n", cfg.Agent.Name)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Room:       %s\n", cfg.Matrix.RoomID)
	green.Print("    ▶ ")
	fmt.Printf("Liveness:   %s (every %s)\n", cfg.Liveness.Path, cfg.Liveness.Interval)
	if cfg.Journal.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Journal:    %s\n", cfg.Journal.Path)
	}
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := matrix.NewClient(matrix.Config{
		Homeserver: cfg.Matrix.Homeserver,
		Username:   cfg.Matrix.Username,
		Password:   cfg.Matrix.Password,
		RoomID:     cfg.Matrix.RoomID,
	})
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}
	defer transport.Close()

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer jnl.Close()
	}

	window := dedupe.NewWindow(cfg.Timing.DedupeWindow, 4096)
	defer window.Close()

	agent := sentry.New(sentry.Config{
		Identity:  cfg.Agent.Name,
		Transport: transport,
		Gate:      epoch.NewGate(cfg.Timing.EpochSyncTimeout, cfg.Timing.EpochSettle, logger.With("component", "epoch")),
		Interp: command.New(command.Config{
			Identity:       cfg.Agent.Name,
			ProcessNames:   cfg.Agent.ProcessNames,
			ArtifactPath:   cfg.Host.ArtifactPath,
			PowerDelay:     cfg.Host.PowerDelay,
			TerminateGrace: cfg.Timing.TerminateGrace,
			Processes:      host.Processes{},
			Artifact:       host.Artifact{},
			Power:          host.Power{},
			Logger:         logger.With("component", "command"),
		}),
		Journal: jnl,
		Window:  window,
		Timing: sentry.Timing{
			PollTimeout:  cfg.Timing.PollTimeout,
			PollInterval: cfg.Timing.PollInterval,
			ErrorBackoff: cfg.Timing.ErrorBackoff,
		},
		Logger: logger.With("component", "sentry"),
	})

	// The reporter runs for as long as the agent does; cancelling the run
	// context stops it.
	runCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()

	reporter := liveness.NewReporter(cfg.Liveness.Path, cfg.Liveness.Interval, logger.With("component", "liveness"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(runCtx)
	}()

	logger.Info("starting agent", "identity", cfg.Agent.Name)
	err = agent.Run(runCtx)

	stopReporter()
	wg.Wait()

	if err != nil {
		return err
	}
	if agent.Stopping() {
		logger.Info("agent stopped by command")
	} else {
		logger.Info("agent shut down")
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	// Gather config values
	green.Print("    ▶ ")
	fmt.Print("Agent name (e.g. PC1): ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	green.Print("    ▶ ")
	fmt.Print("Matrix homeserver URL [https://matrix.org]: ")
	homeserver, _ := reader.ReadString('\n')
	homeserver = strings.TrimSpace(homeserver)
	if homeserver == "" {
		homeserver = "https://matrix.org"
	}

	green.Print("    ▶ ")
	fmt.Print("Matrix username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	green.Print("    ▶ ")
	fmt.Print("Matrix password: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)

	green.Print("    ▶ ")
	fmt.Print("Operations room ID (e.g. !ops:matrix.org): ")
	roomID, _ := reader.ReadString('\n')
	roomID = strings.TrimSpace(roomID)

	green.Print("    ▶ ")
	fmt.Print("Startup artifact path (optional): ")
	artifactPath, _ := reader.ReadString('\n')
	artifactPath = strings.TrimSpace(artifactPath)

	// Generate config
	cfgText := fmt.Sprintf(`# coven-sentry configuration
# Generated by coven-sentry init

[agent]
name = "%s"
# Command-line substrings matching sibling agent processes
process_names = ["coven-sentry"]

[matrix]
homeserver = "%s"
username = "%s"
password = "%s"
room_id = "%s"
`, name, homeserver, username, password, roomID)

	if artifactPath != "" {
		cfgText += fmt.Sprintf(`
[host]
artifact_path = "%s"
`, artifactPath)
	}

	cfgText += `
[liveness]
# path defaults to the system temp directory
interval = "10s"

[journal]
enabled = true

[logging]
level = "info"
`

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(cfgText), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: coven-sentry")
	fmt.Println()

	return nil
}
