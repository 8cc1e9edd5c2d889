// ABOUTME: Operator console for sending one command into the operations room
// ABOUTME: Usage: coven-console -body "PING PC1" [-config path] [-wait 30s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/2389/coven-sentry/internal/config"
	"github.com/2389/coven-sentry/internal/matrix"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to the sentry config file")
	body := flag.String("body", "", "Command text to send, e.g. \"PING PC1\"")
	wait := flag.Duration("wait", 0, "How long to wait for a reply (0 = don't wait)")
	flag.Parse()

	if *body == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *body, *wait); err != nil {
		log.Fatal(err)
	}
}

// defaultConfigPath mirrors the daemon's config resolution so both tools
// read the same file by default.
func defaultConfigPath() string {
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
			return "coven-sentry.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-sentry", "config.toml")
}

func run(configPath, body string, wait time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := matrix.NewClient(matrix.Config{
		Homeserver: cfg.Matrix.Homeserver,
		Username:   cfg.Matrix.Username,
		Password:   cfg.Matrix.Password,
		RoomID:     cfg.Matrix.RoomID,
	})
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}
	defer client.Close()

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if err := client.Join(ctx); err != nil {
		return fmt.Errorf("joining room: %w", err)
	}

	// Drain the initial snapshot so the reply wait only sees new messages.
	if _, err := client.Sync(ctx, 5*time.Second); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	if err := client.Send(ctx, body); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	fmt.Fprintf(os.Stderr, "sent: %s\n", body)

	if wait <= 0 {
		return nil
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		msgs, err := client.Sync(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil // interrupted while waiting
			}
			return fmt.Errorf("waiting for reply: %w", err)
		}
		for _, msg := range msgs {
			if msg.Sender == client.Identity() {
				continue
			}
			fmt.Printf("%s: %s\n", msg.Sender, msg.Body)
			return nil
		}
	}

	return fmt.Errorf("no reply within %s", wait)
}
