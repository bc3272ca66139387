// ABOUTME: Entry point for the hub conversational backend server
// ABOUTME: Loads config, builds the Hub and runs until interrupted

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alphahub/hub/internal/config"
	"github.com/alphahub/hub/internal/hub"
)

// Version is set at build time.
var version = "dev"

// defaultConfigPath resolves the config file location.
// Priority: -config flag > HUB_CONFIG env var > hub.yaml.
func defaultConfigPath() string {
	if envPath := os.Getenv("HUB_CONFIG"); envPath != "" {
		return envPath
	}
	return "hub.yaml"
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("hub", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	h, err := hub.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "starting hub:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := h.Run(ctx); err != nil {
		slog.Error("hub exited with error", "error", err)
		os.Exit(1)
	}
}
