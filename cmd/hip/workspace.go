package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/hip/service/anchor"
	"github.com/brojonat/hip/service/solana"
	"github.com/urfave/cli/v2"
)

// newRPCClient builds the RPC client for a cluster URL. Tests replace it.
var newRPCClient = solana.NewRPCClient

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadWorkspace(c *cli.Context, logger *slog.Logger) (*anchor.Workspace, error) {
	root, err := anchor.FindWorkspace(c.String("workspace"))
	if err != nil {
		return nil, err
	}
	return anchor.LoadWorkspace(root, logger.With("component", "workspace"))
}

// loadProvider builds the provider the way the Anchor toolchain does:
// ANCHOR_PROVIDER_URL and ANCHOR_WALLET win over the workspace manifest.
// The --provider-url and --wallet flags export those variables.
func loadProvider(c *cli.Context, ws *anchor.Workspace, confirmTimeout time.Duration, logger *slog.Logger) (*solana.Provider, error) {
	for flag, env := range map[string]string{
		"provider-url": solana.EnvProviderURL,
		"wallet":       solana.EnvWallet,
	} {
		if v := c.String(flag); v != "" {
			if err := os.Setenv(env, v); err != nil {
				return nil, fmt.Errorf("failed to export %s: %w", env, err)
			}
		}
	}

	opts := solana.ProviderOptions{
		ConfirmTimeout: confirmTimeout,
		Logger:         logger.With("component", "provider"),
		NewRPC:         newRPCClient,
	}
	if ws != nil {
		opts.DefaultCluster = ws.DefaultCluster()
		opts.DefaultWallet = ws.DefaultWallet()
	}
	return solana.ProviderFromEnv(opts)
}

// resolveCluster returns the RPC URL the provider would use, without
// needing a wallet.
func resolveCluster(c *cli.Context, ws *anchor.Workspace) (string, error) {
	cluster := c.String("provider-url")
	if cluster == "" {
		cluster = os.Getenv(solana.EnvProviderURL)
	}
	if cluster == "" && ws != nil {
		cluster = ws.DefaultCluster()
	}
	if cluster == "" {
		return "", fmt.Errorf("no cluster configured: set --provider-url, %s or [provider] cluster in Anchor.toml", solana.EnvProviderURL)
	}
	return solana.ResolveClusterURL(cluster)
}
