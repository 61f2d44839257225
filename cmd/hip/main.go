package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "hip",
		Usage: "Anchor program smoke checker",
		Description: `A command-line tool that invokes an Anchor program's initialize instruction
against a cluster and reports the confirmed transaction signature.

It also queries recorded runs, manages scheduled checks and streams run events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			testCommand(),
			idlCommand(),
			healthCommand(),
			runsCommands(),
			scheduleCommands(),
			watchCommand(),
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Anchor workspace directory (searched upwards for Anchor.toml)",
				EnvVars: []string{"HIP_WORKSPACE"},
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "provider-url",
				Usage:   "Cluster URL or moniker (overrides Anchor.toml [provider])",
				EnvVars: []string{"ANCHOR_PROVIDER_URL"},
			},
			&cli.StringFlag{
				Name:    "wallet",
				Usage:   "Path to the payer keypair (overrides Anchor.toml [provider])",
				EnvVars: []string{"ANCHOR_WALLET"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "hip server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the hip worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "hip-smoke-checks",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for stderr (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintf(w, "hip CLI\n")
			fmt.Fprintf(w, "  Version: %s\n", version)
			fmt.Fprintf(w, "  Commit:  %s\n", commit)
			fmt.Fprintf(w, "  Built:   %s\n", date)
			return nil
		},
	}
}
