package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/hip/service/smoke"
	"github.com/brojonat/hip/service/solana"
	"github.com/urfave/cli/v2"
)

func testCommand() *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Invoke a program's initialize instruction and print the transaction signature",
		Description: `Resolves the program from the Anchor workspace, calls the instruction
through the configured provider and prints one line:

  Your transaction signature <signature>

Nothing is printed to stdout when the check fails; the error goes to stderr
and the command exits non-zero.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Aliases: []string{"p"},
				Usage:   "Program name as it appears in the workspace",
				Value:   smoke.DefaultProgram,
			},
			&cli.StringFlag{
				Name:    "instruction",
				Aliases: []string{"i"},
				Usage:   "Instruction to invoke",
				Value:   smoke.DefaultInstruction,
			},
			&cli.StringSliceFlag{
				Name:  "arg",
				Usage: "Instruction argument in IDL order (can be specified multiple times)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall deadline for the check",
				Value: 60 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "confirm-timeout",
				Usage: "How long to wait for the transaction to reach the commitment",
				Value: solana.DefaultConfirmTimeout,
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))

			ws, err := loadWorkspace(c, logger)
			if err != nil {
				return err
			}

			// Resolve before reading the wallet so an unknown program is
			// reported as such on machines without a keypair.
			cluster, err := resolveCluster(c, ws)
			if err != nil {
				return err
			}
			if _, err := ws.Program(c.String("program"), cluster); err != nil {
				return fmt.Errorf("%s check failed (%s): %w", c.String("program"), smoke.Classify(err), err)
			}

			provider, err := loadProvider(c, ws, c.Duration("confirm-timeout"), logger)
			if err != nil {
				return err
			}

			out := c.App.Writer
			asJSON := c.Bool("json")
			if asJSON {
				out = io.Discard
			}

			args := make([]any, 0, len(c.StringSlice("arg")))
			for _, a := range c.StringSlice("arg") {
				args = append(args, a)
			}

			runner := smoke.NewRunner(ws, provider, smoke.Options{
				Program:     c.String("program"),
				Instruction: c.String("instruction"),
				Args:        args,
				Out:         out,
				Logger:      logger.With("component", "smoke"),
			})

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			res, err := runner.RunInitializationCheck(ctx)
			if err != nil {
				return fmt.Errorf("%s check failed (%s): %w", runner.Program(), smoke.Classify(err), err)
			}

			if asJSON {
				return json.NewEncoder(c.App.Writer).Encode(res)
			}
			return nil
		},
	}
}

type idlInstruction struct {
	Name          string   `json:"name"`
	Discriminator string   `json:"discriminator"`
	Accounts      []string `json:"accounts"`
	Args          []string `json:"args"`
}

type idlSummary struct {
	Program      string           `json:"program"`
	ProgramID    string           `json:"program_id"`
	Cluster      string           `json:"cluster"`
	Instructions []idlInstruction `json:"instructions"`
}

func idlCommand() *cli.Command {
	return &cli.Command{
		Name:  "idl",
		Usage: "Show how a workspace program resolves",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Aliases: []string{"p"},
				Usage:   "Program name as it appears in the workspace",
				Value:   smoke.DefaultProgram,
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "List the programs that have a generated IDL",
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))

			ws, err := loadWorkspace(c, logger)
			if err != nil {
				return err
			}

			if c.Bool("list") {
				names, err := ws.ProgramNames()
				if err != nil {
					return fmt.Errorf("failed to list programs: %w", err)
				}
				if c.Bool("json") {
					return json.NewEncoder(c.App.Writer).Encode(names)
				}
				for _, name := range names {
					fmt.Fprintln(c.App.Writer, name)
				}
				return nil
			}

			cluster, err := resolveCluster(c, ws)
			if err != nil {
				return err
			}
			program, err := ws.Program(c.String("program"), cluster)
			if err != nil {
				return err
			}

			summary := idlSummary{
				Program:   program.Name,
				ProgramID: program.ID.String(),
				Cluster:   cluster,
			}
			for _, ix := range program.IDL.Instructions {
				entry := idlInstruction{
					Name:          ix.Name,
					Discriminator: hex.EncodeToString(ix.Discriminator[:]),
					Accounts:      []string{},
					Args:          []string{},
				}
				for _, acc := range ix.Accounts {
					entry.Accounts = append(entry.Accounts, acc.Name)
				}
				for _, arg := range ix.Args {
					entry.Args = append(entry.Args, arg.Name+":"+arg.Type)
				}
				summary.Instructions = append(summary.Instructions, entry)
			}

			if c.Bool("json") {
				return json.NewEncoder(c.App.Writer).Encode(summary)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Program:    %s\n", summary.Program)
			fmt.Fprintf(w, "Program ID: %s\n", summary.ProgramID)
			fmt.Fprintf(w, "Cluster:    %s\n", summary.Cluster)
			fmt.Fprintf(w, "Instructions:\n")
			for _, ix := range summary.Instructions {
				fmt.Fprintf(w, "  %-24s %s", ix.Name, ix.Discriminator)
				if len(ix.Args) > 0 {
					fmt.Fprintf(w, "  args=%s", strings.Join(ix.Args, ","))
				}
				if len(ix.Accounts) > 0 {
					fmt.Fprintf(w, "  accounts=%s", strings.Join(ix.Accounts, ","))
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
}

type healthReport struct {
	Cluster  string  `json:"cluster"`
	Endpoint string  `json:"endpoint"`
	Healthy  bool    `json:"healthy"`
	Wallet   string  `json:"wallet,omitempty"`
	Lamports uint64  `json:"lamports,omitempty"`
	SOL      float64 `json:"sol,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Probe the configured cluster and report the wallet balance",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Deadline for the probe",
				Value: 10 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))

			ws, err := loadWorkspace(c, logger)
			if err != nil {
				return err
			}
			provider, err := loadProvider(c, ws, 0, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			report := healthReport{
				Cluster:  provider.URL,
				Endpoint: provider.Client.Endpoint(),
				Wallet:   provider.PublicKey().String(),
			}
			probeErr := provider.Client.Health(ctx)
			if probeErr == nil {
				report.Healthy = true
				lamports, err := provider.Client.Balance(ctx, provider.PublicKey(), provider.Commitment)
				if err != nil {
					logger.WarnContext(ctx, "failed to fetch wallet balance", "error", err)
				} else {
					report.Lamports = lamports
					report.SOL = float64(lamports) / 1e9
				}
			} else {
				report.Error = probeErr.Error()
			}

			if c.Bool("json") {
				if err := json.NewEncoder(c.App.Writer).Encode(report); err != nil {
					return err
				}
			} else {
				w := c.App.Writer
				fmt.Fprintf(w, "Cluster:  %s (%s)\n", report.Cluster, report.Endpoint)
				fmt.Fprintf(w, "Wallet:   %s\n", report.Wallet)
				if report.Healthy {
					fmt.Fprintf(w, "Status:   healthy\n")
					fmt.Fprintf(w, "Balance:  %.9f SOL\n", report.SOL)
				} else {
					fmt.Fprintf(w, "Status:   unreachable\n")
				}
			}

			if probeErr != nil {
				return fmt.Errorf("cluster check failed (%s): %w", smoke.Classify(probeErr), probeErr)
			}
			return nil
		},
	}
}
