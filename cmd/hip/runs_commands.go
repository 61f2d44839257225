package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/hip/client"
	"github.com/brojonat/hip/service/smoke"
	"github.com/urfave/cli/v2"
)

func runsCommands() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Query recorded smoke runs from the hip server",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "program",
						Aliases: []string{"p"},
						Usage:   "Only show runs for this program",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of runs to skip",
					},
					jqFlag(),
				},
				Action: func(c *cli.Context) error {
					cl := newAPIClient(c)
					runs, err := cl.ListRuns(c.Context, client.ListOptions{
						Program: c.String("program"),
						Limit:   c.Int("limit"),
						Offset:  c.Int("offset"),
					})
					if err != nil {
						return fmt.Errorf("failed to list runs: %w", err)
					}
					if handled, err := writeStructured(c, runs); handled {
						return err
					}
					if len(runs) == 0 {
						fmt.Fprintln(c.App.Writer, "No runs recorded")
						return nil
					}
					printRunTable(c.App.Writer, runs)
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "Show one recorded run",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{jqFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("run id is required")
					}
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil || id <= 0 {
						return fmt.Errorf("invalid run id %q", c.Args().First())
					}
					run, err := newAPIClient(c).GetRun(c.Context, id)
					if err != nil {
						return fmt.Errorf("failed to get run: %w", err)
					}
					if handled, err := writeStructured(c, run); handled {
						return err
					}
					printRun(c.App.Writer, run)
					return nil
				},
			},
			{
				Name:  "latest",
				Usage: "Show the most recent run for a program",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "program",
						Aliases: []string{"p"},
						Usage:   "Program name",
						Value:   smoke.DefaultProgram,
					},
					&cli.BoolFlag{
						Name:  "require-success",
						Usage: "Exit non-zero unless the latest run succeeded",
					},
					jqFlag(),
				},
				Action: func(c *cli.Context) error {
					run, err := newAPIClient(c).LatestRun(c.Context, c.String("program"))
					if err != nil {
						return fmt.Errorf("failed to get latest run: %w", err)
					}
					if handled, err := writeStructured(c, run); handled {
						if err != nil {
							return err
						}
					} else {
						printRun(c.App.Writer, run)
					}
					if c.Bool("require-success") && !run.Succeeded() {
						return fmt.Errorf("latest %s run %d failed (%s)", run.Program, run.ID, run.ErrorKind)
					}
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show outcome counts for a program",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "program",
						Aliases: []string{"p"},
						Usage:   "Program name",
						Value:   smoke.DefaultProgram,
					},
					jqFlag(),
				},
				Action: func(c *cli.Context) error {
					stats, err := newAPIClient(c).RunStats(c.Context, c.String("program"))
					if err != nil {
						return fmt.Errorf("failed to get run stats: %w", err)
					}
					if handled, err := writeStructured(c, stats); handled {
						return err
					}
					w := c.App.Writer
					fmt.Fprintf(w, "Program:      %s\n", stats.Program)
					fmt.Fprintf(w, "Runs:         %d\n", stats.Total)
					fmt.Fprintf(w, "Succeeded:    %d\n", stats.Success)
					fmt.Fprintf(w, "Failed:       %d\n", stats.Failed)
					fmt.Fprintf(w, "Success rate: %.1f%%\n", stats.SuccessRate*100)
					return nil
				},
			},
		},
	}
}

func jqFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "jq",
		Usage: "jq expression applied to the JSON output (implies --json)",
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, setupLogger(c.String("log-level")))
}

// writeStructured writes v as JSON, or through --jq when set. It reports
// false when neither output mode was requested.
func writeStructured(c *cli.Context, v interface{}) (bool, error) {
	if expr := c.String("jq"); expr != "" {
		codes, err := compileJQ([]string{expr})
		if err != nil {
			return true, err
		}
		value, err := toJQValue(v)
		if err != nil {
			return true, err
		}
		return true, writeJQ(c.App.Writer, codes[0], value)
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	}
	return false, nil
}

func printRunTable(w io.Writer, runs []*client.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROGRAM\tINSTRUCTION\tSTATUS\tSIGNATURE\tDURATION\tCREATED")
	for _, r := range runs {
		sig := r.Signature
		if sig == "" {
			sig = "-"
		} else if len(sig) > 16 {
			sig = sig[:16] + "..."
		}
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Program, r.Instruction, status, sig,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			r.CreatedAt.Local().Format(time.RFC3339),
		)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *client.Run) {
	fmt.Fprintf(w, "Run:         %d\n", r.ID)
	fmt.Fprintf(w, "Program:     %s\n", r.Program)
	if r.ProgramID != "" {
		fmt.Fprintf(w, "Program ID:  %s\n", r.ProgramID)
	}
	fmt.Fprintf(w, "Instruction: %s\n", r.Instruction)
	fmt.Fprintf(w, "Cluster:     %s\n", r.Cluster)
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	if r.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", r.Signature)
		fmt.Fprintf(w, "Slot:        %d\n", r.Slot)
	}
	if r.ErrorKind != "" {
		fmt.Fprintf(w, "Error:       [%s] %s\n", r.ErrorKind, r.Error)
	}
	fmt.Fprintf(w, "Duration:    %s\n", time.Duration(r.DurationMS)*time.Millisecond)
	if r.WorkflowID != "" {
		fmt.Fprintf(w, "Workflow:    %s\n", r.WorkflowID)
	}
	fmt.Fprintf(w, "Created:     %s\n", r.CreatedAt.Local().Format(time.RFC3339))
}
