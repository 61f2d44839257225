package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/hip/service/smoke"
	"github.com/brojonat/hip/service/temporal"
	"github.com/urfave/cli/v2"
)

func scheduleCommands() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage recurring smoke checks run by the hip worker",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create or update the recurring check for a program",
				Flags: []cli.Flag{
					programFlag(),
					instructionFlag(),
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between checks",
						Value: 5 * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					program, instruction := c.String("program"), c.String("instruction")
					interval := c.Duration("interval")
					if err := newAPIClient(c).CreateSchedule(c.Context, program, instruction, interval); err != nil {
						return fmt.Errorf("failed to create schedule: %w", err)
					}
					if c.Bool("json") {
						return json.NewEncoder(c.App.Writer).Encode(map[string]string{
							"program":     program,
							"instruction": instruction,
							"interval":    interval.String(),
						})
					}
					fmt.Fprintf(c.App.Writer, "Scheduled %s.%s every %s\n", program, instruction, interval)
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Remove the recurring check for a program",
				Flags: []cli.Flag{programFlag(), instructionFlag()},
				Action: func(c *cli.Context) error {
					program, instruction := c.String("program"), c.String("instruction")
					if err := newAPIClient(c).DeleteSchedule(c.Context, program, instruction); err != nil {
						return fmt.Errorf("failed to delete schedule: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "Deleted schedule for %s.%s\n", program, instruction)
					return nil
				},
			},
			{
				Name:  "trigger",
				Usage: "Run one check through the worker now and wait for the result",
				Flags: []cli.Flag{
					programFlag(),
					instructionFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the workflow",
						Value: 3 * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					logger := setupLogger(c.String("log-level"))
					tc, err := temporal.NewClient(
						c.String("temporal-host"),
						c.String("temporal-namespace"),
						c.String("temporal-task-queue"),
						logger,
					)
					if err != nil {
						return err
					}
					defer tc.Close()

					ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
					defer cancel()

					logger.Info("triggering smoke check",
						"program", c.String("program"),
						"instruction", c.String("instruction"),
						"task_queue", tc.TaskQueue(),
					)
					result, err := tc.ExecuteSmokeCheck(ctx, c.String("program"), c.String("instruction"))
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return json.NewEncoder(c.App.Writer).Encode(result)
					}
					fmt.Fprintln(c.App.Writer, smoke.SignaturePrefix, result.Signature)
					return nil
				},
			},
		},
	}
}

func programFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "program",
		Aliases: []string{"p"},
		Usage:   "Program name",
		Value:   smoke.DefaultProgram,
	}
}

func instructionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "instruction",
		Aliases: []string{"i"},
		Usage:   "Instruction to invoke",
		Value:   smoke.DefaultInstruction,
	}
}
