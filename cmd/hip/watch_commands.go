package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/hip/service/nats"
	"github.com/brojonat/hip/service/smoke"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream run events published by the hip worker",
		Description: `Consume run events from the SMOKE_RUNS JetStream stream.

Events for a program are published to smoke.{program}. Use --all to follow
every program. --must-jq filters events; the command exits successfully once
--count matching events arrived, or fails when --timeout expires first.

Example:
  hip watch --program Hip --must-jq '.status == "success"' --count 1 --timeout 10m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Aliases: []string{"p"},
				Usage:   "Program whose events to follow",
				Value:   smoke.DefaultProgram,
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Follow events for every program",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter events must satisfy (can be specified multiple times)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 streams until interrupted)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
			},
			&cli.BoolFlag{
				Name:  "deliver-new",
				Usage: "Only deliver events published after the consumer is created",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			subject := natspkg.Subject(c.String("program"))
			if c.Bool("all") {
				subject = natspkg.StreamSubjects
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			cfg := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("deliver-new") {
				cfg.DeliverPolicy = jetstream.DeliverNewPolicy
			}
			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Watching %s on %s\n", subject, c.String("nats-url"))
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(forwardMsgs(ctx, msgChan))
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer consumeCtx.Stop()

			return watchEvents(ctx, msgChan, codes, c.Int("count"), c.Bool("json"), c.App.Writer, c.App.ErrWriter)
		},
	}
}

// forwardMsgs returns a consume handler that hands messages to ch. Once ctx
// is done nobody reads ch, so the handler drops the message instead of
// blocking the consumer goroutine.
func forwardMsgs(ctx context.Context, ch chan<- jetstream.Msg) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
}

// watchEvents prints events that satisfy every filter until count matches
// were seen or ctx is done.
func watchEvents(
	ctx context.Context,
	msgs <-chan jetstream.Msg,
	codes []*gojq.Code,
	count int,
	jsonOutput bool,
	out, errOut io.Writer,
) error {
	matched := 0
	for {
		select {
		case msg := <-msgs:
			var event natspkg.RunEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			ok, err := eventMatches(codes, &event)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			matched++
			printEvent(out, &event, jsonOutput)

			if count > 0 && matched >= count {
				return nil
			}

		case <-ctx.Done():
			if count > 0 {
				return fmt.Errorf("received %d of %d matching events: %w", matched, count, ctx.Err())
			}
			return nil
		}
	}
}

func eventMatches(codes []*gojq.Code, event *natspkg.RunEvent) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	v, err := toJQValue(event)
	if err != nil {
		return false, err
	}
	return matchesAll(codes, v), nil
}

func printEvent(w io.Writer, event *natspkg.RunEvent, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Fprintln(w, string(data))
		return
	}
	switch event.Status {
	case "success":
		fmt.Fprintf(w, "[%s] %s.%s run %d: %s %s (slot %d, %dms)\n",
			event.Timestamp.Local().Format(time.RFC3339),
			event.Program, event.Instruction, event.RunID,
			smoke.SignaturePrefix, event.Signature, event.Slot, event.DurationMS)
	default:
		fmt.Fprintf(w, "[%s] %s.%s run %d: %s [%s] %s\n",
			event.Timestamp.Local().Format(time.RFC3339),
			event.Program, event.Instruction, event.RunID,
			event.Status, event.ErrorKind, event.Error)
	}
}
