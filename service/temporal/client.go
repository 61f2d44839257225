package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateSmokeSchedule creates a Temporal schedule that runs SmokeCheckWorkflow
// for the program on the given interval. An existing schedule has its
// interval updated instead.
func (c *Client) CreateSmokeSchedule(ctx context.Context, program, instruction string, interval time.Duration) error {
	id := scheduleID(program, instruction)

	c.logger.Debug("creating smoke schedule",
		"program", program,
		"instruction", instruction,
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err == nil {
		return c.updateInterval(ctx, handle, id, interval)
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "smoke-check-" + id,
		Workflow:  SmokeCheckWorkflow,
		TaskQueue: c.taskQueue,
		Args: []interface{}{SmokeCheckInput{
			Program:     program,
			Instruction: instruction,
		}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"program":     program,
			"instruction": instruction,
			"created_by":  "hip",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"program", program,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("smoke schedule created",
		"program", program,
		"instruction", instruction,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

func (c *Client) updateInterval(ctx context.Context, handle client.ScheduleHandle, id string, interval time.Duration) error {
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("smoke schedule updated", "schedule_id", id, "interval", interval)
	return nil
}

// DeleteSmokeSchedule deletes the Temporal schedule for a program.
func (c *Client) DeleteSmokeSchedule(ctx context.Context, program, instruction string) error {
	id := scheduleID(program, instruction)

	c.logger.Debug("deleting smoke schedule", "program", program, "schedule_id", id)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"program", program,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("smoke schedule deleted",
		"program", program,
		"instruction", instruction,
		"schedule_id", id,
	)

	return nil
}

// ExecuteSmokeCheck starts SmokeCheckWorkflow immediately and waits for its
// result.
func (c *Client) ExecuteSmokeCheck(ctx context.Context, program, instruction string) (*SmokeCheckResult, error) {
	opts := c.smokeCheckOptions(program, instruction)
	c.logger.Debug("starting smoke check workflow", "workflow_id", opts.ID, "task_queue", opts.TaskQueue)
	run, err := c.client.ExecuteWorkflow(ctx, opts, SmokeCheckWorkflow, SmokeCheckInput{Program: program, Instruction: instruction})
	if err != nil {
		return nil, fmt.Errorf("failed to start smoke check workflow: %w", err)
	}

	var result SmokeCheckResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("smoke check workflow %s: %w", run.GetID(), err)
	}
	return &result, nil
}

// smokeCheckOptions gives each one-off run a unique workflow ID so it never
// collides with a scheduled run of the same check.
func (c *Client) smokeCheckOptions(program, instruction string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:        fmt.Sprintf("smoke-check-%s-%s", scheduleID(program, instruction), uuid.New().String()),
		TaskQueue: c.TaskQueue(),
	}
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
