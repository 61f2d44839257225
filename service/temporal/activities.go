package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/hip/service/db"
	"github.com/brojonat/hip/service/metrics"
	natspkg "github.com/brojonat/hip/service/nats"
	"github.com/brojonat/hip/service/smoke"
)

// Check outcomes carried between activities.
const (
	StatusSuccess = db.StatusSuccess
	StatusFailed  = db.StatusFailed
)

// SmokeCheckInput contains the input parameters for one scheduled check.
type SmokeCheckInput struct {
	Program     string `json:"program"`
	Instruction string `json:"instruction"`
}

// SmokeCheckResult summarises a workflow execution.
type SmokeCheckResult struct {
	Program     string    `json:"program"`
	Instruction string    `json:"instruction"`
	Status      string    `json:"status"`
	Signature   string    `json:"signature,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	RunID       int64     `json:"run_id,omitempty"`
	CheckTime   time.Time `json:"check_time"`
	Error       *string   `json:"error,omitempty"`
}

// RunSmokeCheckInput contains parameters for the RunSmokeCheck activity.
type RunSmokeCheckInput struct {
	Program     string `json:"program"`
	Instruction string `json:"instruction"`
}

// RunSmokeCheckResult is the outcome of one check. A failed check is a
// result, not an activity error, so that it can still be recorded.
type RunSmokeCheckResult struct {
	Program     string `json:"program"`
	Instruction string `json:"instruction"`
	Cluster     string `json:"cluster"`
	ProgramID   string `json:"program_id,omitempty"`
	Status      string `json:"status"`
	Signature   string `json:"signature,omitempty"`
	Slot        uint64 `json:"slot,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// RecordRunInput contains parameters for the RecordRun activity.
type RecordRunInput struct {
	Check      RunSmokeCheckResult `json:"check"`
	WorkflowID string              `json:"workflow_id"`
	StartedAt  time.Time           `json:"started_at"`
}

// RecordRunResult contains the ID of the stored run.
type RecordRunResult struct {
	RunID int64 `json:"run_id"`
}

// PublishRunInput contains parameters for the PublishRun activity.
type PublishRunInput struct {
	RunID int64 `json:"run_id"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateRun(context.Context, db.CreateRunParams) (*db.Run, error)
	GetRun(context.Context, int64) (*db.Run, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishRun(ctx context.Context, event *natspkg.RunEvent) error
}

// SmokeRunner performs a single smoke check.
type SmokeRunner interface {
	Program() string
	Instruction() string
	RunInitializationCheck(ctx context.Context) (*smoke.Result, error)
}

// RunnerFactory returns a runner for a program and instruction. Empty names
// select the runner defaults.
type RunnerFactory func(program, instruction string) SmokeRunner

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	store     StoreInterface
	runners   RunnerFactory
	publisher PublisherInterface
	cluster   string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// cluster labels runs that fail before a result carries one. publisher and
// m may be nil.
func NewActivities(
	store StoreInterface,
	runners RunnerFactory,
	publisher PublisherInterface,
	cluster string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		runners:   runners,
		publisher: publisher,
		cluster:   cluster,
		metrics:   m,
		logger:    logger,
	}
}

// RunSmokeCheck submits the configured instruction and waits for it to be
// confirmed. Check failures are classified and returned in the result.
func (a *Activities) RunSmokeCheck(ctx context.Context, input RunSmokeCheckInput) (*RunSmokeCheckResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("RunSmokeCheck", input.Program, time.Since(start).Seconds())
		}
	}()

	if a.runners == nil {
		return nil, errors.New("no smoke runner configured")
	}
	runner := a.runners(input.Program, input.Instruction)

	out := &RunSmokeCheckResult{
		Program:     runner.Program(),
		Instruction: runner.Instruction(),
		Cluster:     a.cluster,
	}

	res, err := runner.RunInitializationCheck(ctx)
	out.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Status = StatusFailed
		out.ErrorKind = smoke.Classify(err)
		out.Error = err.Error()
		a.logger.WarnContext(ctx, "smoke check failed",
			"program", out.Program,
			"error_kind", out.ErrorKind,
			"error", err,
		)
		return out, nil
	}

	out.Program = res.Program
	out.Instruction = res.Instruction
	out.Cluster = res.Cluster
	out.ProgramID = res.ProgramID
	out.Status = StatusSuccess
	out.Signature = res.Signature
	out.Slot = res.Slot

	a.logger.InfoContext(ctx, "smoke check succeeded",
		"program", out.Program,
		"signature", out.Signature,
		"slot", out.Slot,
	)
	return out, nil
}

// RecordRun stores the outcome of a check.
func (a *Activities) RecordRun(ctx context.Context, input RecordRunInput) (*RecordRunResult, error) {
	start := time.Now()
	check := input.Check
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("RecordRun", check.Program, time.Since(start).Seconds())
		}
	}()

	params := db.CreateRunParams{
		Program:     check.Program,
		Instruction: check.Instruction,
		Cluster:     check.Cluster,
		ProgramID:   optionalString(check.ProgramID),
		Signature:   optionalString(check.Signature),
		Status:      check.Status,
		ErrorKind:   optionalString(check.ErrorKind),
		Error:       optionalString(check.Error),
		Slot:        int64(check.Slot),
		Duration:    time.Duration(check.DurationMS) * time.Millisecond,
		WorkflowID:  optionalString(input.WorkflowID),
	}

	run, err := a.store.CreateRun(ctx, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record run",
			"program", check.Program,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	if a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(check.Program, check.Status, time.Since(input.StartedAt).Seconds())
	}

	a.logger.DebugContext(ctx, "recorded run", "run_id", run.ID, "status", run.Status)
	return &RecordRunResult{RunID: run.ID}, nil
}

// PublishRun publishes a stored run to NATS. Without a publisher it is a
// no-op.
func (a *Activities) PublishRun(ctx context.Context, input PublishRunInput) error {
	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping publish", "run_id", input.RunID)
		return nil
	}

	run, err := a.store.GetRun(ctx, input.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", input.RunID, err)
	}

	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("PublishRun", run.Program, time.Since(start).Seconds())
		}
	}()

	if err := a.publisher.PublishRun(ctx, natspkg.FromDBRun(run)); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish run",
			"run_id", run.ID,
			"error", err,
		)
		return fmt.Errorf("failed to publish run: %w", err)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
