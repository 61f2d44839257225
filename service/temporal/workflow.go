package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SmokeCheckWorkflow runs one smoke check and records its outcome.
// It is triggered by a Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Submit the instruction and wait for confirmation (RunSmokeCheck)
// 2. Persist the outcome (RecordRun)
// 3. Publish the recorded run to NATS (PublishRun, best-effort)
//
// A failed check is recorded and published before the workflow fails.
func SmokeCheckWorkflow(ctx workflow.Context, input SmokeCheckInput) (*SmokeCheckResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SmokeCheckWorkflow started", "program", input.Program, "instruction", input.Instruction)

	startedAt := workflow.Now(ctx)
	result := &SmokeCheckResult{
		Program:     input.Program,
		Instruction: input.Instruction,
		CheckTime:   startedAt,
	}

	// Submission is not idempotent: a retried check could land the
	// instruction twice, so RunSmokeCheck gets exactly one attempt.
	checkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	storeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: run the check
	var check *RunSmokeCheckResult
	err := workflow.ExecuteActivity(checkCtx, a.RunSmokeCheck, RunSmokeCheckInput{
		Program:     input.Program,
		Instruction: input.Instruction,
	}).Get(ctx, &check)
	if err != nil {
		logger.Error("failed to run smoke check", "program", input.Program, "error", err)
		errMsg := fmt.Sprintf("failed to run smoke check: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to run smoke check: %w", err)
	}

	result.Status = check.Status
	result.Signature = check.Signature
	result.ErrorKind = check.ErrorKind

	// Step 2: record the outcome
	info := workflow.GetInfo(ctx)
	var recorded *RecordRunResult
	err = workflow.ExecuteActivity(storeCtx, a.RecordRun, RecordRunInput{
		Check:      *check,
		WorkflowID: info.WorkflowExecution.ID,
		StartedAt:  startedAt,
	}).Get(ctx, &recorded)
	if err != nil {
		logger.Error("failed to record run", "program", input.Program, "error", err)
		errMsg := fmt.Sprintf("failed to record run: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record run: %w", err)
	}
	result.RunID = recorded.RunID

	// Step 3: publish the recorded run
	err = workflow.ExecuteActivity(storeCtx, a.PublishRun, PublishRunInput{RunID: recorded.RunID}).Get(ctx, nil)
	if err != nil {
		// Subscribers miss one event; the run is already stored.
		logger.Warn("failed to publish run", "run_id", recorded.RunID, "error", err)
	}

	if check.Status != StatusSuccess {
		errMsg := fmt.Sprintf("smoke check failed (%s): %s", check.ErrorKind, check.Error)
		result.Error = &errMsg
		logger.Error("SmokeCheckWorkflow failed", "program", input.Program, "error_kind", check.ErrorKind, "run_id", recorded.RunID)
		return result, temporalsdk.NewNonRetryableApplicationError(errMsg, check.ErrorKind, nil)
	}

	logger.Info("SmokeCheckWorkflow completed successfully",
		"program", input.Program,
		"signature", check.Signature,
		"run_id", recorded.RunID,
	)

	return result, nil
}
