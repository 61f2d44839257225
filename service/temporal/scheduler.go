package temporal

import (
	"context"
	"time"

	"github.com/brojonat/hip/service/anchor"
)

// Scheduler manages Temporal schedules for smoke checks.
// Each program/instruction pair gets its own schedule that triggers
// SmokeCheckWorkflow.
type Scheduler interface {
	// CreateSmokeSchedule creates a schedule that checks the program on the
	// given interval.
	CreateSmokeSchedule(ctx context.Context, program, instruction string, interval time.Duration) error

	// DeleteSmokeSchedule deletes the schedule for the program.
	DeleteSmokeSchedule(ctx context.Context, program, instruction string) error
}

// scheduleID returns the Temporal schedule ID for a program and instruction.
func scheduleID(program, instruction string) string {
	return "smoke-" + anchor.ToSnakeCase(program) + "-" + anchor.ToSnakeCase(instruction)
}
