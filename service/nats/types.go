package nats

import (
	"strings"
	"time"

	"github.com/brojonat/hip/service/anchor"
	"github.com/brojonat/hip/service/db"
)

// RunEvent is the JSON projection of a recorded smoke run. It is published to
// the subject "smoke.{program}" where program is lower snake case.
type RunEvent struct {
	RunID       int64  `json:"run_id"`
	Program     string `json:"program"`
	Instruction string `json:"instruction"`
	Cluster     string `json:"cluster"`
	ProgramID   string `json:"program_id,omitempty"`

	// Outcome
	Status     string `json:"status"`
	Signature  string `json:"signature,omitempty"`
	Slot       int64  `json:"slot,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject an event for program is published on.
func Subject(program string) string {
	return SubjectPrefix + subjectToken(program)
}

// subjectToken converts the program name to snake case, matching schedule
// IDs, and replaces characters NATS treats specially in subjects.
func subjectToken(program string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_")
	return r.Replace(anchor.ToSnakeCase(program))
}

// FromDBRun converts a recorded run to a RunEvent for publishing.
func FromDBRun(run *db.Run) *RunEvent {
	event := &RunEvent{
		RunID:       run.ID,
		Program:     run.Program,
		Instruction: run.Instruction,
		Cluster:     run.Cluster,
		Status:      run.Status,
		Slot:        run.Slot,
		DurationMS:  run.Duration.Milliseconds(),
		Timestamp:   run.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}

	// Convert optional string fields
	if run.ProgramID != nil {
		event.ProgramID = *run.ProgramID
	}
	if run.Signature != nil {
		event.Signature = *run.Signature
	}
	if run.ErrorKind != nil {
		event.ErrorKind = *run.ErrorKind
	}
	if run.Error != nil {
		event.Error = *run.Error
	}

	return event
}
