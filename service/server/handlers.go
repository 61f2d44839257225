package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/hip/service/db"
	"github.com/brojonat/hip/service/smoke"
	"github.com/brojonat/hip/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxProgramLength   = 64
	defaultMinInterval = 30 * time.Second
	maxSmokeInterval   = 24 * time.Hour
	defaultListLimit   = 50
	maxListLimit       = 1000
)

var (
	// Program and instruction names as they appear in Anchor.toml and IDLs.
	validNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// handleListRuns returns a handler that lists recorded runs, newest first.
// GET /api/v1/runs?program=NAME&limit=N&offset=N
func handleListRuns(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		program := query.Get("program")
		if program != "" {
			if err := validateName("program", program); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		limit, err := parseBoundedInt(query.Get("limit"), "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseBoundedInt(query.Get("offset"), "offset", 0, 0, -1)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		runs, err := store.ListRuns(r.Context(), db.ListRunsParams{
			Program: program,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.Error("failed to list runs", "program", program, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("runs listed", "program", program, "count", len(runs))

		resp := make([]runResponse, len(runs))
		for i := range runs {
			resp[i] = runToResponse(runs[i])
		}

		writeJSON(w, map[string]interface{}{
			"runs":   resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleGetRun returns a handler that retrieves one run by ID.
// GET /api/v1/runs/{id}
func handleGetRun(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 1 {
			writeError(w, "invalid run id: must be a positive integer", http.StatusBadRequest)
			return
		}

		run, err := store.GetRun(r.Context(), id)
		if errors.Is(err, db.ErrRunNotFound) {
			writeError(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get run", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, runToResponse(run), http.StatusOK)
	})
}

// handleLatestRun returns a handler that retrieves the newest run of a program.
// GET /api/v1/runs/latest?program=NAME
func handleLatestRun(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		program := r.URL.Query().Get("program")
		if program == "" {
			program = smoke.DefaultProgram
		}
		if err := validateName("program", program); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		run, err := store.LatestRun(r.Context(), program)
		if errors.Is(err, db.ErrRunNotFound) {
			writeError(w, fmt.Sprintf("no runs recorded for program %s", program), http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get latest run", "program", program, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, runToResponse(run), http.StatusOK)
	})
}

// handleRunStats returns a handler that summarises the outcomes recorded for
// a program.
// GET /api/v1/runs/stats?program=NAME
func handleRunStats(store RunStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		program := r.URL.Query().Get("program")
		if program == "" {
			program = smoke.DefaultProgram
		}
		if err := validateName("program", program); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		counts := make(map[string]int64, 3)
		for _, status := range []string{"", db.StatusSuccess, db.StatusFailed} {
			n, err := store.CountRuns(r.Context(), program, status)
			if err != nil {
				logger.Error("failed to count runs", "program", program, "status", status, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			counts[status] = n
		}

		resp := runStatsResponse{
			Program: program,
			Total:   counts[""],
			Success: counts[db.StatusSuccess],
			Failed:  counts[db.StatusFailed],
		}
		if resp.Total > 0 {
			resp.SuccessRate = float64(resp.Success) / float64(resp.Total)
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

type runStatsResponse struct {
	Program     string  `json:"program"`
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// handleCreateSchedule returns a handler that creates (or updates) the
// Temporal schedule checking a program.
// POST /api/v1/schedules
func handleCreateSchedule(scheduler temporal.Scheduler, minInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Program     string `json:"program"`
			Instruction string `json:"instruction"`
			Interval    string `json:"interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode schedule request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.Program == "" {
			req.Program = smoke.DefaultProgram
		}
		if req.Instruction == "" {
			req.Instruction = smoke.DefaultInstruction
		}
		if err := validateName("program", req.Program); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateName("instruction", req.Instruction); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		interval, err := time.ParseDuration(req.Interval)
		if err != nil {
			writeError(w, "invalid interval: must be a duration like 5m", http.StatusBadRequest)
			return
		}
		if err := validateInterval(interval, minInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.CreateSmokeSchedule(r.Context(), req.Program, req.Instruction, interval); err != nil {
			logger.Error("failed to create schedule", "program", req.Program, "error", err)
			writeError(w, "failed to create schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("schedule created", "program", req.Program, "instruction", req.Instruction, "interval", interval)
		writeJSON(w, map[string]interface{}{
			"program":     req.Program,
			"instruction": req.Instruction,
			"interval":    interval.String(),
		}, http.StatusCreated)
	})
}

// handleDeleteSchedule returns a handler that deletes a program's schedule.
// DELETE /api/v1/schedules/{program}?instruction=NAME
func handleDeleteSchedule(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		program := r.PathValue("program")
		instruction := r.URL.Query().Get("instruction")
		if instruction == "" {
			instruction = smoke.DefaultInstruction
		}
		if err := validateName("program", program); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateName("instruction", instruction); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.DeleteSmokeSchedule(r.Context(), program, instruction); err != nil {
			logger.Error("failed to delete schedule", "program", program, "error", err)
			writeError(w, "failed to delete schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("schedule deleted", "program", program, "instruction", instruction)
		w.WriteHeader(http.StatusNoContent)
	})
}

// runResponse is the JSON response format for a run.
type runResponse struct {
	ID          int64     `json:"id"`
	Program     string    `json:"program"`
	Instruction string    `json:"instruction"`
	Cluster     string    `json:"cluster"`
	ProgramID   *string   `json:"program_id,omitempty"`
	Signature   *string   `json:"signature,omitempty"`
	Status      string    `json:"status"`
	ErrorKind   *string   `json:"error_kind,omitempty"`
	Error       *string   `json:"error,omitempty"`
	Slot        int64     `json:"slot"`
	DurationMS  int64     `json:"duration_ms"`
	WorkflowID  *string   `json:"workflow_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func runToResponse(r *db.Run) runResponse {
	return runResponse{
		ID:          r.ID,
		Program:     r.Program,
		Instruction: r.Instruction,
		Cluster:     r.Cluster,
		ProgramID:   r.ProgramID,
		Signature:   r.Signature,
		Status:      r.Status,
		ErrorKind:   r.ErrorKind,
		Error:       r.Error,
		Slot:        r.Slot,
		DurationMS:  r.Duration.Milliseconds(),
		WorkflowID:  r.WorkflowID,
		CreatedAt:   r.CreatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateName validates a program or instruction name.
func validateName(field, name string) error {
	if name == "" {
		return errorf("%s is required", field)
	}

	if len(name) > maxProgramLength {
		return errorf("%s too long: maximum length is %d characters", field, maxProgramLength)
	}

	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validNameRegex.MatchString(name) {
		return errorf("invalid %s: must start with a letter and contain only letters, digits, '_' or '-'", field)
	}

	return nil
}

// validateInterval validates a schedule interval for reasonable bounds.
func validateInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return errorf("interval must be positive")
	}

	if interval < minInterval {
		return errorf("interval must be at least %v", minInterval)
	}

	if interval > maxSmokeInterval {
		return errorf("interval cannot exceed %v", maxSmokeInterval)
	}

	return nil
}

// parseBoundedInt parses an optional integer query parameter. hi < 0 means
// unbounded.
func parseBoundedInt(raw, field string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", field)
	}
	if v < lo {
		if lo == 0 {
			return 0, errorf("%s cannot be negative", field)
		}
		return 0, errorf("%s must be at least %d", field, lo)
	}
	if hi >= 0 && v > hi {
		return 0, errorf("%s cannot exceed %d", field, hi)
	}
	return v, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
