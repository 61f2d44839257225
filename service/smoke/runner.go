// Package smoke runs the initialization smoke check: resolve a program from
// the workspace, invoke its no-argument initialize instruction through the
// provider, and report the confirmed transaction signature.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/hip/service/anchor"
	"github.com/brojonat/hip/service/metrics"
	"github.com/brojonat/hip/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	DefaultProgram     = "Hip"
	DefaultInstruction = "initialize"

	// SignaturePrefix starts the single line written on success.
	SignaturePrefix = "Your transaction signature"
)

// Error kinds reported by Classify.
const (
	KindConnection = "connection"
	KindResolution = "resolution"
	KindRPC        = "rpc"
	KindUnknown    = "unknown"
)

// Result describes a successful check.
type Result struct {
	Program     string        `json:"program"`
	ProgramID   string        `json:"program_id"`
	Instruction string        `json:"instruction"`
	Cluster     string        `json:"cluster"`
	Signature   string        `json:"signature"`
	Slot        uint64        `json:"slot"`
	Commitment  string        `json:"commitment"`
	Duration    time.Duration `json:"duration"`
}

// Options configures a Runner. Zero values select the defaults.
type Options struct {
	Program     string
	Instruction string
	// Args are passed to the instruction in IDL order. The initialize check
	// takes none.
	Args    []any
	Out     io.Writer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Runner performs smoke checks against one provider and workspace. It holds
// no mutable state and may be reused.
type Runner struct {
	workspace   *anchor.Workspace
	provider    *solana.Provider
	program     string
	instruction string
	args        []any
	out         io.Writer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(ws *anchor.Workspace, provider *solana.Provider, opts Options) *Runner {
	r := &Runner{
		workspace:   ws,
		provider:    provider,
		program:     opts.Program,
		instruction: opts.Instruction,
		args:        opts.Args,
		out:         opts.Out,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if r.program == "" {
		r.program = DefaultProgram
	}
	if r.instruction == "" {
		r.instruction = DefaultInstruction
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Program returns the name of the program the runner checks.
func (r *Runner) Program() string { return r.program }

// Instruction returns the name of the instruction the runner invokes.
func (r *Runner) Instruction() string { return r.instruction }

// RunInitializationCheck resolves the program, builds the instruction,
// probes the cluster and submits the transaction, in that order. Resolution
// happens before any network traffic. On success exactly one signature line
// is written to the output; on failure nothing is written and the error is
// returned as is.
func (r *Runner) RunInitializationCheck(ctx context.Context) (*Result, error) {
	start := time.Now()
	logger := r.logger.With("program", r.program, "instruction", r.instruction)

	res, err := r.run(ctx, logger)
	duration := time.Since(start)

	if err != nil {
		kind := Classify(err)
		logger.ErrorContext(ctx, "smoke check failed", "error_kind", kind, "error", err, "duration", duration)
		if r.metrics != nil {
			r.metrics.RecordSmokeRun(r.program, r.instruction, "failed", kind, duration.Seconds())
		}
		return nil, err
	}

	res.Duration = duration
	if _, err := fmt.Fprintln(r.out, SignaturePrefix, res.Signature); err != nil {
		logger.WarnContext(ctx, "failed to write signature line", "error", err)
	}
	logger.InfoContext(ctx, "smoke check succeeded",
		"signature", res.Signature,
		"slot", res.Slot,
		"duration", duration,
	)
	if r.metrics != nil {
		r.metrics.RecordSmokeRun(r.program, r.instruction, "success", "", duration.Seconds())
		r.metrics.RecordSmokeSuccess(r.program, float64(time.Now().Unix()), res.Slot)
	}
	return res, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger) (*Result, error) {
	if r.workspace == nil {
		return nil, &anchor.ResolutionError{Program: r.program, Kind: "program", Err: errors.New("no workspace loaded")}
	}
	if r.provider == nil {
		return nil, &anchor.ResolutionError{Program: r.program, Kind: "provider", Err: errors.New("no provider configured")}
	}

	program, err := r.workspace.Program(r.program, r.provider.URL)
	if err != nil {
		return nil, err
	}
	ix, err := program.Connect(r.provider).Method(r.instruction).Args(r.args...).Instruction()
	if err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "instruction built", "program_id", program.ID.String(), "accounts", len(ix.Accounts()))

	if err := r.provider.Client.Health(ctx); err != nil {
		return nil, err
	}

	conf, err := r.provider.SendAndConfirm(ctx, []solanago.Instruction{ix})
	if err != nil {
		return nil, err
	}

	return &Result{
		Program:     r.program,
		ProgramID:   program.ID.String(),
		Instruction: r.instruction,
		Cluster:     r.provider.URL,
		Signature:   conf.Signature,
		Slot:        conf.Slot,
		Commitment:  string(conf.Status),
	}, nil
}

// Classify maps an error onto one of the Kind constants. nil maps to "".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var connErr *solana.ConnectionError
	var resErr *anchor.ResolutionError
	var rpcErr *solana.RPCError
	switch {
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &resErr):
		return KindResolution
	case errors.As(err, &rpcErr):
		return KindRPC
	default:
		return KindUnknown
	}
}
