package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/hip/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetHealth(ctx context.Context) (string, error)

	GetVersion(ctx context.Context) (*rpc.GetVersionResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)
}

const (
	defaultPollInterval = 500 * time.Millisecond
	maxReadAttempts     = 3
)

// Client submits and confirms transactions against a single cluster.
// It wraps the RPC client with logging, metrics and error classification.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics and errors
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling and error messages.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		pollInterval: defaultPollInterval,
		sleep:        sleepCtx,
	}
}

// Endpoint returns the endpoint label the client was created with.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// Health probes the cluster. Nodes that do not implement getHealth are
// probed with getVersion instead.
func (c *Client) Health(ctx context.Context) error {
	var status string
	err := c.withRateLimitRetry(ctx, "getHealth", "GetHealth", func() error {
		start := time.Now()
		var err error
		status, err = c.rpc.GetHealth(ctx)
		c.record("GetHealth", start, err)
		return err
	})
	if err == nil {
		if status != "ok" {
			c.logger.WarnContext(ctx, "cluster reports degraded health", "endpoint", c.endpoint, "status", status)
		}
		return nil
	}

	classified := classifyRPCErr(c.endpoint, "getHealth", err)
	var connErr *ConnectionError
	if errors.As(classified, &connErr) {
		c.logger.ErrorContext(ctx, "cluster unreachable", "endpoint", c.endpoint, "error", err)
		return classified
	}

	c.logger.DebugContext(ctx, "getHealth rejected, falling back to getVersion", "error", err)
	start := time.Now()
	version, err := c.rpc.GetVersion(ctx)
	c.record("GetVersion", start, err)
	if err != nil {
		return classifyRPCErr(c.endpoint, "getVersion", err)
	}
	c.logger.DebugContext(ctx, "cluster reachable", "endpoint", c.endpoint, "solana_core", version.SolanaCore)
	return nil
}

// LatestBlockhash returns a recent blockhash at the given commitment.
// Rate-limited calls are retried with exponential backoff.
func (c *Client) LatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.withRateLimitRetry(ctx, "getLatestBlockhash", "GetLatestBlockhash", func() error {
		start := time.Now()
		var err error
		out, err = c.rpc.GetLatestBlockhash(ctx, commitment)
		c.record("GetLatestBlockhash", start, err)
		return err
	})
	if err != nil {
		return solana.Hash{}, classifyRPCErr(c.endpoint, "getLatestBlockhash", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, &RPCError{Method: "getLatestBlockhash", Err: errors.New("empty response")}
	}
	return out.Value.Blockhash, nil
}

// withRateLimitRetry runs call up to maxReadAttempts times, backing off
// 2s then 4s between attempts while the node answers HTTP 429. Any other
// error, or a 429 on the final attempt, is returned as is.
func (c *Client) withRateLimitRetry(ctx context.Context, method, metricName string, call func() error) error {
	var err error
	for attempt := range maxReadAttempts {
		err = call()
		if err == nil || !strings.Contains(err.Error(), "429") {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		if attempt == maxReadAttempts-1 {
			break
		}

		backoff := time.Duration(2<<uint(attempt)) * time.Second
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(metricName, "rate_limit")
		}
		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	c.logger.ErrorContext(ctx, "rate limited, giving up", "method", method, "attempts", maxReadAttempts)
	return err
}

// SendTransaction submits a signed transaction. Submission is not retried:
// a retried send could land the same instruction twice.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	preflight := opts.PreflightCommitment
	if preflight == "" {
		preflight = rpc.CommitmentConfirmed
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: preflight,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send transaction", "endpoint", c.endpoint, "error", err)
		return solana.Signature{}, classifyRPCErr(c.endpoint, "sendTransaction", err)
	}
	if sig == (solana.Signature{}) {
		return solana.Signature{}, &RPCError{Method: "sendTransaction", Err: errors.New("cluster returned an empty signature")}
	}

	c.logger.DebugContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// ConfirmTransaction polls signature statuses until the transaction reaches
// the requested commitment, fails on chain, or the timeout expires.
func (c *Client) ConfirmTransaction(
	ctx context.Context,
	sig solana.Signature,
	commitment rpc.CommitmentType,
	timeout time.Duration,
) (*Confirmation, error) {
	start := time.Now()
	target := commitmentTarget(commitment)

	confirmCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		callStart := time.Now()
		out, err := c.rpc.GetSignatureStatuses(confirmCtx, false, sig)
		c.record("GetSignatureStatuses", callStart, err)

		if err != nil {
			// The transaction was already accepted, so an expired context
			// here is a confirmation failure rather than an unreachable node.
			if confirmCtx.Err() != nil {
				if ctx.Err() != nil {
					return nil, &RPCError{Method: "confirmTransaction", Err: ctx.Err()}
				}
				return nil, c.timeoutErr(sig, timeout)
			}
			return nil, classifyRPCErr(c.endpoint, "getSignatureStatuses", err)
		}

		if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return nil, &RPCError{
					Method: "confirmTransaction",
					Err:    fmt.Errorf("transaction %s failed: %v", sig, status.Err),
				}
			}
			if commitmentRank(status.ConfirmationStatus) >= commitmentRank(target) {
				conf := &Confirmation{
					Signature: sig.String(),
					Slot:      status.Slot,
					Status:    status.ConfirmationStatus,
					Elapsed:   time.Since(start),
				}
				c.logger.DebugContext(ctx, "transaction confirmed",
					"signature", conf.Signature,
					"slot", conf.Slot,
					"status", conf.Status,
					"elapsed", conf.Elapsed,
				)
				return conf, nil
			}
		}

		if err := c.sleep(confirmCtx, c.pollInterval); err != nil {
			if ctx.Err() != nil {
				return nil, &RPCError{Method: "confirmTransaction", Err: ctx.Err()}
			}
			return nil, c.timeoutErr(sig, timeout)
		}
	}
}

func (c *Client) timeoutErr(sig solana.Signature, timeout time.Duration) error {
	if c.metrics != nil {
		c.metrics.RecordRPCRetry("GetSignatureStatuses", "confirm_timeout")
	}
	return &RPCError{
		Method: "confirmTransaction",
		Err:    fmt.Errorf("%w after %s (signature %s)", ErrConfirmationTimeout, timeout, sig),
	}
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, commitment)
	c.record("GetBalance", start, err)
	if err != nil {
		return 0, classifyRPCErr(c.endpoint, "getBalance", err)
	}
	return out.Value, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
