package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ConnectionError is returned when the cluster cannot be reached at all:
// refused connections, DNS failures, transport timeouts.
type ConnectionError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot reach cluster %s (%s): %v", e.Endpoint, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RPCError is returned when the cluster answered but the call was rejected,
// the transaction failed on chain, or confirmation did not arrive in time.
type RPCError struct {
	Method string
	Code   int // JSON-RPC error code, 0 when not applicable
	Err    error
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc %s failed (code %d): %v", e.Method, e.Code, e.Err)
	}
	return fmt.Sprintf("rpc %s failed: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// ErrConfirmationTimeout is wrapped in an RPCError when a submitted
// transaction does not reach the requested commitment before the deadline.
var ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

// classifyRPCErr wraps a raw error from the RPC layer in the matching typed
// error. Errors that are already classified pass through untouched.
func classifyRPCErr(endpoint, method string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	var rpcErr *RPCError
	if errors.As(err, &connErr) || errors.As(err, &rpcErr) {
		return err
	}

	var jsonErr *jsonrpc.RPCError
	if errors.As(err, &jsonErr) {
		return &RPCError{Method: method, Code: jsonErr.Code, Err: err}
	}

	if isTransportErr(err) {
		return &ConnectionError{Endpoint: endpoint, Op: method, Err: err}
	}

	return &RPCError{Method: method, Err: err}
}

func isTransportErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// solana-go flattens some transport failures into plain strings.
	msg := err.Error()
	for _, s := range []string{"connection refused", "no such host", "connection reset", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
