package smoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/hip/service/anchor"
	"github.com/brojonat/hip/service/metrics"
	"github.com/brojonat/hip/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testWorkspace(t *testing.T) *anchor.Workspace {
	t.Helper()
	ws, err := anchor.LoadWorkspace(filepath.Join("testdata", "workspace"), discard)
	require.NoError(t, err)
	return ws
}

func testProvider(t *testing.T, rpcClient solana.RPCClient, rpcURL string) *solana.Provider {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return solana.NewProvider(rpcClient, rpcURL, key, nil, discard)
}

func refused() error {
	return &url.Error{
		Op:  "Post",
		URL: rpc.LocalNet_RPC,
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")},
	}
}

func TestRunInitializationCheck(t *testing.T) {
	t.Run("prints the signature once on success", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, mock, rpc.LocalNet_RPC), Options{Out: &out, Logger: discard})

		res, err := runner.RunInitializationCheck(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, res.Signature)

		assert.Equal(t, fmt.Sprintf("Your transaction signature %s\n", res.Signature), out.String())
		assert.Equal(t, "Hip", res.Program)
		assert.Equal(t, "initialize", res.Instruction)
		assert.Equal(t, "4DJBep6Jm34REZUnjr1NjEZiwqzm2pS1cjpiejvG2iUF", res.ProgramID)
		assert.Equal(t, rpc.LocalNet_RPC, res.Cluster)
		assert.Equal(t, uint64(1), res.Slot)

		assert.Equal(t, 1, mock.Calls("GetHealth"))
		assert.Equal(t, 1, mock.Calls("SendTransactionWithOpts"))

		sent := mock.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, sent[0].Signatures[0].String(), res.Signature)
		require.Len(t, sent[0].Message.Instructions, 1)
		assert.Equal(t, solanago.Base58([]byte{175, 175, 109, 31, 13, 152, 155, 237}), sent[0].Message.Instructions[0].Data)
	})

	t.Run("one line per invocation", func(t *testing.T) {
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, solana.NewMockRPCClient(), rpc.LocalNet_RPC), Options{Out: &out, Logger: discard})

		for range 2 {
			_, err := runner.RunInitializationCheck(context.Background())
			require.NoError(t, err)
		}
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		for _, line := range lines {
			assert.True(t, strings.HasPrefix(line, SignaturePrefix+" "))
		}
	})

	t.Run("missing program fails before any rpc", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, mock, rpc.LocalNet_RPC), Options{
			Program: "Missing",
			Out:     &out,
			Logger:  discard,
		})

		_, err := runner.RunInitializationCheck(context.Background())
		var resErr *anchor.ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, KindResolution, Classify(err))
		assert.Zero(t, mock.TotalCalls())
		assert.Empty(t, out.String())
	})

	t.Run("unknown instruction fails before any rpc", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		runner := NewRunner(testWorkspace(t), testProvider(t, mock, rpc.LocalNet_RPC), Options{
			Instruction: "claim",
			Out:         io.Discard,
			Logger:      discard,
		})

		_, err := runner.RunInitializationCheck(context.Background())
		assert.Equal(t, KindResolution, Classify(err))
		assert.Zero(t, mock.TotalCalls())
	})

	t.Run("no workspace is a resolution error", func(t *testing.T) {
		runner := NewRunner(nil, testProvider(t, solana.NewMockRPCClient(), rpc.LocalNet_RPC), Options{Out: io.Discard, Logger: discard})
		_, err := runner.RunInitializationCheck(context.Background())
		assert.Equal(t, KindResolution, Classify(err))
	})

	t.Run("unreachable cluster is a connection error", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		mock.HealthErr = refused()
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, mock, rpc.LocalNet_RPC), Options{Out: &out, Logger: discard})

		_, err := runner.RunInitializationCheck(context.Background())
		var connErr *solana.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Zero(t, mock.Calls("SendTransactionWithOpts"))
		assert.Empty(t, out.String())
	})

	t.Run("closed port with the real rpc client", func(t *testing.T) {
		endpoint := "http://127.0.0.1:1"
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, solana.NewRPCClient(endpoint), endpoint), Options{Out: &out, Logger: discard})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := runner.RunInitializationCheck(ctx)
		assert.Equal(t, KindConnection, Classify(err), "error: %v", err)
		assert.Empty(t, out.String())
	})

	t.Run("rejected submission is an rpc error", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		mock.SendErr = &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit."}
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), testProvider(t, mock, rpc.LocalNet_RPC), Options{Out: &out, Logger: discard})

		_, err := runner.RunInitializationCheck(context.Background())
		var rpcErr *solana.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, -32002, rpcErr.Code)
		assert.Equal(t, 1, mock.Calls("SendTransactionWithOpts"), "submission must not be retried")
		assert.Empty(t, out.String())
	})

	t.Run("confirmation timeout is an rpc error", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		mock.Statuses = nil
		provider := testProvider(t, mock, rpc.LocalNet_RPC)
		provider.ConfirmTimeout = 50 * time.Millisecond
		var out bytes.Buffer
		runner := NewRunner(testWorkspace(t), provider, Options{Out: &out, Logger: discard})

		_, err := runner.RunInitializationCheck(context.Background())
		assert.Equal(t, KindRPC, Classify(err))
		assert.ErrorIs(t, err, solana.ErrConfirmationTimeout)
		assert.Empty(t, out.String())
	})

	t.Run("records metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		runner := NewRunner(testWorkspace(t), testProvider(t, solana.NewMockRPCClient(), rpc.LocalNet_RPC), Options{
			Out:     io.Discard,
			Logger:  discard,
			Metrics: m,
		})

		_, err := runner.RunInitializationCheck(context.Background())
		require.NoError(t, err)

		count, err := testutil.GatherAndCount(reg, "smoke_runs_total", "smoke_last_success_timestamp_seconds")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "connection", err: &solana.ConnectionError{Endpoint: "localnet", Op: "getHealth", Err: refused()}, want: KindConnection},
		{name: "resolution", err: &anchor.ResolutionError{Program: "Hip", Kind: "idl", Err: errors.New("missing")}, want: KindResolution},
		{name: "rpc", err: &solana.RPCError{Method: "sendTransaction", Err: errors.New("rejected")}, want: KindRPC},
		{name: "wrapped", err: fmt.Errorf("activity: %w", &solana.RPCError{Method: "x", Err: errors.New("y")}), want: KindRPC},
		{name: "other", err: errors.New("boom"), want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
