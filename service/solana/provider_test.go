package solana

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeypair(t *testing.T, dir string) (string, solana.PrivateKey) {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(dir, "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, key
}

func TestProviderFromEnv(t *testing.T) {
	dir := t.TempDir()
	walletPath, key := writeKeypair(t, dir)

	var gotURL string
	newRPC := func(u string) RPCClient {
		gotURL = u
		return &MockRPCClient{}
	}

	t.Run("environment wins over defaults", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "http://10.0.0.5:8899")
		t.Setenv(EnvWallet, walletPath)
		t.Setenv(EnvCommitment, "finalized")

		p, err := ProviderFromEnv(ProviderOptions{
			DefaultCluster: "devnet",
			DefaultWallet:  "/nonexistent.json",
			NewRPC:         newRPC,
		})
		require.NoError(t, err)
		assert.Equal(t, "http://10.0.0.5:8899", p.URL)
		assert.Equal(t, "http://10.0.0.5:8899", gotURL)
		assert.Equal(t, key.PublicKey(), p.PublicKey())
		assert.Equal(t, rpc.CommitmentFinalized, p.Commitment)
		assert.Equal(t, DefaultConfirmTimeout, p.ConfirmTimeout)
	})

	t.Run("falls back to workspace defaults", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "")
		t.Setenv(EnvWallet, "")
		t.Setenv(EnvCommitment, "")

		p, err := ProviderFromEnv(ProviderOptions{
			DefaultCluster: "localnet",
			DefaultWallet:  walletPath,
			ConfirmTimeout: 5 * time.Second,
			NewRPC:         newRPC,
		})
		require.NoError(t, err)
		assert.Equal(t, rpc.LocalNet_RPC, p.URL)
		assert.Equal(t, rpc.CommitmentConfirmed, p.Commitment)
		assert.Equal(t, 5*time.Second, p.ConfirmTimeout)
		assert.Equal(t, "localnet", p.Client.Endpoint())
	})

	t.Run("missing cluster", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "")
		t.Setenv(EnvWallet, walletPath)

		_, err := ProviderFromEnv(ProviderOptions{NewRPC: newRPC})
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvProviderURL)
	})

	t.Run("missing wallet", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "localnet")
		t.Setenv(EnvWallet, "")

		_, err := ProviderFromEnv(ProviderOptions{NewRPC: newRPC})
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvWallet)
	})

	t.Run("unreadable wallet", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "localnet")
		t.Setenv(EnvWallet, filepath.Join(dir, "missing.json"))

		_, err := ProviderFromEnv(ProviderOptions{NewRPC: newRPC})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load wallet keypair")
	})

	t.Run("bad commitment", func(t *testing.T) {
		t.Setenv(EnvProviderURL, "localnet")
		t.Setenv(EnvWallet, walletPath)
		t.Setenv(EnvCommitment, "eventually")

		_, err := ProviderFromEnv(ProviderOptions{NewRPC: newRPC})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid commitment")
	})
}

func TestSendAndConfirm(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	mock := &MockRPCClient{
		Blockhash: solana.MustHashFromBase58("4uhcVJyU9pJkvQyS88uRDiswHXSCkY3zQawwpjk2NsNY"),
		Statuses: []*rpc.SignatureStatusesResult{
			{Slot: 7, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProvider(mock, rpc.LocalNet_RPC, key, nil, logger)
	p.Client.pollInterval = time.Millisecond

	programID := solana.MustPublicKeyFromBase58("4DJBep6Jm34REZUnjr1NjEZiwqzm2pS1cjpiejvG2iUF")
	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(key.PublicKey()).WRITE().SIGNER(),
	}, []byte{175, 175, 109, 31, 13, 152, 155, 237})

	conf, err := p.SendAndConfirm(context.Background(), []solana.Instruction{ix})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), conf.Slot)

	sent := mock.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, tx.Signatures[0].String(), conf.Signature)
	assert.Equal(t, key.PublicKey(), tx.Message.AccountKeys[0])
	assert.NoError(t, tx.VerifySignatures())
}

func TestResolveClusterURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "localnet", want: rpc.LocalNet_RPC},
		{in: "Devnet", want: rpc.DevNet_RPC},
		{in: "testnet", want: rpc.TestNet_RPC},
		{in: "mainnet-beta", want: rpc.MainNetBeta_RPC},
		{in: "https://api.example.com/rpc", want: "https://api.example.com/rpc"},
		{in: "ftp://nope", wantErr: true},
		{in: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveClusterURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "localnet", EndpointLabel("http://127.0.0.1:8899"))
	assert.Equal(t, "mainnet", EndpointLabel("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "devnet", EndpointLabel("https://api.devnet.solana.com"))
	assert.Equal(t, "helius", EndpointLabel("https://mainnet.helius-rpc.com/?api-key=abc"))
	assert.Equal(t, "rpc.example.org", EndpointLabel("https://rpc.example.org"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.config/solana/id.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/solana/id.json"), got)

	got, err = ExpandHome("/abs/id.json")
	require.NoError(t, err)
	assert.Equal(t, "/abs/id.json", got)
}
