package anchor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/hip/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, mock *solana.MockRPCClient) *solana.Provider {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return solana.NewProvider(mock, rpc.LocalNet_RPC, key, nil, logger)
}

func mustPDA(t *testing.T, programID solanago.PublicKey, seeds ...[]byte) solanago.PublicKey {
	t.Helper()
	addr, _, err := solanago.FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	return addr
}

func TestMethodBuilderInstruction(t *testing.T) {
	ws := loadTestWorkspace(t)

	t.Run("initialize without arguments", func(t *testing.T) {
		hip, err := ws.Program("Hip", "localnet")
		require.NoError(t, err)

		ix, err := hip.Method("initialize").Instruction()
		require.NoError(t, err)
		assert.Equal(t, hip.ID, ix.ProgramID())
		assert.Empty(t, ix.Accounts())

		data, err := ix.Data()
		require.NoError(t, err)
		assert.Equal(t, []byte{175, 175, 109, 31, 13, 152, 155, 237}, data)
	})

	t.Run("pda and signer accounts resolve", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)
		provider := newTestProvider(t, solana.NewMockRPCClient())
		program = program.Connect(provider)

		ix, err := program.Method("registerUser").Instruction()
		require.NoError(t, err)

		wallet := provider.PublicKey()
		accounts := ix.Accounts()
		require.Len(t, accounts, 5)
		assert.Equal(t, mustPDA(t, program.ID, []byte("settings")), accounts[0].PublicKey)
		assert.Equal(t, mustPDA(t, program.ID, []byte("user"), wallet.Bytes()), accounts[1].PublicKey)
		assert.True(t, accounts[1].IsWritable)
		assert.Equal(t, wallet, accounts[2].PublicKey)
		assert.True(t, accounts[2].IsSigner)
		assert.Equal(t, solanago.SystemProgramID, accounts[3].PublicKey)
		assert.Equal(t, solanago.SysVarRentPubkey, accounts[4].PublicKey)
	})

	t.Run("overrides and arguments", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)
		provider := newTestProvider(t, solana.NewMockRPCClient())
		mint := solanago.NewWallet().PublicKey()
		user := solanago.NewWallet().PublicKey()

		ix, err := program.Connect(provider).Method("initialize").
			Args(uint64(1000), solanago.TokenProgramID).
			Accounts(map[string]solanago.PublicKey{"mint": mint, "authority": user}).
			Instruction()
		require.NoError(t, err)

		accounts := ix.Accounts()
		assert.Equal(t, mustPDA(t, program.ID, []byte("settings"), []byte("mint_authority")), accounts[1].PublicKey)
		assert.Equal(t, mint, accounts[2].PublicKey)
		assert.Equal(t, user, accounts[3].PublicKey)

		data, err := ix.Data()
		require.NoError(t, err)
		require.Len(t, data, 8+8+32)
		assert.Equal(t, []byte{175, 175, 109, 31, 13, 152, 155, 237}, data[:8])
		assert.Equal(t, solanago.TokenProgramID.Bytes(), data[16:])
	})

	t.Run("legacy idl uses well-known programs", func(t *testing.T) {
		program, err := ws.Program("Legacy", "localnet")
		require.NoError(t, err)
		provider := newTestProvider(t, solana.NewMockRPCClient())

		ix, err := program.Connect(provider).Method("initialize").
			Args(uint64(1), solanago.TokenProgramID.String()).
			Accounts(map[string]solanago.PublicKey{"mint": solanago.NewWallet().PublicKey()}).
			Instruction()
		require.NoError(t, err)

		accounts := ix.Accounts()
		assert.Equal(t, mustPDA(t, program.ID, []byte("settings")), accounts[0].PublicKey)
		assert.Equal(t, provider.PublicKey(), accounts[2].PublicKey)
		assert.Equal(t, solanago.SystemProgramID, accounts[3].PublicKey)
		assert.Equal(t, solanago.SysVarRentPubkey, accounts[4].PublicKey)
	})

	t.Run("unresolvable account names the account", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)

		_, err = program.Connect(newTestProvider(t, solana.NewMockRPCClient())).
			Method("initialize").Args(uint64(1), solanago.TokenProgramID).Instruction()
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "account", resErr.Kind)
		assert.Equal(t, "mint", resErr.Name)
	})

	t.Run("signer without provider", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)

		_, err = program.Method("registerUser").Instruction()
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "user", resErr.Name)
	})

	t.Run("unknown instruction", func(t *testing.T) {
		hip, err := ws.Program("Hip", "localnet")
		require.NoError(t, err)

		_, err = hip.Method("claim").Instruction()
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "instruction", resErr.Kind)
	})

	t.Run("arguments to a no-argument instruction", func(t *testing.T) {
		hip, err := ws.Program("Hip", "localnet")
		require.NoError(t, err)

		_, err = hip.Method("initialize").Args(1).Instruction()
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "arg", resErr.Kind)
	})
}

func TestMethodBuilderRPC(t *testing.T) {
	ws := loadTestWorkspace(t)
	hip, err := ws.Program("Hip", "localnet")
	require.NoError(t, err)

	t.Run("returns the transaction signature", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		provider := newTestProvider(t, mock)

		sig, err := hip.Connect(provider).Method("initialize").RPC(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, sig)

		sent := mock.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, sent[0].Signatures[0].String(), sig)
		assert.Contains(t, sent[0].Message.AccountKeys, hip.ID)
	})

	t.Run("no provider fails before any rpc", func(t *testing.T) {
		_, err := hip.Method("initialize").RPC(context.Background())
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "provider", resErr.Kind)
	})

	t.Run("resolution failure makes no rpc calls", func(t *testing.T) {
		mock := solana.NewMockRPCClient()
		_, err := hip.Connect(newTestProvider(t, mock)).Method("doesNotExist").RPC(context.Background())
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Zero(t, mock.TotalCalls())
	})

	t.Run("extra signers co-sign the transaction", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)
		mock := solana.NewMockRPCClient()
		provider := newTestProvider(t, mock)

		authority, err := solanago.NewRandomPrivateKey()
		require.NoError(t, err)
		mint := solanago.NewWallet().PublicKey()

		conf, err := program.Connect(provider).
			Method("initialize").
			Args(uint64(10), solanago.SystemProgramID.String()).
			Accounts(map[string]solanago.PublicKey{"mint": mint, "authority": authority.PublicKey()}).
			Signers(authority).
			Send(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), conf.Slot)

		sent := mock.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, uint8(2), sent[0].Message.Header.NumRequiredSignatures)
		require.Len(t, sent[0].Signatures, 2)
		assert.Equal(t, sent[0].Signatures[0].String(), conf.Signature)
	})

	t.Run("missing signer fails before submission", func(t *testing.T) {
		program, err := ws.Program("DailyClaim", "localnet")
		require.NoError(t, err)
		mock := solana.NewMockRPCClient()

		_, err = program.Connect(newTestProvider(t, mock)).
			Method("initialize").
			Args(uint64(10), solanago.SystemProgramID.String()).
			Accounts(map[string]solanago.PublicKey{
				"mint":      solanago.NewWallet().PublicKey(),
				"authority": solanago.NewWallet().PublicKey(),
			}).
			Send(context.Background())

		var rpcErr *solana.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, "signTransaction", rpcErr.Method)
		assert.Zero(t, mock.Calls("SendTransactionWithOpts"))
	})
}
