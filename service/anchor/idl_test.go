package anchor

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readIDL(t *testing.T, name string) *IDL {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "workspace", "target", "idl", name))
	require.NoError(t, err)
	idl, err := ParseIDL(data)
	require.NoError(t, err)
	return idl
}

func TestInstructionDiscriminator(t *testing.T) {
	sum := sha256.Sum256([]byte("global:initialize"))
	got := InstructionDiscriminator("initialize")
	assert.Equal(t, sum[:8], got[:])
	assert.Equal(t, [8]byte{175, 175, 109, 31, 13, 152, 155, 237}, got)

	// camelCase names hash as their snake_case form.
	assert.Equal(t, InstructionDiscriminator("register_user"), InstructionDiscriminator("registerUser"))
}

func TestParseIDL(t *testing.T) {
	t.Run("scaffold program", func(t *testing.T) {
		idl := readIDL(t, "hip.json")
		assert.Equal(t, "hip", idl.Name)
		assert.Equal(t, "0.1.0", idl.Version)
		assert.Equal(t, "4DJBep6Jm34REZUnjr1NjEZiwqzm2pS1cjpiejvG2iUF", idl.Address)

		ix, ok := idl.Instruction("initialize")
		require.True(t, ok)
		assert.Equal(t, InstructionDiscriminator("initialize"), ix.Discriminator)
		assert.Empty(t, ix.Accounts)
		assert.Empty(t, ix.Args)
	})

	t.Run("current format with pdas", func(t *testing.T) {
		idl := readIDL(t, "daily_claim.json")
		ix, ok := idl.Instruction("registerUser")
		require.True(t, ok)
		assert.Equal(t, [8]byte{2, 241, 150, 223, 99, 214, 116, 97}, ix.Discriminator)
		require.Len(t, ix.Accounts, 5)

		userState := ix.Accounts[1]
		assert.Equal(t, "user_state", userState.Name)
		assert.True(t, userState.Writable)
		require.NotNil(t, userState.PDA)
		require.Len(t, userState.PDA.Seeds, 2)
		assert.Equal(t, IDLSeed{Kind: "const", Value: []byte("user")}, userState.PDA.Seeds[0])
		assert.Equal(t, IDLSeed{Kind: "account", Path: "user"}, userState.PDA.Seeds[1])

		user := ix.Accounts[2]
		assert.True(t, user.Signer)
		assert.Equal(t, "11111111111111111111111111111111", ix.Accounts[3].Address)

		init, ok := idl.Instruction("initialize")
		require.True(t, ok)
		assert.Equal(t, []IDLArg{{Name: "daily_amount", Type: "u64"}, {Name: "gatekeeper_network", Type: "pubkey"}}, init.Args)
	})

	t.Run("legacy format", func(t *testing.T) {
		idl := readIDL(t, "legacy.json")
		assert.Equal(t, "legacy", idl.Name)
		assert.Equal(t, "3ArwtqNnwiUys3GmGub1NUrb4sjVbRhKQq2pKVLiFhtB", idl.Address)

		ix, ok := idl.Instruction("initialize")
		require.True(t, ok)
		assert.Equal(t, InstructionDiscriminator("initialize"), ix.Discriminator)
		assert.Equal(t, "pubkey", ix.Args[1].Type)

		settings := ix.Accounts[0]
		assert.True(t, settings.Writable)
		assert.False(t, settings.Signer)
		require.NotNil(t, settings.PDA)
		assert.Equal(t, []byte("settings"), settings.PDA.Seeds[0].Value)
		assert.True(t, ix.Accounts[2].Signer)
	})

	t.Run("nested account groups are flattened", func(t *testing.T) {
		idl := readIDL(t, "legacy.json")
		ix, ok := idl.Instruction("register_user")
		require.True(t, ok)
		require.Len(t, ix.Accounts, 3)
		assert.Equal(t, "settings", ix.Accounts[0].Name)
		assert.Equal(t, "user", ix.Accounts[1].Name)
		assert.Equal(t, "systemProgram", ix.Accounts[2].Name)
		assert.Equal(t, InstructionDiscriminator("register_user"), ix.Discriminator)
	})

	t.Run("rejects malformed documents", func(t *testing.T) {
		_, err := ParseIDL([]byte("{not json"))
		assert.Error(t, err)

		_, err = ParseIDL([]byte(`{"instructions":[{"name":"x","discriminator":[1,2,3]}]}`))
		assert.ErrorContains(t, err, "8 bytes")

		_, err = ParseIDL([]byte(`{"instructions":[{"name":"x","discriminator":[1,2,3,4,5,6,7,256]}]}`))
		assert.ErrorContains(t, err, "out of range")
	})

	t.Run("unknown instruction", func(t *testing.T) {
		idl := readIDL(t, "hip.json")
		_, ok := idl.Instruction("claim")
		assert.False(t, ok)
	})
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Hip":           "hip",
		"hip":           "hip",
		"registerUser":  "register_user",
		"register_user": "register_user",
		"DailyClaim":    "daily_claim",
		"my-program":    "my_program",
		"HTTPServer":    "http_server",
		"mintV2":        "mint_v2",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}
