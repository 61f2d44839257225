package anchor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/brojonat/hip/service/solana"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// Program is a resolved handle on a deployed program. It is safe to share;
// Method returns a fresh builder per call.
type Program struct {
	Name     string
	ID       solanago.PublicKey
	IDL      *IDL
	provider *solana.Provider
}

// Connect returns a copy of the program bound to provider. Builders created
// from the copy resolve signer accounts to the provider wallet and submit
// through the provider client.
func (p *Program) Connect(provider *solana.Provider) *Program {
	cp := *p
	cp.provider = provider
	return &cp
}

// Method starts building a call to the named instruction. Errors, including
// an unknown instruction name, surface from Instruction or RPC.
func (p *Program) Method(name string) *MethodBuilder {
	return &MethodBuilder{program: p, name: name, accounts: map[string]solanago.PublicKey{}}
}

// MethodBuilder collects arguments, account overrides and extra signers for
// one instruction call.
type MethodBuilder struct {
	program  *Program
	name     string
	args     []any
	accounts map[string]solanago.PublicKey
	signers  []solanago.PrivateKey
}

// Args sets the instruction arguments in IDL order.
func (b *MethodBuilder) Args(values ...any) *MethodBuilder {
	b.args = values
	return b
}

// Accounts overrides resolution for the named accounts. Names may be given
// in camelCase or snake_case.
func (b *MethodBuilder) Accounts(accounts map[string]solanago.PublicKey) *MethodBuilder {
	for k, v := range accounts {
		b.accounts[ToSnakeCase(k)] = v
	}
	return b
}

// Signers adds keypairs that must sign besides the provider wallet.
func (b *MethodBuilder) Signers(signers ...solanago.PrivateKey) *MethodBuilder {
	b.signers = append(b.signers, signers...)
	return b
}

func (b *MethodBuilder) resolutionErr(kind, name string, err error) error {
	return &ResolutionError{Program: b.program.Name, Kind: kind, Name: name, Err: err}
}

// Instruction builds the instruction without touching the network.
func (b *MethodBuilder) Instruction() (solanago.Instruction, error) {
	ix, ok := b.program.IDL.Instruction(b.name)
	if !ok {
		return nil, b.resolutionErr("instruction", b.name, fmt.Errorf("not found in IDL"))
	}

	argData, err := EncodeArgs(ix.Args, b.args)
	if err != nil {
		return nil, b.resolutionErr("arg", b.name, err)
	}
	data := make([]byte, 0, len(ix.Discriminator)+len(argData))
	data = append(data, ix.Discriminator[:]...)
	data = append(data, argData...)

	resolved, err := b.resolveAccounts(ix)
	if err != nil {
		return nil, err
	}

	metas := make(solanago.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		metas = append(metas, solanago.NewAccountMeta(resolved[ToSnakeCase(acc.Name)], acc.Writable, acc.Signer))
	}
	return solanago.NewInstruction(b.program.ID, metas, data), nil
}

// RPC builds the instruction, submits it through the bound provider and
// returns the transaction signature once confirmed.
func (b *MethodBuilder) RPC(ctx context.Context) (string, error) {
	conf, err := b.Send(ctx)
	if err != nil {
		return "", err
	}
	return conf.Signature, nil
}

// Send is RPC returning the full confirmation.
func (b *MethodBuilder) Send(ctx context.Context) (*solana.Confirmation, error) {
	if b.program.provider == nil {
		return nil, b.resolutionErr("provider", "", fmt.Errorf("program is not connected to a provider"))
	}
	ix, err := b.Instruction()
	if err != nil {
		return nil, err
	}
	return b.program.provider.SendAndConfirm(ctx, []solanago.Instruction{ix}, b.signers...)
}

// wellKnown covers accounts legacy IDLs name without an address.
var wellKnown = map[string]solanago.PublicKey{
	"system_program":           solanago.SystemProgramID,
	"token_program":            solanago.TokenProgramID,
	"associated_token_program": solanago.SPLAssociatedTokenAccountProgramID,
	"rent":                     solanago.SysVarRentPubkey,
	"clock":                    solanago.SysVarClockPubkey,
}

// resolveAccounts assigns an address to every IDL account. PDA seeds may
// reference accounts declared later, so derivation repeats until no further
// progress is made.
func (b *MethodBuilder) resolveAccounts(ix *IDLInstruction) (map[string]solanago.PublicKey, error) {
	out := make(map[string]solanago.PublicKey, len(ix.Accounts))
	var pending []IDLAccount

	for _, acc := range ix.Accounts {
		key := ToSnakeCase(acc.Name)
		if pk, ok := b.accounts[key]; ok {
			out[key] = pk
			continue
		}
		if acc.Address != "" {
			pk, err := solanago.PublicKeyFromBase58(acc.Address)
			if err != nil {
				return nil, b.resolutionErr("account", acc.Name, fmt.Errorf("invalid address %q: %w", acc.Address, err))
			}
			out[key] = pk
			continue
		}
		if pk, ok := wellKnown[key]; ok {
			out[key] = pk
			continue
		}
		// A PDA can never sign, so signers fall back to the wallet directly.
		if acc.PDA == nil && acc.Signer && b.program.provider != nil {
			out[key] = b.program.provider.PublicKey()
			continue
		}
		pending = append(pending, acc)
	}

	pdaErrs := make(map[string]error)
	for {
		var next []IDLAccount
		for _, acc := range pending {
			if acc.PDA == nil {
				next = append(next, acc)
				continue
			}
			pk, err := b.derivePDA(ix, acc.PDA, out)
			if err != nil {
				pdaErrs[acc.Name] = err
				next = append(next, acc)
				continue
			}
			out[ToSnakeCase(acc.Name)] = pk
		}
		done := len(next) == len(pending)
		pending = next
		if done {
			break
		}
	}

	var unresolved []IDLAccount
	for _, acc := range pending {
		if acc.Optional {
			// Anchor encodes an absent optional account as the program ID.
			out[ToSnakeCase(acc.Name)] = b.program.ID
			continue
		}
		unresolved = append(unresolved, acc)
	}
	// Report plain accounts first; a PDA usually fails because one of them
	// is missing.
	for _, acc := range unresolved {
		if acc.PDA == nil {
			return nil, b.resolutionErr("account", acc.Name, fmt.Errorf("no address, seeds or override given"))
		}
	}
	if len(unresolved) > 0 {
		acc := unresolved[0]
		return nil, b.resolutionErr("account", acc.Name, pdaErrs[acc.Name])
	}
	return out, nil
}

func (b *MethodBuilder) derivePDA(ix *IDLInstruction, pda *IDLPDA, known map[string]solanago.PublicKey) (solanago.PublicKey, error) {
	seeds := make([][]byte, 0, len(pda.Seeds))
	for _, seed := range pda.Seeds {
		v, err := b.seedBytes(ix, seed, known)
		if err != nil {
			return solanago.PublicKey{}, err
		}
		seeds = append(seeds, v)
	}

	programID := b.program.ID
	if pda.Program != nil {
		v, err := b.seedBytes(ix, *pda.Program, known)
		if err != nil {
			return solanago.PublicKey{}, err
		}
		if len(v) != solanago.PublicKeyLength {
			return solanago.PublicKey{}, fmt.Errorf("pda program must be %d bytes, got %d", solanago.PublicKeyLength, len(v))
		}
		programID = solanago.PublicKeyFromBytes(v)
	}

	addr, _, err := solanago.FindProgramAddress(seeds, programID)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("failed to derive address: %w", err)
	}
	return addr, nil
}

func (b *MethodBuilder) seedBytes(ix *IDLInstruction, seed IDLSeed, known map[string]solanago.PublicKey) ([]byte, error) {
	switch seed.Kind {
	case "const":
		return seed.Value, nil
	case "account":
		if strings.Contains(seed.Path, ".") {
			return nil, fmt.Errorf("seed %s reads account data, which is not supported", seed.Path)
		}
		pk, ok := known[ToSnakeCase(seed.Path)]
		if !ok {
			return nil, fmt.Errorf("seed account %s is not resolved", seed.Path)
		}
		return pk.Bytes(), nil
	case "arg":
		return b.argSeed(ix, seed.Path)
	default:
		return nil, fmt.Errorf("unsupported seed kind %q", seed.Kind)
	}
}

// argSeed returns the seed bytes of an instruction argument. Strings and
// byte vectors contribute their raw bytes; everything else its Borsh form.
func (b *MethodBuilder) argSeed(ix *IDLInstruction, path string) ([]byte, error) {
	want := ToSnakeCase(path)
	for i, arg := range ix.Args {
		if ToSnakeCase(arg.Name) != want {
			continue
		}
		if i >= len(b.args) {
			return nil, fmt.Errorf("seed argument %s was not supplied", path)
		}
		v, err := coerceArg(arg.Type, b.args[i])
		if err != nil {
			return nil, fmt.Errorf("seed argument %s: %w", path, err)
		}
		switch x := v.(type) {
		case string:
			return []byte(x), nil
		case []byte:
			return x, nil
		}
		buf := new(bytes.Buffer)
		if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
			return nil, fmt.Errorf("seed argument %s: %w", path, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("seed argument %s is not an instruction argument", path)
}
