package anchor

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// IDL is the subset of an Anchor interface description the client needs to
// build instructions. Both the 0.30+ layout and the legacy layout decode into
// it; see ParseIDL.
type IDL struct {
	Address      string
	Name         string
	Version      string
	Instructions []IDLInstruction
}

// IDLInstruction describes one callable entry point.
type IDLInstruction struct {
	Name          string
	Discriminator [8]byte
	Accounts      []IDLAccount
	Args          []IDLArg
}

// IDLAccount describes one account an instruction expects.
type IDLAccount struct {
	Name     string
	Writable bool
	Signer   bool
	Optional bool
	Address  string
	PDA      *IDLPDA
}

// IDLPDA describes how a program-derived address is computed.
type IDLPDA struct {
	Seeds []IDLSeed
	// Program overrides the deriving program; empty means the program itself.
	Program *IDLSeed
}

// IDLSeed is one PDA seed. Kind is "const", "account" or "arg".
type IDLSeed struct {
	Kind  string
	Value []byte
	Path  string
}

// IDLArg is one instruction argument with its type rendered as a string
// ("u64", "pubkey", "string", ...). Composite types keep their JSON form.
type IDLArg struct {
	Name string
	Type string
}

// Instruction returns the instruction with the given name. Names are matched
// after normalising to snake_case so "initialize", "registerUser" and
// "register_user" all work.
func (idl *IDL) Instruction(name string) (*IDLInstruction, bool) {
	want := ToSnakeCase(name)
	for i := range idl.Instructions {
		if ToSnakeCase(idl.Instructions[i].Name) == want {
			return &idl.Instructions[i], true
		}
	}
	return nil, false
}

// InstructionDiscriminator returns the 8-byte Anchor sighash for a global
// instruction: sha256("global:<snake_case_name>")[:8].
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + ToSnakeCase(name)))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

type rawIDL struct {
	Address  string `json:"address"`
	Version  string `json:"version"`
	Name     string `json:"name"`
	Metadata struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Address string `json:"address"`
	} `json:"metadata"`
	Instructions []rawInstruction `json:"instructions"`
}

type rawInstruction struct {
	Name     string            `json:"name"`
	RawDisc  []int             `json:"discriminator"`
	Accounts []json.RawMessage `json:"accounts"`
	Args     []rawArg          `json:"args"`
}

type rawAccount struct {
	Name     string            `json:"name"`
	Writable bool              `json:"writable"`
	Signer   bool              `json:"signer"`
	Optional bool              `json:"optional"`
	IsMut    bool              `json:"isMut"`
	IsSigner bool              `json:"isSigner"`
	IsOpt    bool              `json:"isOptional"`
	Address  string            `json:"address"`
	PDA      *rawPDA           `json:"pda"`
	Accounts []json.RawMessage `json:"accounts"` // nested account groups
}

type rawPDA struct {
	Seeds   []rawSeed `json:"seeds"`
	Program *rawSeed  `json:"program"`
}

type rawSeed struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
	Path  string          `json:"path"`
}

type rawArg struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// ParseIDL decodes an Anchor IDL document.
func ParseIDL(data []byte) (*IDL, error) {
	var raw rawIDL
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode IDL: %w", err)
	}

	idl := &IDL{
		Address: raw.Address,
		Name:    raw.Metadata.Name,
		Version: raw.Metadata.Version,
	}
	if idl.Address == "" {
		idl.Address = raw.Metadata.Address
	}
	if idl.Name == "" {
		idl.Name = raw.Name
	}
	if idl.Version == "" {
		idl.Version = raw.Version
	}

	for _, ri := range raw.Instructions {
		ix := IDLInstruction{Name: ri.Name}

		switch len(ri.RawDisc) {
		case 0:
			ix.Discriminator = InstructionDiscriminator(ri.Name)
		case 8:
			for i, b := range ri.RawDisc {
				if b < 0 || b > 255 {
					return nil, fmt.Errorf("instruction %s: discriminator byte out of range: %d", ri.Name, b)
				}
				ix.Discriminator[i] = byte(b)
			}
		default:
			return nil, fmt.Errorf("instruction %s: discriminator must be 8 bytes, got %d", ri.Name, len(ri.RawDisc))
		}

		accounts, err := flattenAccounts(ri.Accounts)
		if err != nil {
			return nil, fmt.Errorf("instruction %s: %w", ri.Name, err)
		}
		ix.Accounts = accounts

		for _, ra := range ri.Args {
			ix.Args = append(ix.Args, IDLArg{Name: ra.Name, Type: typeString(ra.Type)})
		}

		idl.Instructions = append(idl.Instructions, ix)
	}

	return idl, nil
}

// flattenAccounts expands nested account groups in declaration order, which
// is the order Anchor expects them in the instruction.
func flattenAccounts(msgs []json.RawMessage) ([]IDLAccount, error) {
	var out []IDLAccount
	for _, msg := range msgs {
		var ra rawAccount
		if err := json.Unmarshal(msg, &ra); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}

		if len(ra.Accounts) > 0 {
			nested, err := flattenAccounts(ra.Accounts)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		acc := IDLAccount{
			Name:     ra.Name,
			Writable: ra.Writable || ra.IsMut,
			Signer:   ra.Signer || ra.IsSigner,
			Optional: ra.Optional || ra.IsOpt,
			Address:  ra.Address,
		}
		if ra.PDA != nil {
			pda := &IDLPDA{}
			for _, rs := range ra.PDA.Seeds {
				seed, err := convertSeed(rs)
				if err != nil {
					return nil, fmt.Errorf("account %s: %w", ra.Name, err)
				}
				pda.Seeds = append(pda.Seeds, seed)
			}
			if ra.PDA.Program != nil {
				seed, err := convertSeed(*ra.PDA.Program)
				if err != nil {
					return nil, fmt.Errorf("account %s program: %w", ra.Name, err)
				}
				pda.Program = &seed
			}
			acc.PDA = pda
		}
		out = append(out, acc)
	}
	return out, nil
}

func convertSeed(rs rawSeed) (IDLSeed, error) {
	seed := IDLSeed{Kind: rs.Kind, Path: rs.Path}
	if rs.Kind != "const" {
		return seed, nil
	}

	var ints []int
	if err := json.Unmarshal(rs.Value, &ints); err == nil {
		seed.Value = make([]byte, len(ints))
		for i, b := range ints {
			if b < 0 || b > 255 {
				return seed, fmt.Errorf("const seed byte out of range: %d", b)
			}
			seed.Value[i] = byte(b)
		}
		return seed, nil
	}

	var s string
	if err := json.Unmarshal(rs.Value, &s); err != nil {
		return seed, fmt.Errorf("unsupported const seed value %s", string(rs.Value))
	}
	seed.Value = []byte(s)
	return seed, nil
}

func typeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// Legacy IDLs spell it publicKey.
		if s == "publicKey" {
			return "pubkey"
		}
		return s
	}
	return string(raw)
}

// ToSnakeCase converts program and instruction names the way Anchor does
// when generating IDL and workspace keys: "Hip" -> "hip",
// "registerUser" -> "register_user", "DailyClaim" -> "daily_claim".
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && runes[i-1] != '-' &&
				(unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
					(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
