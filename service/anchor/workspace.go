package anchor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// ManifestFile is the workspace manifest Anchor writes at the project root.
const ManifestFile = "Anchor.toml"

// ErrNoWorkspace is returned by FindWorkspace when no manifest exists in the
// directory or any of its parents.
var ErrNoWorkspace = errors.New("no Anchor.toml found")

// Manifest is the subset of Anchor.toml the client reads.
type Manifest struct {
	Provider struct {
		Cluster string `toml:"cluster"`
		Wallet  string `toml:"wallet"`
	} `toml:"provider"`
	// Programs maps cluster name -> program name -> program ID.
	Programs map[string]map[string]string `toml:"programs"`
	Scripts  map[string]string            `toml:"scripts"`
}

// Workspace is a loaded Anchor project: its manifest and the location of
// generated IDL files. It is read-only once loaded.
type Workspace struct {
	Root     string
	Manifest Manifest
	logger   *slog.Logger
}

// FindWorkspace walks up from dir to the first directory containing
// Anchor.toml.
func FindWorkspace(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(abs, ManifestFile)); err == nil {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w in %s or any parent directory", ErrNoWorkspace, dir)
		}
		abs = parent
	}
}

// LoadWorkspace reads Anchor.toml from root and loads root/.env into the
// process environment. Variables that are already set are left untouched.
func LoadWorkspace(root string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(root, ManifestFile)
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	envPath := filepath.Join(root, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		logger.Debug("loaded workspace env file", "path", envPath)
	}

	return &Workspace{Root: root, Manifest: m, logger: logger}, nil
}

// DefaultCluster returns the [provider] cluster from Anchor.toml.
func (w *Workspace) DefaultCluster() string {
	return w.Manifest.Provider.Cluster
}

// DefaultWallet returns the [provider] wallet from Anchor.toml.
func (w *Workspace) DefaultWallet() string {
	return w.Manifest.Provider.Wallet
}

// IDLPath returns where `anchor build` writes the IDL for a program.
func (w *Workspace) IDLPath(name string) string {
	return filepath.Join(w.Root, "target", "idl", ToSnakeCase(name)+".json")
}

// ProgramNames lists the programs that have a generated IDL.
func (w *Workspace) ProgramNames() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.Root, "target", "idl", "*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	return names, nil
}

// Program resolves a program handle by name. cluster selects the
// [programs.<cluster>] table; the IDL address is used when the manifest has
// no entry. No network traffic happens here.
func (w *Workspace) Program(name, cluster string) (*Program, error) {
	snake := ToSnakeCase(name)

	data, err := os.ReadFile(w.IDLPath(name))
	if err != nil {
		return nil, &ResolutionError{Program: name, Kind: "idl", Err: err}
	}
	idl, err := ParseIDL(data)
	if err != nil {
		return nil, &ResolutionError{Program: name, Kind: "idl", Err: err}
	}

	addr := w.programAddress(snake, cluster)
	if addr == "" {
		addr = idl.Address
	}
	if addr == "" {
		return nil, &ResolutionError{
			Program: name,
			Kind:    "program",
			Err:     fmt.Errorf("no program id in [programs.%s] or the IDL", clusterKey(cluster)),
		}
	}
	id, err := solanago.PublicKeyFromBase58(addr)
	if err != nil {
		return nil, &ResolutionError{Program: name, Kind: "program", Err: fmt.Errorf("invalid program id %q: %w", addr, err)}
	}

	w.logger.Debug("resolved program",
		"program", name,
		"program_id", id.String(),
		"instructions", len(idl.Instructions),
	)
	return &Program{Name: name, ID: id, IDL: idl}, nil
}

func (w *Workspace) programAddress(snake, cluster string) string {
	progs := w.Manifest.Programs[clusterKey(cluster)]
	if addr, ok := progs[snake]; ok {
		return addr
	}
	// Anchor.toml keys are usually snake_case but not always.
	for k, v := range progs {
		if ToSnakeCase(k) == snake {
			return v
		}
	}
	return ""
}

// clusterKey maps a cluster moniker or URL onto the [programs.*] key Anchor
// uses for it.
func clusterKey(cluster string) string {
	c := strings.ToLower(strings.TrimSpace(cluster))
	switch {
	case c == "", c == "localhost", strings.Contains(c, "127.0.0.1"), strings.Contains(c, "localhost"):
		return "localnet"
	case strings.Contains(c, "devnet"):
		return "devnet"
	case strings.Contains(c, "testnet"):
		return "testnet"
	case strings.Contains(c, "mainnet"):
		return "mainnet"
	}
	return c
}
