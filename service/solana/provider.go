package solana

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brojonat/hip/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// EnvProviderURL and EnvWallet are the variables the Anchor toolchain
	// exports before running workspace tests.
	EnvProviderURL = "ANCHOR_PROVIDER_URL"
	EnvWallet      = "ANCHOR_WALLET"
	EnvCommitment  = "ANCHOR_COMMITMENT"

	DefaultConfirmTimeout = 30 * time.Second
)

// Provider bundles a cluster connection with the identity that pays for and
// signs submitted transactions. It is read-only once built.
type Provider struct {
	URL            string
	Client         *Client
	Wallet         solana.PrivateKey
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	SkipPreflight  bool
	logger         *slog.Logger
}

// ProviderOptions supplies fallbacks and collaborators for ProviderFromEnv.
type ProviderOptions struct {
	// DefaultCluster and DefaultWallet are used when the environment does
	// not set ANCHOR_PROVIDER_URL / ANCHOR_WALLET. Typically taken from the
	// workspace Anchor.toml [provider] table.
	DefaultCluster string
	DefaultWallet  string
	ConfirmTimeout time.Duration
	SkipPreflight  bool
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	// NewRPC builds the RPC client for a URL. Defaults to NewRPCClient.
	NewRPC func(rpcURL string) RPCClient
}

// ProviderFromEnv builds a Provider from the ambient environment.
func ProviderFromEnv(opts ProviderOptions) (*Provider, error) {
	cluster := os.Getenv(EnvProviderURL)
	if cluster == "" {
		cluster = opts.DefaultCluster
	}
	if cluster == "" {
		return nil, fmt.Errorf("%s is not set and no default cluster is configured", EnvProviderURL)
	}

	walletPath := os.Getenv(EnvWallet)
	if walletPath == "" {
		walletPath = opts.DefaultWallet
	}
	if walletPath == "" {
		return nil, fmt.Errorf("%s is not set and no default wallet is configured", EnvWallet)
	}

	commitment, err := ParseCommitment(os.Getenv(EnvCommitment))
	if err != nil {
		return nil, err
	}

	rpcURL, err := ResolveClusterURL(cluster)
	if err != nil {
		return nil, err
	}

	path, err := ExpandHome(walletPath)
	if err != nil {
		return nil, err
	}
	wallet, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet keypair %s: %w", path, err)
	}

	newRPC := opts.NewRPC
	if newRPC == nil {
		newRPC = NewRPCClient
	}

	p := NewProvider(newRPC(rpcURL), rpcURL, wallet, opts.Metrics, opts.Logger)
	p.Commitment = commitment
	if opts.ConfirmTimeout > 0 {
		p.ConfirmTimeout = opts.ConfirmTimeout
	}
	p.SkipPreflight = opts.SkipPreflight
	return p, nil
}

// NewProvider builds a Provider around an existing RPC client.
func NewProvider(rpcClient RPCClient, rpcURL string, wallet solana.PrivateKey, m *metrics.Metrics, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := EndpointLabel(rpcURL)
	return &Provider{
		URL:            rpcURL,
		Client:         NewClient(rpcClient, endpoint, m, logger.With("component", "solana_client")),
		Wallet:         wallet,
		Commitment:     rpc.CommitmentConfirmed,
		ConfirmTimeout: DefaultConfirmTimeout,
		logger:         logger,
	}
}

// PublicKey returns the provider wallet address.
func (p *Provider) PublicKey() solana.PublicKey {
	return p.Wallet.PublicKey()
}

// SendAndConfirm wraps the instructions in a transaction paid for by the
// provider wallet, signs it with the wallet and any extra signers, submits
// it, and waits for the provider commitment.
func (p *Provider) SendAndConfirm(
	ctx context.Context,
	instructions []solana.Instruction,
	extraSigners ...solana.PrivateKey,
) (*Confirmation, error) {
	blockhash, err := p.Client.LatestBlockhash(ctx, p.Commitment)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(p.PublicKey()))
	if err != nil {
		return nil, &RPCError{Method: "buildTransaction", Err: err}
	}

	signers := append([]solana.PrivateKey{p.Wallet}, extraSigners...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return nil, &RPCError{Method: "signTransaction", Err: err}
	}

	sig, err := p.Client.SendTransaction(ctx, tx, SendOptions{
		SkipPreflight:       p.SkipPreflight,
		PreflightCommitment: p.Commitment,
	})
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "awaiting confirmation",
		"signature", sig.String(),
		"commitment", p.Commitment,
		"timeout", p.ConfirmTimeout,
	)
	return p.Client.ConfirmTransaction(ctx, sig, p.Commitment, p.ConfirmTimeout)
}

// ResolveClusterURL maps Anchor cluster monikers to RPC URLs. Anything that
// parses as an http(s) URL is returned unchanged.
func ResolveClusterURL(cluster string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cluster)) {
	case "localnet", "localhost":
		return rpc.LocalNet_RPC, nil
	case "devnet":
		return rpc.DevNet_RPC, nil
	case "testnet":
		return rpc.TestNet_RPC, nil
	case "mainnet", "mainnet-beta":
		return rpc.MainNetBeta_RPC, nil
	}

	u, err := url.Parse(cluster)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid cluster %q: expected a cluster name or an http(s) URL", cluster)
	}
	return cluster, nil
}

// ParseCommitment parses a commitment level; empty means confirmed.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid commitment %q: expected processed, confirmed or finalized", s)
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// EndpointLabel extracts a short identifier from an RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "http://127.0.0.1:8899" -> "localnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()
	switch {
	case host == "127.0.0.1" || host == "localhost" || host == "0.0.0.0":
		return "localnet"
	case strings.Contains(host, "helius"):
		return "helius"
	case strings.Contains(host, "quiknode") || strings.Contains(host, "quicknode"):
		return "quiknode"
	case strings.Contains(host, "alchemy"):
		return "alchemy"
	case strings.Contains(host, "mainnet"):
		return "mainnet"
	case strings.Contains(host, "devnet"):
		return "devnet"
	case strings.Contains(host, "testnet"):
		return "testnet"
	case host == "":
		return "unknown"
	}
	return host
}
