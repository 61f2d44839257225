package solana

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient is an in-memory RPCClient for tests. Configure it through the
// exported fields before use. The zero value answers every probe but never
// confirms a transaction; NewMockRPCClient confirms everything.
type MockRPCClient struct {
	// HealthErrs are returned one per call before HealthErr applies.
	HealthErrs []error
	HealthErr  error
	VersionErr error
	Blockhash  solana.Hash
	// BlockhashErrs are returned one per call, then calls succeed.
	BlockhashErrs []error
	SendErr       error
	SendSignature *solana.Signature
	// Statuses are returned one per call; the last one repeats.
	Statuses  []*rpc.SignatureStatusesResult
	StatusErr error
	Lamports  uint64

	mu    sync.Mutex
	calls map[string]int
	sent  []*solana.Transaction
}

// NewMockRPCClient returns a mock of a healthy cluster that confirms every
// transaction at slot 1.
func NewMockRPCClient() *MockRPCClient {
	return &MockRPCClient{
		Blockhash: solana.MustHashFromBase58("4uhcVJyU9pJkvQyS88uRDiswHXSCkY3zQawwpjk2NsNY"),
		Statuses: []*rpc.SignatureStatusesResult{
			{Slot: 1, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		},
		Lamports: 5_000_000_000,
	}
}

func (m *MockRPCClient) called(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how many times method was invoked.
func (m *MockRPCClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of RPC calls of any kind.
func (m *MockRPCClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Sent returns the transactions passed to SendTransactionWithOpts.
func (m *MockRPCClient) Sent() []*solana.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*solana.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockRPCClient) GetHealth(ctx context.Context) (string, error) {
	m.called("GetHealth")
	m.mu.Lock()
	if len(m.HealthErrs) > 0 {
		err := m.HealthErrs[0]
		m.HealthErrs = m.HealthErrs[1:]
		m.mu.Unlock()
		if err != nil {
			return "", err
		}
		return "ok", nil
	}
	m.mu.Unlock()
	if m.HealthErr != nil {
		return "", m.HealthErr
	}
	return "ok", nil
}

func (m *MockRPCClient) GetVersion(ctx context.Context) (*rpc.GetVersionResult, error) {
	m.called("GetVersion")
	if m.VersionErr != nil {
		return nil, m.VersionErr
	}
	return &rpc.GetVersionResult{SolanaCore: "1.18.26"}, nil
}

func (m *MockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.called("GetLatestBlockhash")
	m.mu.Lock()
	var err error
	if len(m.BlockhashErrs) > 0 {
		err = m.BlockhashErrs[0]
		m.BlockhashErrs = m.BlockhashErrs[1:]
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.Blockhash, LastValidBlockHeight: 100},
	}, nil
}

func (m *MockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.called("SendTransactionWithOpts")
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	if m.SendErr != nil {
		return solana.Signature{}, m.SendErr
	}
	if m.SendSignature != nil {
		return *m.SendSignature, nil
	}
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{}, nil
}

func (m *MockRPCClient) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.called("GetSignatureStatuses")
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	m.mu.Lock()
	var st *rpc.SignatureStatusesResult
	if len(m.Statuses) > 0 {
		st = m.Statuses[0]
		if len(m.Statuses) > 1 {
			m.Statuses = m.Statuses[1:]
		}
	}
	m.mu.Unlock()
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{st}}, nil
}

func (m *MockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	m.called("GetBalance")
	return &rpc.GetBalanceResult{Value: m.Lamports}, nil
}
