package solana

import (
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// Confirmation describes a submitted transaction once it reached the
// requested commitment.
type Confirmation struct {
	Signature string
	Slot      uint64
	Status    rpc.ConfirmationStatusType
	Elapsed   time.Duration
}

// SendOptions controls how a transaction is submitted.
type SendOptions struct {
	SkipPreflight bool
	// PreflightCommitment defaults to the provider commitment when empty.
	PreflightCommitment rpc.CommitmentType
}

// commitmentRank orders commitment levels so a status can be compared with
// the level the caller asked for.
func commitmentRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func commitmentTarget(c rpc.CommitmentType) rpc.ConfirmationStatusType {
	switch c {
	case rpc.CommitmentProcessed:
		return rpc.ConfirmationStatusProcessed
	case rpc.CommitmentFinalized:
		return rpc.ConfirmationStatusFinalized
	default:
		return rpc.ConfirmationStatusConfirmed
	}
}
