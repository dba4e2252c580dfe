package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/shanmukanaks/protocol/consensus"
)

// TokenLedger is the fungible token the exchange custodies. Transfer spends
// the exchange's own balance; TransferFrom spends an allowance granted to it.
type TokenLedger interface {
	Transfer(to common.Address, amount *uint256.Int) bool
	TransferFrom(from, to common.Address, amount *uint256.Int) bool
}

// ProofVerifier returns nil when proof is accepted for publicInputs.
type ProofVerifier interface {
	Verify(vkey [32]byte, publicInputs []byte, proof []byte) error
}

// LightClient is the Bitcoin header accumulator swaps are proven against.
type LightClient interface {
	UpdateRoot(prior, next [32]byte) error
	ProveBlockInclusion(leaf consensus.BlockLeaf, proof consensus.InclusionProof) bool
}

// Notifier receives the post-mutation snapshot of every vault and swap a
// committed operation touched.
type Notifier interface {
	VaultUpdated(ctx context.Context, v consensus.DepositVault) error
	SwapUpdated(ctx context.Context, s consensus.ProposedSwap) error
}

// Observer receives operation outcomes and ledger gauges.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveLedger(vaults, swaps uint64, fees *uint256.Int)
}

const (
	OpDeposit          = "deposit"
	OpDepositOverwrite = "deposit_overwrite"
	OpWithdraw         = "withdraw"
	OpSubmitProof      = "submit_swap_proof"
	OpSubmitOverwrite  = "submit_swap_proof_overwrite"
	OpRelease          = "release_liquidity"
	OpPayoutFees       = "payout_fees"
)
