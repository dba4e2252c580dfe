package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type SwapState uint8

const (
	SwapStateProved    SwapState = 1
	SwapStateCompleted SwapState = 2
)

func (s SwapState) String() string {
	switch s {
	case SwapStateProved:
		return "proved"
	case SwapStateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type ProposedSwap struct {
	SwapIndex                uint64
	AggregateVaultCommitment [32]byte
	ProposedBlockLeaf        BlockLeaf
	LiquidityUnlockTimestamp uint64
	SpecifiedPayoutAddress   common.Address
	TotalSwapFee             uint256.Int
	TotalSwapAmount          uint256.Int
	State                    SwapState
}

// Overwritable reports whether a new swap may take this slot.
func (s *ProposedSwap) Overwritable() bool {
	return s.State == SwapStateCompleted
}

func (s *ProposedSwap) Hash() ([32]byte, error) {
	return HashSwap(s)
}
