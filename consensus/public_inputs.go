package consensus

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PublicInputs is the record a swap proof is verified against.
type PublicInputs struct {
	ProposedBlockHash        [32]byte
	AggregateVaultCommitment [32]byte
	PriorMMRRoot             [32]byte
	NewMMRRoot               [32]byte
	CompressedLeavesHash     [32]byte
	CumulativeChainwork      uint256.Int
	SpecifiedPayoutAddress   common.Address
	BlockHeight              uint32
	ConfirmationBlocks       uint32
	TotalSwapFee             uint256.Int
	TotalSwapAmount          uint256.Int
}

func (p *PublicInputs) Encode() ([]byte, error) {
	return abiPack(publicInputArgs, "public inputs",
		p.ProposedBlockHash,
		p.AggregateVaultCommitment,
		p.PriorMMRRoot,
		p.NewMMRRoot,
		p.CompressedLeavesHash,
		p.CumulativeChainwork.ToBig(),
		p.SpecifiedPayoutAddress,
		p.BlockHeight,
		p.ConfirmationBlocks,
		p.TotalSwapFee.ToBig(),
		p.TotalSwapAmount.ToBig(),
	)
}
