package exchange

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

type SwapProofParams struct {
	BlockHash        [32]byte
	BlockHeight      uint32
	Chainwork        uint256.Int
	Vaults           []consensus.DepositVault
	PayoutAddress    common.Address
	PriorMMRRoot     [32]byte
	NewMMRRoot       [32]byte
	TotalSwapFee     uint256.Int
	TotalSwapAmount  uint256.Int
	Proof            []byte
	CompressedLeaves []byte
}

// PublicInputs assembles the record the proof is checked against.
// aggregate must be the commitment of p.Vaults.
func (p *SwapProofParams) PublicInputs(aggregate [32]byte, confirmations uint32) consensus.PublicInputs {
	return consensus.PublicInputs{
		ProposedBlockHash:        p.BlockHash,
		AggregateVaultCommitment: aggregate,
		PriorMMRRoot:             p.PriorMMRRoot,
		NewMMRRoot:               p.NewMMRRoot,
		CompressedLeavesHash:     consensus.CompressedLeavesCommitment(p.CompressedLeaves),
		CumulativeChainwork:      p.Chainwork,
		SpecifiedPayoutAddress:   p.PayoutAddress,
		BlockHeight:              p.BlockHeight,
		ConfirmationBlocks:       confirmations,
		TotalSwapFee:             p.TotalSwapFee,
		TotalSwapAmount:          p.TotalSwapAmount,
	}
}

// SubmitSwapProof records a proven swap over p.Vaults and advances the light
// client root. Funds stay locked until ReleaseLiquidity.
func (e *Exchange) SubmitSwapProof(ctx context.Context, p SwapProofParams) (consensus.ProposedSwap, error) {
	return e.runSubmit(ctx, OpSubmitProof, p, nil)
}

// SubmitSwapProofWithOverwrite is SubmitSwapProof into the slot of a
// completed swap.
func (e *Exchange) SubmitSwapProofWithOverwrite(ctx context.Context, p SwapProofParams, existing consensus.ProposedSwap) (consensus.ProposedSwap, error) {
	return e.runSubmit(ctx, OpSubmitOverwrite, p, &existing)
}

func (e *Exchange) runSubmit(ctx context.Context, op string, p SwapProofParams, existing *consensus.ProposedSwap) (consensus.ProposedSwap, error) {
	var s consensus.ProposedSwap
	err := e.run(ctx, op, func() (changes, logrus.Fields, error) {
		var err error
		s, err = e.submitSwapProof(&p, existing)
		return changes{swaps: []consensus.ProposedSwap{s}}, swapProofFields(&p, &s), err
	})
	if err != nil {
		return consensus.ProposedSwap{}, err
	}
	return s, nil
}

func (e *Exchange) submitSwapProof(p *SwapProofParams, existing *consensus.ProposedSwap) (consensus.ProposedSwap, error) {
	var (
		out      consensus.ProposedSwap
		advanced bool
	)
	err := e.store.Update(func(tx StoreTx) error {
		if existing != nil {
			verr := validateSwap(tx, existing)
			if verr != nil && !isInvalidCommitment(verr) {
				return verr
			}
			if verr != nil || !existing.Overwritable() {
				return consensus.NewError(consensus.ERR_OVERWRITE_ONGOING_SWAP, "swap %d is not a completed committed swap", existing.SwapIndex)
			}
		}
		for i := range p.Vaults {
			if err := validateVault(tx, &p.Vaults[i]); err != nil {
				return err
			}
		}
		aggregate, err := consensus.AggregateVaultCommitment(p.Vaults)
		if err != nil {
			return err
		}
		pi := p.PublicInputs(aggregate, e.params.MinConfirmationBlocks)
		encoded, err := pi.Encode()
		if err != nil {
			return err
		}
		if err := e.verifier.Verify(e.vkey, encoded, p.Proof); err != nil {
			return consensus.NewError(consensus.ERR_INVALID_PROOF, "%v", err)
		}

		s := consensus.ProposedSwap{
			AggregateVaultCommitment: aggregate,
			ProposedBlockLeaf: consensus.BlockLeaf{
				BlockHash:           p.BlockHash,
				Height:              p.BlockHeight,
				CumulativeChainwork: p.Chainwork,
			},
			LiquidityUnlockTimestamp: uint64(e.now().Add(e.params.ChallengePeriod).Unix()), // #nosec G115 -- clock is after the unix epoch.
			SpecifiedPayoutAddress:   p.PayoutAddress,
			TotalSwapFee:             p.TotalSwapFee,
			TotalSwapAmount:          p.TotalSwapAmount,
			State:                    consensus.SwapStateProved,
		}
		if existing != nil {
			s.SwapIndex = existing.SwapIndex
			if err := putSwap(tx, &s); err != nil {
				return err
			}
		} else {
			n, err := tx.SwapCommitmentsLen()
			if err != nil {
				return err
			}
			s.SwapIndex = n
			h, err := consensus.HashSwap(&s)
			if err != nil {
				return err
			}
			if _, err := tx.AppendSwapCommitment(h); err != nil {
				return err
			}
		}
		if err := e.lightClient.UpdateRoot(p.PriorMMRRoot, p.NewMMRRoot); err != nil {
			return consensus.NewError(consensus.ERR_ROOT_UPDATE_REJECTED, "%v", err)
		}
		advanced = true
		out = s
		return nil
	})
	if err != nil && advanced {
		// The commit failed after the root moved; put it back.
		if rerr := e.lightClient.UpdateRoot(p.NewMMRRoot, p.PriorMMRRoot); rerr != nil {
			e.log.WithError(rerr).WithField("root", hexHash(p.PriorMMRRoot)).Error("light client root revert failed")
		}
		return consensus.ProposedSwap{}, err
	}
	return out, err
}

func swapProofFields(p *SwapProofParams, s *consensus.ProposedSwap) logrus.Fields {
	f := logrus.Fields{
		"block_hash":   hexHash(p.BlockHash),
		"block_height": p.BlockHeight,
		"vaults":       len(p.Vaults),
		"amount":       p.TotalSwapAmount.Dec(),
	}
	if s.State == consensus.SwapStateProved {
		f["swap_index"] = s.SwapIndex
		f["unlock_at"] = time.Unix(int64(s.LiquidityUnlockTimestamp), 0).UTC() // #nosec G115 -- unix seconds fit int64.
	}
	return f
}
