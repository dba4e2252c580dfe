package exchange

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

// Settlement is the post-release state of a swap and the vaults it consumed.
type Settlement struct {
	Swap   consensus.ProposedSwap
	Vaults []consensus.DepositVault
}

// ReleaseLiquidity settles a proved swap once its challenge period has
// passed and its block is still on the light client's canonical chain.
// utilized must be the exact vault set the swap was proven over.
func (e *Exchange) ReleaseLiquidity(ctx context.Context, swap consensus.ProposedSwap, inclusion consensus.InclusionProof, utilized []consensus.DepositVault) (Settlement, error) {
	var out Settlement
	err := e.run(ctx, OpRelease, func() (changes, logrus.Fields, error) {
		err := e.store.Update(func(tx StoreTx) error {
			if err := validateSwap(tx, &swap); err != nil {
				return err
			}
			if swap.State != consensus.SwapStateProved {
				return consensus.NewError(consensus.ERR_SWAP_NOT_PROVED, "swap %d is %s", swap.SwapIndex, swap.State)
			}
			if now := e.nowUnix(); now < swap.LiquidityUnlockTimestamp {
				return consensus.NewError(consensus.ERR_STILL_IN_CHALLENGE, "swap %d unlocks in %s", swap.SwapIndex,
					time.Duration(swap.LiquidityUnlockTimestamp-now)*time.Second)
			}
			if !e.lightClient.ProveBlockInclusion(swap.ProposedBlockLeaf, inclusion) {
				return consensus.NewError(consensus.ERR_INVALID_INCLUSION_PROOF, "block %s at height %d", hexHash(swap.ProposedBlockLeaf.BlockHash), swap.ProposedBlockLeaf.Height)
			}
			for i := range utilized {
				if err := validateVault(tx, &utilized[i]); err != nil {
					return err
				}
			}
			aggregate, err := consensus.AggregateVaultCommitment(utilized)
			if err != nil {
				return err
			}
			if aggregate != swap.AggregateVaultCommitment {
				return consensus.NewError(consensus.ERR_INVALID_VAULT_AGGREGATE, "swap %d was proven over a different vault set", swap.SwapIndex)
			}

			drained := make([]consensus.DepositVault, 0, len(utilized))
			for i := range utilized {
				d := utilized[i].Drained()
				if err := putVault(tx, &d); err != nil {
					return err
				}
				drained = append(drained, d)
			}
			completed := swap
			completed.State = consensus.SwapStateCompleted
			if err := putSwap(tx, &completed); err != nil {
				return err
			}
			fees, err := tx.AccumulatedFees()
			if err != nil {
				return err
			}
			if _, overflow := fees.AddOverflow(&fees, &swap.TotalSwapFee); overflow {
				return consensus.NewError(consensus.ERR_ARITHMETIC_OVERFLOW, "fee accumulator overflow")
			}
			if err := tx.SetAccumulatedFees(fees); err != nil {
				return err
			}
			if !e.token.Transfer(swap.SpecifiedPayoutAddress, &swap.TotalSwapAmount) {
				return transferFailed("swap payout", swap.SpecifiedPayoutAddress, &swap.TotalSwapAmount)
			}
			out = Settlement{Swap: completed, Vaults: drained}
			return nil
		})
		fields := logrus.Fields{
			"swap_index": swap.SwapIndex,
			"vaults":     len(utilized),
			"payout":     swap.SpecifiedPayoutAddress.Hex(),
			"amount":     swap.TotalSwapAmount.Dec(),
			"fee":        swap.TotalSwapFee.Dec(),
		}
		return changes{vaults: out.Vaults, swaps: []consensus.ProposedSwap{out.Swap}}, fields, err
	})
	if err != nil {
		return Settlement{}, err
	}
	return out, nil
}
