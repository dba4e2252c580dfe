package lightclient

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/shanmukanaks/protocol/consensus"
)

// HeaderLookup returns the canonical header at height when it is known.
// Headers below the checkpoint are never known.
type HeaderLookup func(height uint32) (wire.BlockHeader, bool)

// ValidateHeaderChain checks that chain extends parent (at parentHeight):
// every header links to its predecessor, carries the difficulty the network
// requires at its height and satisfies its own proof of work. ancestors
// resolves headers below parent and may be nil.
func ValidateHeaderChain(params *chaincfg.Params, ancestors HeaderLookup, parentHeight uint32, parent wire.BlockHeader, chain []wire.BlockHeader) error {
	if len(chain) == 0 {
		return consensus.NewError(consensus.ERR_HEADER_CHAIN_EMPTY, "header chain must not be empty")
	}
	at := func(height uint32) (wire.BlockHeader, bool) {
		switch {
		case height > parentHeight:
			if i := int(height - parentHeight - 1); i < len(chain) {
				return chain[i], true
			}
			return wire.BlockHeader{}, false
		case height == parentHeight:
			return parent, true
		case ancestors != nil:
			return ancestors(height)
		}
		return wire.BlockHeader{}, false
	}
	prev := parent
	for i := range chain {
		cur := chain[i]
		height := parentHeight + uint32(i) + 1 // #nosec G115 -- chain length is bounded by the caller's batch size.
		if cur.PrevBlock != prev.BlockHash() {
			return consensus.NewError(consensus.ERR_HEADER_LINK_INVALID, "header %d does not link to %s", height, prev.BlockHash())
		}
		if err := checkDifficultyTransition(params, at, height, &prev, &cur); err != nil {
			return err
		}
		if err := checkProofOfWork(params, &cur); err != nil {
			return fmt.Errorf("height %d: %w", height, err)
		}
		prev = cur
	}
	return nil
}

func checkProofOfWork(params *chaincfg.Params, h *wire.BlockHeader) error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return consensus.NewError(consensus.ERR_HEADER_POW_INVALID, "target is not positive")
	}
	if target.Cmp(params.PowLimit) > 0 {
		return consensus.NewError(consensus.ERR_HEADER_POW_INVALID, "target above pow limit")
	}
	hash := h.BlockHash()
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return consensus.NewError(consensus.ERR_HEADER_POW_INVALID, "hash %s above target", hash)
	}
	return nil
}

// checkDifficultyTransition requires cur (at height) to carry exactly the
// bits the network demands after prev. When that depends on headers below
// the checkpoint, only the adjustment-factor clamp is checked at a period
// boundary, and a min-difficulty recovery inside a period is let through to
// the proof of work check.
func checkDifficultyTransition(params *chaincfg.Params, at HeaderLookup, height uint32, prev, cur *wire.BlockHeader) error {
	want, known := requiredBits(params, at, height, prev, cur)
	switch {
	case known && cur.Bits != want:
		return consensus.NewError(consensus.ERR_HEADER_POW_INVALID, "bits %08x at %d, want %08x", cur.Bits, height, want)
	case known, height%retargetInterval(params) != 0:
		return nil
	}

	factor := big.NewInt(params.RetargetAdjustmentFactor)
	oldTarget := blockchain.CompactToBig(prev.Bits)
	newTarget := blockchain.CompactToBig(cur.Bits)
	maxTarget := new(big.Int).Mul(oldTarget, factor)
	if maxTarget.Cmp(params.PowLimit) > 0 {
		maxTarget.Set(params.PowLimit)
	}
	minTarget := new(big.Int).Div(oldTarget, factor)
	if newTarget.Cmp(maxTarget) > 0 || newTarget.Cmp(minTarget) < 0 {
		return consensus.NewError(consensus.ERR_HEADER_POW_INVALID, "retarget out of range at %d", height)
	}
	return nil
}

func retargetInterval(params *chaincfg.Params) uint32 {
	n := int64(params.TargetTimespan / params.TargetTimePerBlock)
	if n <= 0 {
		return 1
	}
	return uint32(n) // #nosec G115 -- 2016 on every known network.
}

// requiredBits computes the next work required after prev. The second
// result is false when the answer depends on a header that is not known.
func requiredBits(params *chaincfg.Params, at HeaderLookup, height uint32, prev, cur *wire.BlockHeader) (uint32, bool) {
	if params.PoWNoRetargeting {
		return prev.Bits, true
	}
	interval := retargetInterval(params)
	if height%interval != 0 {
		if !params.ReduceMinDifficulty {
			return prev.Bits, true
		}
		if cur.Timestamp.After(prev.Timestamp.Add(params.MinDiffReductionTime)) {
			return params.PowLimitBits, true
		}
		return lastNormalBits(params, at, height-1, *prev, interval)
	}
	first, ok := at(height - interval)
	if !ok {
		return 0, false
	}
	return retargetBits(params, prev, &first), true
}

// lastNormalBits walks back from h (at height) over min-difficulty blocks
// until a period boundary or a block with regular bits.
func lastNormalBits(params *chaincfg.Params, at HeaderLookup, height uint32, h wire.BlockHeader, interval uint32) (uint32, bool) {
	for height%interval != 0 && h.Bits == params.PowLimitBits {
		height--
		var ok bool
		if h, ok = at(height); !ok {
			return 0, false
		}
	}
	return h.Bits, true
}

// retargetBits scales the target of last by the clamped time the period
// starting at first took.
func retargetBits(params *chaincfg.Params, last, first *wire.BlockHeader) uint32 {
	targetTimespan := int64(params.TargetTimespan / time.Second)
	minTimespan := targetTimespan / params.RetargetAdjustmentFactor
	maxTimespan := targetTimespan * params.RetargetAdjustmentFactor

	actual := last.Timestamp.Unix() - first.Timestamp.Unix()
	switch {
	case actual < minTimespan:
		actual = minTimespan
	case actual > maxTimespan:
		actual = maxTimespan
	}
	target := blockchain.CompactToBig(last.Bits)
	target.Mul(target, big.NewInt(actual))
	target.Div(target, big.NewInt(targetTimespan))
	if target.Cmp(params.PowLimit) > 0 {
		target.Set(params.PowLimit)
	}
	return blockchain.BigToCompact(target)
}

// CumulativeWork returns the running chainwork after each header, prefixed
// by parentWork, together with the final total.
func CumulativeWork(parentWork uint256.Int, chain []wire.BlockHeader) ([]uint256.Int, uint256.Int, error) {
	all := make([]uint256.Int, 0, len(chain)+1)
	all = append(all, parentWork)
	acc := parentWork
	for i := range chain {
		work, overflow := uint256.FromBig(blockchain.CalcWork(chain[i].Bits))
		if overflow {
			return nil, uint256.Int{}, consensus.NewError(consensus.ERR_CHAINWORK_OVERFLOW, "block work exceeds 256 bits")
		}
		if _, overflow := acc.AddOverflow(&acc, work); overflow {
			return nil, uint256.Int{}, consensus.NewError(consensus.ERR_CHAINWORK_OVERFLOW, "chainwork addition overflow")
		}
		all = append(all, acc)
	}
	return all, acc, nil
}

// LeavesFromHeaders validates chain against parent and converts it into
// block leaves carrying cumulative chainwork.
func LeavesFromHeaders(params *chaincfg.Params, ancestors HeaderLookup, parentHeight uint32, parent wire.BlockHeader, parentWork uint256.Int, chain []wire.BlockHeader) ([]consensus.BlockLeaf, error) {
	if err := ValidateHeaderChain(params, ancestors, parentHeight, parent, chain); err != nil {
		return nil, err
	}
	works, _, err := CumulativeWork(parentWork, chain)
	if err != nil {
		return nil, err
	}
	leaves := make([]consensus.BlockLeaf, len(chain))
	for i := range chain {
		leaves[i] = consensus.BlockLeaf{
			BlockHash:           chain[i].BlockHash(),
			Height:              parentHeight + uint32(i) + 1, // #nosec G115 -- bounded as above.
			CumulativeChainwork: works[i+1],
		}
	}
	return leaves, nil
}
