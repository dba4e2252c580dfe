package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// JSON forms carry amounts as decimal strings and byte fields as 0x hex, so
// witnesses survive a round trip through indexers and event consumers.

type vaultJSON struct {
	VaultIndex             uint64         `json:"vault_index"`
	DepositTimestamp       uint64         `json:"deposit_timestamp"`
	DepositAmount          string         `json:"deposit_amount"`
	DepositFee             string         `json:"deposit_fee"`
	ExpectedSats           uint64         `json:"expected_sats"`
	BtcPayoutScriptPubKey  hexutil.Bytes  `json:"btc_payout_script_pubkey"`
	SpecifiedPayoutAddress common.Address `json:"specified_payout_address"`
	OwnerAddress           common.Address `json:"owner_address"`
	Nonce                  common.Hash    `json:"nonce"`
}

func (v DepositVault) MarshalJSON() ([]byte, error) {
	return json.Marshal(vaultJSON{
		VaultIndex:             v.VaultIndex,
		DepositTimestamp:       v.DepositTimestamp,
		DepositAmount:          v.DepositAmount.Dec(),
		DepositFee:             v.DepositFee.Dec(),
		ExpectedSats:           v.ExpectedSats,
		BtcPayoutScriptPubKey:  v.BtcPayoutScriptPubKey[:],
		SpecifiedPayoutAddress: v.SpecifiedPayoutAddress,
		OwnerAddress:           v.OwnerAddress,
		Nonce:                  v.Nonce,
	})
}

func (v *DepositVault) UnmarshalJSON(b []byte) error {
	var j vaultJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	script, err := ScriptFromBytes(j.BtcPayoutScriptPubKey)
	if err != nil {
		return err
	}
	out := DepositVault{
		VaultIndex:             j.VaultIndex,
		DepositTimestamp:       j.DepositTimestamp,
		ExpectedSats:           j.ExpectedSats,
		BtcPayoutScriptPubKey:  script,
		SpecifiedPayoutAddress: j.SpecifiedPayoutAddress,
		OwnerAddress:           j.OwnerAddress,
		Nonce:                  j.Nonce,
	}
	if err := setDecimal(&out.DepositAmount, j.DepositAmount, "deposit_amount"); err != nil {
		return err
	}
	if err := setDecimal(&out.DepositFee, j.DepositFee, "deposit_fee"); err != nil {
		return err
	}
	*v = out
	return nil
}

type leafJSON struct {
	BlockHash           common.Hash `json:"block_hash"`
	Height              uint32      `json:"height"`
	CumulativeChainwork string      `json:"cumulative_chainwork"`
}

type swapJSON struct {
	SwapIndex                uint64         `json:"swap_index"`
	AggregateVaultCommitment common.Hash    `json:"aggregate_vault_commitment"`
	ProposedBlockLeaf        leafJSON       `json:"proposed_block_leaf"`
	LiquidityUnlockTimestamp uint64         `json:"liquidity_unlock_timestamp"`
	SpecifiedPayoutAddress   common.Address `json:"specified_payout_address"`
	TotalSwapFee             string         `json:"total_swap_fee"`
	TotalSwapAmount          string         `json:"total_swap_amount"`
	State                    string         `json:"state"`
}

func (s ProposedSwap) MarshalJSON() ([]byte, error) {
	return json.Marshal(swapJSON{
		SwapIndex:                s.SwapIndex,
		AggregateVaultCommitment: s.AggregateVaultCommitment,
		ProposedBlockLeaf: leafJSON{
			BlockHash:           s.ProposedBlockLeaf.BlockHash,
			Height:              s.ProposedBlockLeaf.Height,
			CumulativeChainwork: s.ProposedBlockLeaf.CumulativeChainwork.Dec(),
		},
		LiquidityUnlockTimestamp: s.LiquidityUnlockTimestamp,
		SpecifiedPayoutAddress:   s.SpecifiedPayoutAddress,
		TotalSwapFee:             s.TotalSwapFee.Dec(),
		TotalSwapAmount:          s.TotalSwapAmount.Dec(),
		State:                    s.State.String(),
	})
}

func (s *ProposedSwap) UnmarshalJSON(b []byte) error {
	var j swapJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	out := ProposedSwap{
		SwapIndex:                j.SwapIndex,
		AggregateVaultCommitment: j.AggregateVaultCommitment,
		LiquidityUnlockTimestamp: j.LiquidityUnlockTimestamp,
		SpecifiedPayoutAddress:   j.SpecifiedPayoutAddress,
	}
	out.ProposedBlockLeaf.BlockHash = j.ProposedBlockLeaf.BlockHash
	out.ProposedBlockLeaf.Height = j.ProposedBlockLeaf.Height
	if err := setDecimal(&out.ProposedBlockLeaf.CumulativeChainwork, j.ProposedBlockLeaf.CumulativeChainwork, "cumulative_chainwork"); err != nil {
		return err
	}
	if err := setDecimal(&out.TotalSwapFee, j.TotalSwapFee, "total_swap_fee"); err != nil {
		return err
	}
	if err := setDecimal(&out.TotalSwapAmount, j.TotalSwapAmount, "total_swap_amount"); err != nil {
		return err
	}
	switch j.State {
	case SwapStateProved.String():
		out.State = SwapStateProved
	case SwapStateCompleted.String():
		out.State = SwapStateCompleted
	default:
		return ledgererr(ERR_ENCODING, fmt.Sprintf("unknown swap state %q", j.State))
	}
	*s = out
	return nil
}

func setDecimal(dst *uint256.Int, s string, field string) error {
	if s == "" {
		dst.Clear()
		return nil
	}
	if err := dst.SetFromDecimal(s); err != nil {
		return ledgererr(ERR_ENCODING, fmt.Sprintf("%s: %v", field, err))
	}
	return nil
}
