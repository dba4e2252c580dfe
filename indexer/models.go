package indexer

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shanmukanaks/protocol/consensus"
)

// VaultSnapshot is the latest known witness of one vault slot. Witness
// holds the JSON the commitment was computed over, so callers can fetch the
// exact struct a later operation must present.
type VaultSnapshot struct {
	VaultIndex       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Commitment       string `gorm:"size:64;not null;index"`
	DepositTimestamp uint64 `gorm:"not null"`
	DepositAmount    string `gorm:"size:78;not null"`
	DepositFee       string `gorm:"size:78;not null"`
	ExpectedSats     uint64 `gorm:"not null"`
	PayoutAddress    string `gorm:"size:42;not null"`
	OwnerAddress     string `gorm:"size:42;not null;index"`
	Empty            bool   `gorm:"not null;index"`
	Witness          string `gorm:"type:text;not null"`
	UpdatedAt        time.Time
}

func (VaultSnapshot) TableName() string { return "vault_snapshots" }

type SwapSnapshot struct {
	SwapIndex                uint64 `gorm:"primaryKey;autoIncrement:false"`
	Commitment               string `gorm:"size:64;not null;index"`
	AggregateVaultCommitment string `gorm:"size:64;not null"`
	BlockHash                string `gorm:"size:64;not null"`
	BlockHeight              uint32 `gorm:"not null;index"`
	LiquidityUnlockTimestamp uint64 `gorm:"not null"`
	PayoutAddress            string `gorm:"size:42;not null;index"`
	TotalSwapFee             string `gorm:"size:78;not null"`
	TotalSwapAmount          string `gorm:"size:78;not null"`
	State                    string `gorm:"size:16;not null;index"`
	Witness                  string `gorm:"type:text;not null"`
	UpdatedAt                time.Time
}

func (SwapSnapshot) TableName() string { return "swap_snapshots" }

func vaultSnapshot(v consensus.DepositVault) (*VaultSnapshot, error) {
	h, err := consensus.HashVault(&v)
	if err != nil {
		return nil, err
	}
	witness, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &VaultSnapshot{
		VaultIndex:       v.VaultIndex,
		Commitment:       hex.EncodeToString(h[:]),
		DepositTimestamp: v.DepositTimestamp,
		DepositAmount:    v.DepositAmount.Dec(),
		DepositFee:       v.DepositFee.Dec(),
		ExpectedSats:     v.ExpectedSats,
		PayoutAddress:    v.SpecifiedPayoutAddress.Hex(),
		OwnerAddress:     v.OwnerAddress.Hex(),
		Empty:            v.IsEmpty(),
		Witness:          string(witness),
	}, nil
}

func swapSnapshot(s consensus.ProposedSwap) (*SwapSnapshot, error) {
	h, err := consensus.HashSwap(&s)
	if err != nil {
		return nil, err
	}
	witness, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return &SwapSnapshot{
		SwapIndex:                s.SwapIndex,
		Commitment:               hex.EncodeToString(h[:]),
		AggregateVaultCommitment: hex.EncodeToString(s.AggregateVaultCommitment[:]),
		BlockHash:                hex.EncodeToString(s.ProposedBlockLeaf.BlockHash[:]),
		BlockHeight:              s.ProposedBlockLeaf.Height,
		LiquidityUnlockTimestamp: s.LiquidityUnlockTimestamp,
		PayoutAddress:            s.SpecifiedPayoutAddress.Hex(),
		TotalSwapFee:             s.TotalSwapFee.Dec(),
		TotalSwapAmount:          s.TotalSwapAmount.Dec(),
		State:                    s.State.String(),
		Witness:                  string(witness),
	}, nil
}
