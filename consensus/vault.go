package consensus

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DepositVault is a liquidity provider's locked deposit. Only its hash is
// ever persisted; callers carry the full struct as a witness.
type DepositVault struct {
	VaultIndex             uint64
	DepositTimestamp       uint64
	DepositAmount          uint256.Int
	DepositFee             uint256.Int
	ExpectedSats           uint64
	BtcPayoutScriptPubKey  [P2WPKH_SCRIPT_BYTES]byte
	SpecifiedPayoutAddress common.Address
	OwnerAddress           common.Address
	Nonce                  [32]byte
}

// IsEmpty reports whether the vault slot may be overwritten.
func (v *DepositVault) IsEmpty() bool {
	return v.DepositAmount.IsZero()
}

// UnlockTime is the earliest instant a withdrawal is allowed.
func (v *DepositVault) UnlockTime(lockup time.Duration) time.Time {
	return time.Unix(int64(v.DepositTimestamp), 0).Add(lockup) // #nosec G115 -- unix seconds fit int64.
}

// Drained returns a copy with amount and fee zeroed.
func (v DepositVault) Drained() DepositVault {
	v.DepositAmount.Clear()
	v.DepositFee.Clear()
	return v
}

func (v *DepositVault) Hash() ([32]byte, error) {
	return HashVault(v)
}
