package consensus

import (
	"time"

	"github.com/holiman/uint256"
)

// Params holds the protocol constants that gate deposits, swaps and fees.
type Params struct {
	ProtocolFeeBP         uint64        `yaml:"protocol_fee_bp" json:"protocol_fee_bp"`
	MinProtocolFee        uint64        `yaml:"min_protocol_fee" json:"min_protocol_fee"`
	MinOutputSats         uint64        `yaml:"min_output_sats" json:"min_output_sats"`
	DepositLockupPeriod   time.Duration `yaml:"deposit_lockup_period" json:"deposit_lockup_period"`
	ChallengePeriod       time.Duration `yaml:"challenge_period" json:"challenge_period"`
	MinConfirmationBlocks uint32        `yaml:"min_confirmation_blocks" json:"min_confirmation_blocks"`
	ChainID               uint64        `yaml:"chain_id" json:"chain_id"`
}

func DefaultParams() Params {
	return Params{
		ProtocolFeeBP:         DEFAULT_PROTOCOL_FEE_BP,
		MinProtocolFee:        DEFAULT_MIN_PROTOCOL_FEE,
		MinOutputSats:         DEFAULT_MIN_OUTPUT_SATS,
		DepositLockupPeriod:   DEFAULT_DEPOSIT_LOCKUP,
		ChallengePeriod:       DEFAULT_CHALLENGE_PERIOD,
		MinConfirmationBlocks: DEFAULT_MIN_CONFIRMATIONS,
		ChainID:               DEFAULT_CHAIN_ID,
	}
}

// MinDepositAmount is the smallest deposit whose fee exceeds MinProtocolFee.
// With the defaults this is 33_334.
func (p Params) MinDepositAmount() *uint256.Int {
	if p.ProtocolFeeBP == 0 {
		return uint256.NewInt(p.MinProtocolFee + 1)
	}
	floor, _ := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(p.MinProtocolFee),
		uint256.NewInt(BPS_DENOMINATOR),
		uint256.NewInt(p.ProtocolFeeBP),
	)
	return floor.AddUint64(floor, 1)
}

func (p Params) Validate() error {
	if p.ProtocolFeeBP >= BPS_DENOMINATOR {
		return ledgererr(ERR_INVALID_PARAMS, "protocol_fee_bp must be < 10000")
	}
	if p.DepositLockupPeriod < 0 {
		return ledgererr(ERR_INVALID_PARAMS, "deposit_lockup_period must be >= 0")
	}
	if p.ChallengePeriod < 0 {
		return ledgererr(ERR_INVALID_PARAMS, "challenge_period must be >= 0")
	}
	if p.ChainID == 0 {
		return ledgererr(ERR_INVALID_PARAMS, "chain_id must be > 0")
	}
	return nil
}
