package consensus

import (
	"fmt"

	"github.com/holiman/uint256"
)

// DepositFee splits a gross deposit into the protocol fee and the net amount
// credited to the vault: fee = amount * feeBP / 10_000.
func DepositFee(amount *uint256.Int, feeBP uint64) (fee uint256.Int, net uint256.Int) {
	f, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(feeBP), uint256.NewInt(BPS_DENOMINATOR))
	if overflow {
		// feeBP < BPS_DENOMINATOR keeps the quotient below amount, so this
		// only triggers for invalid params.
		f.Set(amount)
	}
	fee.Set(f)
	net.Sub(amount, f)
	return fee, net
}

// CheckDepositInputs applies the amount, dust and script rules shared by
// fresh deposits and overwrites.
func CheckDepositInputs(p Params, amount *uint256.Int, expectedSats uint64, scriptPubKey []byte) error {
	if floor := p.MinDepositAmount(); amount.Lt(floor) {
		return ledgererr(ERR_DEPOSIT_AMOUNT_TOO_LOW, fmt.Sprintf("amount %s below minimum %s", amount.Dec(), floor.Dec()))
	}
	if expectedSats < p.MinOutputSats {
		return ledgererr(ERR_SAT_OUTPUT_TOO_LOW, fmt.Sprintf("expected_sats %d below dust threshold %d", expectedSats, p.MinOutputSats))
	}
	return ValidateP2WPKH(scriptPubKey)
}
