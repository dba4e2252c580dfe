package consensus

import "time"

const (
	BPS_DENOMINATOR = 10_000

	DEFAULT_PROTOCOL_FEE_BP     = 30
	DEFAULT_MIN_PROTOCOL_FEE    = 100
	DEFAULT_MIN_OUTPUT_SATS     = 1_000
	DEFAULT_DEPOSIT_LOCKUP      = 8 * time.Hour
	DEFAULT_CHALLENGE_PERIOD    = 5 * time.Minute
	DEFAULT_MIN_CONFIRMATIONS   = 2
	DEFAULT_CHAIN_ID            = 1
	P2WPKH_SCRIPT_BYTES         = 22
	BLOCK_LEAF_COMPRESSED_BYTES = 32 + 4 + 32
)
