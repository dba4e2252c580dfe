package consensus

import (
	"github.com/btcsuite/btcd/txscript"
)

// ValidateP2WPKH accepts exactly OP_0 <20-byte key hash>.
func ValidateP2WPKH(script []byte) error {
	if len(script) != P2WPKH_SCRIPT_BYTES {
		return ledgererr(ERR_INVALID_SCRIPT_PUBKEY, "script must be 22 bytes")
	}
	if !txscript.IsPayToWitnessPubKeyHash(script) {
		return ledgererr(ERR_INVALID_SCRIPT_PUBKEY, "script is not p2wpkh")
	}
	return nil
}

func ScriptFromBytes(script []byte) ([P2WPKH_SCRIPT_BYTES]byte, error) {
	var out [P2WPKH_SCRIPT_BYTES]byte
	if err := ValidateP2WPKH(script); err != nil {
		return out, err
	}
	copy(out[:], script)
	return out, nil
}

// P2WPKHScript builds the output script paying to a witness key hash.
func P2WPKHScript(keyHash [20]byte) ([P2WPKH_SCRIPT_BYTES]byte, error) {
	var out [P2WPKH_SCRIPT_BYTES]byte
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(keyHash[:]).
		Script()
	if err != nil {
		return out, ledgererr(ERR_INVALID_SCRIPT_PUBKEY, err.Error())
	}
	copy(out[:], script)
	return out, nil
}
