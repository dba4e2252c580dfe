package consensus

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ERR_DEPOSIT_AMOUNT_TOO_LOW  ErrorCode = "ERR_DEPOSIT_AMOUNT_TOO_LOW"
	ERR_SAT_OUTPUT_TOO_LOW      ErrorCode = "ERR_SAT_OUTPUT_TOO_LOW"
	ERR_INVALID_SCRIPT_PUBKEY   ErrorCode = "ERR_INVALID_SCRIPT_PUBKEY"
	ERR_DUPLICATE_VAULT         ErrorCode = "ERR_DUPLICATE_VAULT"
	ERR_INVALID_COMMITMENT      ErrorCode = "ERR_INVALID_COMMITMENT"
	ERR_INVALID_VAULT_AGGREGATE ErrorCode = "ERR_INVALID_VAULT_COMMITMENT"

	ERR_VAULT_NOT_OVERWRITABLE  ErrorCode = "ERR_DEPOSIT_VAULT_NOT_OVERWRITABLE"
	ERR_EMPTY_DEPOSIT_VAULT     ErrorCode = "ERR_EMPTY_DEPOSIT_VAULT"
	ERR_DEPOSIT_STILL_LOCKED    ErrorCode = "ERR_DEPOSIT_STILL_LOCKED"
	ERR_SWAP_NOT_PROVED         ErrorCode = "ERR_SWAP_NOT_PROVED"
	ERR_STILL_IN_CHALLENGE      ErrorCode = "ERR_STILL_IN_CHALLENGE_PERIOD"
	ERR_OVERWRITE_ONGOING_SWAP  ErrorCode = "ERR_CANNOT_OVERWRITE_ON_GOING_SWAP"
	ERR_NO_FEE_TO_PAY           ErrorCode = "ERR_NO_FEE_TO_PAY"
	ERR_INVALID_PROOF           ErrorCode = "ERR_INVALID_PROOF"
	ERR_INVALID_INCLUSION_PROOF ErrorCode = "ERR_INVALID_BLOCK_INCLUSION_PROOF"
	ERR_ROOT_UPDATE_REJECTED    ErrorCode = "ERR_ROOT_UPDATE_REJECTED"
	ERR_TRANSFER_FAILED         ErrorCode = "ERR_TRANSFER_FAILED"
	ERR_ARITHMETIC_OVERFLOW     ErrorCode = "ERR_ARITHMETIC_OVERFLOW"
	ERR_ENCODING                ErrorCode = "ERR_ENCODING"
	ERR_CHAINWORK_OVERFLOW      ErrorCode = "ERR_CHAINWORK_OVERFLOW"
	ERR_HEADER_CHAIN_EMPTY      ErrorCode = "ERR_HEADER_CHAIN_EMPTY"
	ERR_HEADER_LINK_INVALID     ErrorCode = "ERR_HEADER_LINK_INVALID"
	ERR_HEADER_POW_INVALID      ErrorCode = "ERR_HEADER_POW_INVALID"
	ERR_LEAF_PAYLOAD_MALFORMED  ErrorCode = "ERR_LEAF_PAYLOAD_MALFORMED"
	ERR_INVALID_PARAMS          ErrorCode = "ERR_INVALID_PARAMS"
)

type LedgerError struct {
	Code ErrorCode
	Msg  string
}

func (e *LedgerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func ledgererr(code ErrorCode, msg string) error {
	return &LedgerError{Code: code, Msg: msg}
}

// NewError builds a coded error for callers outside this package.
func NewError(code ErrorCode, format string, args ...any) error {
	if len(args) == 0 {
		return ledgererr(code, format)
	}
	return ledgererr(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the code of a (possibly wrapped) *LedgerError.
func CodeOf(err error) (ErrorCode, bool) {
	var le *LedgerError
	if errors.As(err, &le) && le != nil {
		return le.Code, true
	}
	return "", false
}

func IsCode(err error, code ErrorCode) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}
