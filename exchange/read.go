package exchange

import (
	"errors"

	"github.com/shanmukanaks/protocol/consensus"
)

// Snapshot is a consistent read of the ledger's counters.
type Snapshot struct {
	VaultCommitments uint64 `json:"vault_commitments"`
	SwapCommitments  uint64 `json:"swap_commitments"`
	AccumulatedFees  string `json:"accumulated_fees"`
}

func (e *Exchange) VaultCommitmentsLen() (uint64, error) {
	var n uint64
	err := e.store.View(func(r StoreReader) error {
		var err error
		n, err = r.VaultCommitmentsLen()
		return err
	})
	return n, err
}

func (e *Exchange) VaultCommitment(index uint64) ([32]byte, error) {
	var h [32]byte
	err := e.store.View(func(r StoreReader) error {
		var err error
		h, err = r.VaultCommitment(index)
		return err
	})
	return h, err
}

func (e *Exchange) SwapCommitmentsLen() (uint64, error) {
	var n uint64
	err := e.store.View(func(r StoreReader) error {
		var err error
		n, err = r.SwapCommitmentsLen()
		return err
	})
	return n, err
}

func (e *Exchange) SwapCommitment(index uint64) ([32]byte, error) {
	var h [32]byte
	err := e.store.View(func(r StoreReader) error {
		var err error
		h, err = r.SwapCommitment(index)
		return err
	})
	return h, err
}

func (e *Exchange) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := e.store.View(func(r StoreReader) error {
		var err error
		if s.VaultCommitments, err = r.VaultCommitmentsLen(); err != nil {
			return err
		}
		if s.SwapCommitments, err = r.SwapCommitmentsLen(); err != nil {
			return err
		}
		fees, err := r.AccumulatedFees()
		if err != nil {
			return err
		}
		s.AccumulatedFees = fees.Dec()
		return nil
	})
	return s, err
}

// CheckVault reports whether v is the current occupant of its slot.
func (e *Exchange) CheckVault(v consensus.DepositVault) (bool, error) {
	return e.check(func(r StoreReader) error { return validateVault(r, &v) })
}

// CheckSwap reports whether s is the current occupant of its slot.
func (e *Exchange) CheckSwap(s consensus.ProposedSwap) (bool, error) {
	return e.check(func(r StoreReader) error { return validateSwap(r, &s) })
}

func (e *Exchange) check(fn func(StoreReader) error) (bool, error) {
	err := e.store.View(fn)
	if err == nil {
		return true, nil
	}
	if consensus.IsCode(err, consensus.ERR_INVALID_COMMITMENT) {
		return false, nil
	}
	if errors.Is(err, ErrIndexOutOfRange) {
		return false, nil
	}
	return false, err
}
