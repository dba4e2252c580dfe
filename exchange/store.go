package exchange

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/holiman/uint256"
)

var ErrIndexOutOfRange = errors.New("commitment index out of range")

// StoreReader is a consistent read view of the commitment sequences and the
// fee accumulator.
type StoreReader interface {
	VaultCommitmentsLen() (uint64, error)
	VaultCommitment(index uint64) ([32]byte, error)
	SwapCommitmentsLen() (uint64, error)
	SwapCommitment(index uint64) ([32]byte, error)
	AccumulatedFees() (uint256.Int, error)
}

// StoreTx stages writes that become visible only if the enclosing Update
// callback returns nil.
type StoreTx interface {
	StoreReader
	AppendVaultCommitment(h [32]byte) (uint64, error)
	SetVaultCommitment(index uint64, h [32]byte) error
	AppendSwapCommitment(h [32]byte) (uint64, error)
	SetSwapCommitment(index uint64, h [32]byte) error
	SetAccumulatedFees(v uint256.Int) error
}

// CommitmentStore holds the two append-only hash sequences. An Update
// callback returning an error discards every staged write.
type CommitmentStore interface {
	View(fn func(StoreReader) error) error
	Update(fn func(StoreTx) error) error
}

// MemStore is an in-memory CommitmentStore.
type MemStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	vaults [][32]byte
	swaps  [][32]byte
	fees   uint256.Int
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) View(fn func(StoreReader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{state: m.state})
}

func (m *MemStore) Update(fn func(StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: memState{
		vaults: slices.Clone(m.state.vaults),
		swaps:  slices.Clone(m.state.swaps),
		fees:   m.state.fees,
	}}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memTx struct {
	state memState
}

func (t *memTx) VaultCommitmentsLen() (uint64, error) { return uint64(len(t.state.vaults)), nil }
func (t *memTx) SwapCommitmentsLen() (uint64, error)  { return uint64(len(t.state.swaps)), nil }

func (t *memTx) VaultCommitment(index uint64) ([32]byte, error) {
	return at(t.state.vaults, index, "vault")
}

func (t *memTx) SwapCommitment(index uint64) ([32]byte, error) {
	return at(t.state.swaps, index, "swap")
}

func (t *memTx) AccumulatedFees() (uint256.Int, error) { return t.state.fees, nil }

func (t *memTx) AppendVaultCommitment(h [32]byte) (uint64, error) {
	t.state.vaults = append(t.state.vaults, h)
	return uint64(len(t.state.vaults) - 1), nil
}

func (t *memTx) SetVaultCommitment(index uint64, h [32]byte) error {
	if index >= uint64(len(t.state.vaults)) {
		return fmt.Errorf("vault %d: %w", index, ErrIndexOutOfRange)
	}
	t.state.vaults[index] = h
	return nil
}

func (t *memTx) AppendSwapCommitment(h [32]byte) (uint64, error) {
	t.state.swaps = append(t.state.swaps, h)
	return uint64(len(t.state.swaps) - 1), nil
}

func (t *memTx) SetSwapCommitment(index uint64, h [32]byte) error {
	if index >= uint64(len(t.state.swaps)) {
		return fmt.Errorf("swap %d: %w", index, ErrIndexOutOfRange)
	}
	t.state.swaps[index] = h
	return nil
}

func (t *memTx) SetAccumulatedFees(v uint256.Int) error {
	t.state.fees = v
	return nil
}

func at(seq [][32]byte, index uint64, what string) ([32]byte, error) {
	if index >= uint64(len(seq)) {
		return [32]byte{}, fmt.Errorf("%s %d: %w", what, index, ErrIndexOutOfRange)
	}
	return seq[index], nil
}
