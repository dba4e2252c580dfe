package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanmukanaks/protocol/consensus"
)

type memRepo struct {
	mu     sync.Mutex
	vaults map[uint64]VaultSnapshot
	swaps  map[uint64]SwapSnapshot
	fail   error
}

func newMemRepo() *memRepo {
	return &memRepo{vaults: map[uint64]VaultSnapshot{}, swaps: map[uint64]SwapSnapshot{}}
}

func (m *memRepo) SaveVault(_ context.Context, v *VaultSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.vaults[v.VaultIndex] = *v
	return nil
}

func (m *memRepo) SaveSwap(_ context.Context, s *SwapSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.swaps[s.SwapIndex] = *s
	return nil
}

func (m *memRepo) GetVault(_ context.Context, index uint64) (*VaultSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[index]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *memRepo) GetSwap(_ context.Context, index uint64) (*SwapSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.swaps[index]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memRepo) FindVaultsByOwner(_ context.Context, owner string, limit int) ([]*VaultSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*VaultSnapshot
	for _, v := range m.vaults {
		if v.OwnerAddress == owner && !v.Empty {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VaultIndex < out[j].VaultIndex })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) FindSwapsByState(_ context.Context, state string, limit int) ([]*SwapSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SwapSnapshot
	for _, s := range m.swaps {
		if s.State == state {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SwapIndex < out[j].SwapIndex })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var owner = common.HexToAddress("0x00000000000000000000000000000000000000b2")

func testVault(index, amount uint64) consensus.DepositVault {
	script, _ := consensus.P2WPKHScript([20]byte{0xab})
	v := consensus.DepositVault{
		VaultIndex:             index,
		DepositTimestamp:       1_700_000_000,
		ExpectedSats:           50_000,
		BtcPayoutScriptPubKey:  script,
		SpecifiedPayoutAddress: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		OwnerAddress:           owner,
	}
	v.DepositAmount.SetUint64(amount)
	v.DepositFee.SetUint64(amount * 3 / 1000)
	v.Nonce[0] = byte(index)
	return v
}

func newIndexer(t *testing.T) (*Indexer, *memRepo) {
	t.Helper()
	log, _ := test.NewNullLogger()
	repo := newMemRepo()
	return New(repo, log), repo
}

func TestVaultSnapshotsKeepWitness(t *testing.T) {
	ix, repo := newIndexer(t)
	ctx := context.Background()
	v := testVault(4, 997_000)
	require.NoError(t, ix.VaultUpdated(ctx, v))

	snap := repo.vaults[4]
	want, err := consensus.HashVault(&v)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), snap.Commitment)
	assert.Equal(t, "997000", snap.DepositAmount)
	assert.Equal(t, owner.Hex(), snap.OwnerAddress)
	assert.False(t, snap.Empty)

	got, err := ix.Vault(ctx, 4)
	require.NoError(t, err)
	h, err := consensus.HashVault(&got)
	require.NoError(t, err)
	assert.Equal(t, want, h)

	// A withdrawal replaces the slot's snapshot.
	require.NoError(t, ix.VaultUpdated(ctx, v.Drained()))
	assert.True(t, repo.vaults[4].Empty)
	open, err := ix.OpenVaults(ctx, owner.Hex())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpenVaultsOrdered(t *testing.T) {
	ix, _ := newIndexer(t)
	ctx := context.Background()
	for _, i := range []uint64{3, 1, 2} {
		require.NoError(t, ix.VaultUpdated(ctx, testVault(i, 100_000)))
	}
	open, err := ix.OpenVaults(ctx, owner.Hex())
	require.NoError(t, err)
	require.Len(t, open, 3)
	for i, v := range open {
		assert.Equal(t, uint64(i+1), v.VaultIndex)
	}
}

func TestSwapSnapshotsTrackState(t *testing.T) {
	ix, repo := newIndexer(t)
	ctx := context.Background()
	s := consensus.ProposedSwap{
		SwapIndex:                0,
		LiquidityUnlockTimestamp: 1_700_000_300,
		SpecifiedPayoutAddress:   common.HexToAddress("0x00000000000000000000000000000000000000c3"),
		State:                    consensus.SwapStateProved,
	}
	s.ProposedBlockLeaf.Height = 840_001
	s.TotalSwapAmount.SetUint64(1_988_000)
	s.TotalSwapFee.SetUint64(6_000)
	require.NoError(t, ix.SwapUpdated(ctx, s))

	pending, err := ix.PendingSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, s, pending[0])
	assert.Equal(t, uint32(840_001), repo.swaps[0].BlockHeight)

	s.State = consensus.SwapStateCompleted
	require.NoError(t, ix.SwapUpdated(ctx, s))
	pending, err = ix.PendingSwaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := ix.Swap(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, consensus.SwapStateCompleted, got.State)
}

func TestIndexerErrors(t *testing.T) {
	ix, repo := newIndexer(t)
	ctx := context.Background()

	_, err := ix.Vault(ctx, 9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = ix.Swap(ctx, 9)
	require.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("connection refused")
	repo.fail = boom
	err = ix.VaultUpdated(ctx, testVault(0, 1))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "index vault 0")
}
