// Package indexer keeps queryable snapshots of vault and swap witnesses.
// The ledger itself stores only hashes; the indexer lets depositors and
// takers recover the full structs their next operation must present.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
)

const defaultQueryLimit = 100

type Indexer struct {
	repo Repository
	log  logrus.FieldLogger
}

func New(repo Repository, log logrus.FieldLogger) *Indexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Indexer{repo: repo, log: log.WithField("component", "indexer")}
}

func (i *Indexer) VaultUpdated(ctx context.Context, v consensus.DepositVault) error {
	snap, err := vaultSnapshot(v)
	if err != nil {
		return err
	}
	if err := i.repo.SaveVault(ctx, snap); err != nil {
		return fmt.Errorf("index vault %d: %w", v.VaultIndex, err)
	}
	i.log.WithFields(logrus.Fields{"vault_index": v.VaultIndex, "commitment": snap.Commitment}).Debug("vault indexed")
	return nil
}

func (i *Indexer) SwapUpdated(ctx context.Context, s consensus.ProposedSwap) error {
	snap, err := swapSnapshot(s)
	if err != nil {
		return err
	}
	if err := i.repo.SaveSwap(ctx, snap); err != nil {
		return fmt.Errorf("index swap %d: %w", s.SwapIndex, err)
	}
	i.log.WithFields(logrus.Fields{"swap_index": s.SwapIndex, "state": snap.State}).Debug("swap indexed")
	return nil
}

// Vault returns the latest indexed witness for the slot.
func (i *Indexer) Vault(ctx context.Context, index uint64) (consensus.DepositVault, error) {
	snap, err := i.repo.GetVault(ctx, index)
	if err != nil {
		return consensus.DepositVault{}, err
	}
	var v consensus.DepositVault
	if err := json.Unmarshal([]byte(snap.Witness), &v); err != nil {
		return consensus.DepositVault{}, fmt.Errorf("decode vault %d: %w", index, err)
	}
	return v, nil
}

func (i *Indexer) Swap(ctx context.Context, index uint64) (consensus.ProposedSwap, error) {
	snap, err := i.repo.GetSwap(ctx, index)
	if err != nil {
		return consensus.ProposedSwap{}, err
	}
	var s consensus.ProposedSwap
	if err := json.Unmarshal([]byte(snap.Witness), &s); err != nil {
		return consensus.ProposedSwap{}, fmt.Errorf("decode swap %d: %w", index, err)
	}
	return s, nil
}

// OpenVaults lists the non-empty vaults owned by owner (checksummed hex).
func (i *Indexer) OpenVaults(ctx context.Context, owner string) ([]consensus.DepositVault, error) {
	snaps, err := i.repo.FindVaultsByOwner(ctx, owner, defaultQueryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]consensus.DepositVault, 0, len(snaps))
	for _, snap := range snaps {
		var v consensus.DepositVault
		if err := json.Unmarshal([]byte(snap.Witness), &v); err != nil {
			return nil, fmt.Errorf("decode vault %d: %w", snap.VaultIndex, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// PendingSwaps lists swaps still awaiting release.
func (i *Indexer) PendingSwaps(ctx context.Context) ([]consensus.ProposedSwap, error) {
	snaps, err := i.repo.FindSwapsByState(ctx, consensus.SwapStateProved.String(), defaultQueryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]consensus.ProposedSwap, 0, len(snaps))
	for _, snap := range snaps {
		var s consensus.ProposedSwap
		if err := json.Unmarshal([]byte(snap.Witness), &s); err != nil {
			return nil, fmt.Errorf("decode swap %d: %w", snap.SwapIndex, err)
		}
		out = append(out, s)
	}
	return out, nil
}

var _ exchange.Notifier = (*Indexer)(nil)
