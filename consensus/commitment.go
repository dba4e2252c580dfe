package consensus

import (
	"fmt"
	"slices"
)

func HashVault(v *DepositVault) ([32]byte, error) {
	b, err := EncodeVault(v)
	if err != nil {
		return [32]byte{}, err
	}
	return keccak256(b), nil
}

func HashSwap(s *ProposedSwap) ([32]byte, error) {
	b, err := EncodeSwap(s)
	if err != nil {
		return [32]byte{}, err
	}
	return keccak256(b), nil
}

func HashBlockLeaf(l *BlockLeaf) ([32]byte, error) {
	b, err := EncodeBlockLeaf(l)
	if err != nil {
		return [32]byte{}, err
	}
	return keccak256(b), nil
}

// VaultNonce binds a caller salt to a slot and chain so the same salt can
// never produce the same vault identity twice.
func VaultNonce(salt [32]byte, vaultIndex uint64, chainID uint64) ([32]byte, error) {
	b, err := abiPack(nonceArgs, "nonce", salt, vaultIndex, chainID)
	if err != nil {
		return [32]byte{}, err
	}
	return keccak256(b), nil
}

// CanonicalVaults returns a copy of vaults sorted by VaultIndex. A vault index
// may appear at most once.
func CanonicalVaults(vaults []DepositVault) ([]DepositVault, error) {
	out := slices.Clone(vaults)
	slices.SortStableFunc(out, func(a, b DepositVault) int {
		switch {
		case a.VaultIndex < b.VaultIndex:
			return -1
		case a.VaultIndex > b.VaultIndex:
			return 1
		default:
			return 0
		}
	})
	for i := 1; i < len(out); i++ {
		if out[i].VaultIndex == out[i-1].VaultIndex {
			return nil, ledgererr(ERR_DUPLICATE_VAULT, fmt.Sprintf("vault %d listed twice", out[i].VaultIndex))
		}
	}
	return out, nil
}

// AggregateVaultCommitment folds a vault set into one hash. The set is
// canonicalized first, so any ordering of the same vaults yields the same
// commitment.
func AggregateVaultCommitment(vaults []DepositVault) ([32]byte, error) {
	canon, err := CanonicalVaults(vaults)
	if err != nil {
		return [32]byte{}, err
	}
	hashes := make([][32]byte, 0, len(canon))
	for i := range canon {
		h, err := HashVault(&canon[i])
		if err != nil {
			return [32]byte{}, err
		}
		hashes = append(hashes, h)
	}
	b, err := abiPack(aggregateArgs, "aggregate", hashes)
	if err != nil {
		return [32]byte{}, err
	}
	return keccak256(b), nil
}
