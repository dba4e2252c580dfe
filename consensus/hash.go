package consensus

import "github.com/shanmukanaks/protocol/crypto"

// Commitments pin the concrete provider, never crypto.Default.
func keccak256(parts ...[]byte) [32]byte {
	return crypto.KeccakProvider{}.Keccak256(parts...)
}

// CompressedLeavesCommitment binds the MMR data-availability payload that
// accompanies a swap proof.
func CompressedLeavesCommitment(compressedLeaves []byte) [32]byte {
	return keccak256(compressedLeaves)
}
