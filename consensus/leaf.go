package consensus

import "github.com/holiman/uint256"

// BlockLeaf is one Bitcoin block as recorded by the light client.
type BlockLeaf struct {
	BlockHash           [32]byte
	Height              uint32
	CumulativeChainwork uint256.Int
}

func (l *BlockLeaf) Hash() ([32]byte, error) {
	return HashBlockLeaf(l)
}

// InclusionProof is an MMR membership witness for a block leaf.
type InclusionProof struct {
	LeafIndex uint64
	LeafCount uint64
	Siblings  [][32]byte
	Peaks     [][32]byte
}
