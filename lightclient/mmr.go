package lightclient

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/crypto"
)

// Domain prefixes keep leaf, node and root preimages disjoint.
const (
	mmrLeafPrefix = 0x00
	mmrNodePrefix = 0x01
	mmrRootPrefix = 0x02
)

// MMR is an append-only Merkle Mountain Range over block-leaf hashes.
// levels[k][j] is the root of the perfect subtree covering leaves
// [j*2^k, (j+1)*2^k); only complete subtrees are kept.
type MMR struct {
	hasher crypto.Hasher
	levels [][][32]byte
}

func NewMMR(hasher crypto.Hasher) *MMR {
	if hasher == nil {
		hasher = crypto.Default
	}
	return &MMR{hasher: hasher}
}

func (m *MMR) LeafCount() uint64 {
	if len(m.levels) == 0 {
		return 0
	}
	return uint64(len(m.levels[0]))
}

func (m *MMR) Append(leafHash [32]byte) {
	node := hashMMRLeaf(m.hasher, leafHash)
	for k := 0; ; k++ {
		if k == len(m.levels) {
			m.levels = append(m.levels, nil)
		}
		m.levels[k] = append(m.levels[k], node)
		n := len(m.levels[k])
		if n%2 != 0 {
			return
		}
		node = hashMMRNode(m.hasher, m.levels[k][n-2], m.levels[k][n-1])
	}
}

// Truncate drops every leaf at position >= n.
func (m *MMR) Truncate(n uint64) {
	if n >= m.LeafCount() {
		return
	}
	for k := range m.levels {
		keep := n >> uint(k)
		m.levels[k] = m.levels[k][:keep]
	}
	for len(m.levels) > 0 && len(m.levels[len(m.levels)-1]) == 0 {
		m.levels = m.levels[:len(m.levels)-1]
	}
}

func (m *MMR) Peaks() [][32]byte {
	n := m.LeafCount()
	peaks := make([][32]byte, 0, bits.OnesCount64(n))
	var offset uint64
	for h := 63; h >= 0; h-- {
		size := uint64(1) << uint(h)
		if n&size == 0 {
			continue
		}
		peaks = append(peaks, m.levels[h][offset>>uint(h)])
		offset += size
	}
	return peaks
}

func (m *MMR) Root() [32]byte {
	return bagPeaks(m.hasher, m.LeafCount(), m.Peaks())
}

// Proof returns the membership witness for the leaf at position index.
func (m *MMR) Proof(index uint64) (consensus.InclusionProof, error) {
	n := m.LeafCount()
	if index >= n {
		return consensus.InclusionProof{}, fmt.Errorf("mmr: leaf %d out of range (count %d)", index, n)
	}
	height, _, ok := mountainOf(index, n)
	if !ok {
		return consensus.InclusionProof{}, fmt.Errorf("mmr: leaf %d has no mountain", index)
	}
	siblings := make([][32]byte, 0, height)
	for k := 0; k < height; k++ {
		siblings = append(siblings, m.levels[k][(index>>uint(k))^1])
	}
	return consensus.InclusionProof{
		LeafIndex: index,
		LeafCount: n,
		Siblings:  siblings,
		Peaks:     m.Peaks(),
	}, nil
}

// VerifyInclusion checks leafHash against root using proof.
func VerifyInclusion(hasher crypto.Hasher, root [32]byte, leafHash [32]byte, proof consensus.InclusionProof) bool {
	if hasher == nil {
		hasher = crypto.Default
	}
	if proof.LeafIndex >= proof.LeafCount {
		return false
	}
	if len(proof.Peaks) != bits.OnesCount64(proof.LeafCount) {
		return false
	}
	height, peakPos, ok := mountainOf(proof.LeafIndex, proof.LeafCount)
	if !ok || len(proof.Siblings) != height {
		return false
	}
	node := hashMMRLeaf(hasher, leafHash)
	for k, sib := range proof.Siblings {
		if (proof.LeafIndex>>uint(k))&1 == 0 {
			node = hashMMRNode(hasher, node, sib)
		} else {
			node = hashMMRNode(hasher, sib, node)
		}
	}
	if node != proof.Peaks[peakPos] {
		return false
	}
	return bagPeaks(hasher, proof.LeafCount, proof.Peaks) == root
}

// mountainOf locates the perfect subtree holding index among the mountains
// of an MMR with n leaves. It returns the mountain height and its position
// in the peak list.
func mountainOf(index, n uint64) (height int, peakPos int, ok bool) {
	var offset uint64
	for h := 63; h >= 0; h-- {
		size := uint64(1) << uint(h)
		if n&size == 0 {
			continue
		}
		if index < offset+size {
			return h, peakPos, true
		}
		offset += size
		peakPos++
	}
	return 0, 0, false
}

func hashMMRLeaf(h crypto.Hasher, leafHash [32]byte) [32]byte {
	return h.Keccak256([]byte{mmrLeafPrefix}, leafHash[:])
}

func hashMMRNode(h crypto.Hasher, left, right [32]byte) [32]byte {
	return h.Keccak256([]byte{mmrNodePrefix}, left[:], right[:])
}

func bagPeaks(h crypto.Hasher, leafCount uint64, peaks [][32]byte) [32]byte {
	parts := make([][]byte, 0, len(peaks)+2)
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], leafCount)
	parts = append(parts, []byte{mmrRootPrefix}, count[:])
	for i := range peaks {
		parts = append(parts, peaks[i][:])
	}
	return h.Keccak256(parts...)
}
