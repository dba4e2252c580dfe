package lightclient

import (
	"encoding/binary"

	"github.com/shanmukanaks/protocol/consensus"
)

// CompressLeaves serializes leaves as fixed 68-byte records:
// block_hash 32 | height u32be | cumulative_chainwork 32be.
func CompressLeaves(leaves []consensus.BlockLeaf) []byte {
	out := make([]byte, 0, len(leaves)*consensus.BLOCK_LEAF_COMPRESSED_BYTES)
	for i := range leaves {
		var rec [consensus.BLOCK_LEAF_COMPRESSED_BYTES]byte
		copy(rec[0:32], leaves[i].BlockHash[:])
		binary.BigEndian.PutUint32(rec[32:36], leaves[i].Height)
		work := leaves[i].CumulativeChainwork.Bytes32()
		copy(rec[36:68], work[:])
		out = append(out, rec[:]...)
	}
	return out
}

func DecompressLeaves(b []byte) ([]consensus.BlockLeaf, error) {
	if len(b)%consensus.BLOCK_LEAF_COMPRESSED_BYTES != 0 {
		return nil, consensus.NewError(consensus.ERR_LEAF_PAYLOAD_MALFORMED, "payload length %d not a multiple of %d", len(b), consensus.BLOCK_LEAF_COMPRESSED_BYTES)
	}
	n := len(b) / consensus.BLOCK_LEAF_COMPRESSED_BYTES
	leaves := make([]consensus.BlockLeaf, n)
	for i := 0; i < n; i++ {
		rec := b[i*consensus.BLOCK_LEAF_COMPRESSED_BYTES : (i+1)*consensus.BLOCK_LEAF_COMPRESSED_BYTES]
		copy(leaves[i].BlockHash[:], rec[0:32])
		leaves[i].Height = binary.BigEndian.Uint32(rec[32:36])
		leaves[i].CumulativeChainwork.SetBytes(rec[36:68])
	}
	return leaves, nil
}
