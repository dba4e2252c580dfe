package lightclient

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/shanmukanaks/protocol/consensus"
)

func TestCompressLeavesLayout(t *testing.T) {
	l := testLeaf(840_000, 0, 0xaa)
	l.CumulativeChainwork = *uint256.MustFromHex("0x1234")
	b := CompressLeaves([]consensus.BlockLeaf{l})
	if len(b) != consensus.BLOCK_LEAF_COMPRESSED_BYTES {
		t.Fatalf("len=%d", len(b))
	}
	if b[0] != 0xaa {
		t.Fatalf("hash not leading")
	}
	// 840_000 = 0x000cd140
	if b[32] != 0x00 || b[33] != 0x0c || b[34] != 0xd1 || b[35] != 0x40 {
		t.Fatalf("height bytes %x", b[32:36])
	}
	if b[66] != 0x12 || b[67] != 0x34 {
		t.Fatalf("chainwork tail %x", b[64:68])
	}
}

func TestDecompressLeaves(t *testing.T) {
	in := []consensus.BlockLeaf{testLeaf(1, 10, 0x01), testLeaf(2, 20, 0x02), testLeaf(3, 30, 0x03)}
	out, err := DecompressLeaves(CompressLeaves(in))
	if err != nil {
		t.Fatalf("DecompressLeaves: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len=%d", len(out))
	}
	for i := range in {
		a, _ := in[i].Hash()
		b, _ := out[i].Hash()
		if a != b {
			t.Fatalf("leaf %d differs", i)
		}
	}

	_, err = DecompressLeaves(make([]byte, consensus.BLOCK_LEAF_COMPRESSED_BYTES+1))
	mustCode(t, err, consensus.ERR_LEAF_PAYLOAD_MALFORMED)

	empty, err := DecompressLeaves(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty payload: %v %d", err, len(empty))
	}
}
