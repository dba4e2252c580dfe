package lightclient

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/shanmukanaks/protocol/consensus"
)

var regtest = &chaincfg.RegressionNetParams

func regtestGenesis() wire.BlockHeader {
	return regtest.GenesisBlock.Header
}

func genesisLeaf(t *testing.T) consensus.BlockLeaf {
	t.Helper()
	g := regtestGenesis()
	work, overflow := uint256.FromBig(blockchain.CalcWork(g.Bits))
	if overflow {
		t.Fatalf("genesis work overflow")
	}
	return consensus.BlockLeaf{BlockHash: g.BlockHash(), Height: 0, CumulativeChainwork: *work}
}

// mineChain grinds n regtest headers on top of parent. salt separates
// competing branches built on the same parent.
func mineChain(t *testing.T, parent wire.BlockHeader, n int, salt byte) []wire.BlockHeader {
	t.Helper()
	out := make([]wire.BlockHeader, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		h := mineHeader(t, regtest, prev, regtest.PowLimitBits, 10*time.Minute, salt, byte(i))
		out = append(out, h)
		prev = h
	}
	return out
}

// mineHeader grinds one header on prev with the given bits, spaced gap
// after it.
func mineHeader(t *testing.T, params *chaincfg.Params, prev wire.BlockHeader, bits uint32, gap time.Duration, tag ...byte) wire.BlockHeader {
	t.Helper()
	h := wire.BlockHeader{
		Version:   4,
		PrevBlock: prev.BlockHash(),
		Timestamp: prev.Timestamp.Add(gap),
		Bits:      bits,
	}
	copy(h.MerkleRoot[:], tag)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		if checkProofOfWork(params, &h) == nil {
			return h
		}
		if nonce > 1<<22 {
			t.Fatalf("could not mine header with bits %08x", bits)
		}
	}
}

func newTestChain(t *testing.T) *HeaderChain {
	t.Helper()
	hc, err := NewHeaderChain(regtest, regtestGenesis(), genesisLeaf(t), nil)
	if err != nil {
		t.Fatalf("NewHeaderChain: %v", err)
	}
	return hc
}

func testLeaf(height uint32, work uint64, tag byte) consensus.BlockLeaf {
	l := consensus.BlockLeaf{Height: height}
	l.BlockHash[0] = tag
	l.BlockHash[31] = byte(height)
	l.CumulativeChainwork.SetUint64(work)
	return l
}

func mustCode(t *testing.T, err error, want consensus.ErrorCode) {
	t.Helper()
	got, ok := consensus.CodeOf(err)
	if !ok {
		t.Fatalf("expected coded error %s, got %T: %v", want, err, err)
	}
	if got != want {
		t.Fatalf("code=%s want %s", got, want)
	}
}
