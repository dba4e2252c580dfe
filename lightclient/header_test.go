package lightclient

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/shanmukanaks/protocol/consensus"
)

func TestValidateHeaderChainRegtest(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 10, 0x01)
	if err := ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), chain); err != nil {
		t.Fatalf("ValidateHeaderChain: %v", err)
	}
	if err := ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), chain[:1]); err != nil {
		t.Fatalf("genesis step: %v", err)
	}
}

func TestValidateHeaderChainEmpty(t *testing.T) {
	mustCode(t, ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), nil), consensus.ERR_HEADER_CHAIN_EMPTY)
}

func TestValidateHeaderChainBrokenLink(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 3, 0x01)
	chain[1].PrevBlock[0] ^= 0xff
	mustCode(t, ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), chain), consensus.ERR_HEADER_LINK_INVALID)
}

func TestValidateHeaderChainWithGap(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 6, 0x01)
	gapped := append(append([]wire.BlockHeader(nil), chain[:2]...), chain[3:]...)
	mustCode(t, ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), gapped), consensus.ERR_HEADER_LINK_INVALID)
}

func TestValidateHeaderChainBitsChangeOnNonRetargetingNetwork(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 1, 0x01)
	chain[0].Bits = 0x1d00ffff
	mustCode(t, ValidateHeaderChain(regtest, nil, 0, regtestGenesis(), chain), consensus.ERR_HEADER_POW_INVALID)
}

func TestCheckProofOfWork(t *testing.T) {
	mainGenesis := chaincfg.MainNetParams.GenesisBlock.Header
	if err := checkProofOfWork(&chaincfg.MainNetParams, &mainGenesis); err != nil {
		t.Fatalf("mainnet genesis: %v", err)
	}

	bad := mainGenesis
	bad.Nonce = 0
	mustCode(t, checkProofOfWork(&chaincfg.MainNetParams, &bad), consensus.ERR_HEADER_POW_INVALID)

	easy := regtestGenesis()
	mustCode(t, checkProofOfWork(&chaincfg.MainNetParams, &easy), consensus.ERR_HEADER_POW_INVALID)
}

func headerAt(bits uint32, ts time.Time) *wire.BlockHeader {
	return &wire.BlockHeader{Version: 4, Bits: bits, Timestamp: ts}
}

func noAncestors(uint32) (wire.BlockHeader, bool) { return wire.BlockHeader{}, false }

func TestCheckDifficultyTransitionMainnet(t *testing.T) {
	p := &chaincfg.MainNetParams
	ts := time.Unix(1_600_000_000, 0)
	prev := headerAt(0x1d00ffff, ts)
	if err := checkDifficultyTransition(p, noAncestors, 2017, prev, headerAt(0x1d00ffff, ts.Add(time.Minute))); err != nil {
		t.Fatalf("unchanged bits: %v", err)
	}
	mustCode(t, checkDifficultyTransition(p, noAncestors, 2017, prev, headerAt(0x1c7fffff, ts.Add(time.Minute))), consensus.ERR_HEADER_POW_INVALID)

	// Without the first header of the period only the 4x clamp is checked.
	if err := checkDifficultyTransition(p, noAncestors, 2016, prev, headerAt(0x1c7fff00, ts)); err != nil {
		t.Fatalf("retarget within clamp: %v", err)
	}
	mustCode(t, checkDifficultyTransition(p, noAncestors, 2016, prev, headerAt(0x1b00ffff, ts)), consensus.ERR_HEADER_POW_INVALID)
}

func TestCheckDifficultyTransitionExactRetarget(t *testing.T) {
	p := &chaincfg.MainNetParams
	start := time.Unix(1_600_000_000, 0)
	first := headerAt(0x1d00ffff, start)
	at := func(height uint32) (wire.BlockHeader, bool) {
		if height == 0 {
			return *first, true
		}
		return wire.BlockHeader{}, false
	}
	scaled := func(num, den int64) uint32 {
		target := blockchain.CompactToBig(0x1d00ffff)
		target.Mul(target, big.NewInt(num))
		target.Div(target, big.NewInt(den))
		return blockchain.BigToCompact(target)
	}
	day := 24 * time.Hour

	cases := []struct {
		name   string
		period time.Duration
		want   uint32
	}{
		{"twice as fast", 7 * day, scaled(1, 2)},
		{"clamped to a quarter", day, scaled(1, 4)},
		{"capped at the pow limit", 10 * 7 * day, p.PowLimitBits},
		{"on schedule", 14 * day, 0x1d00ffff},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			last := headerAt(0x1d00ffff, start.Add(tc.period))
			if err := checkDifficultyTransition(p, at, 2016, last, headerAt(tc.want, last.Timestamp)); err != nil {
				t.Fatalf("exact bits %08x: %v", tc.want, err)
			}
			// Inside the clamp but not the computed value.
			mustCode(t, checkDifficultyTransition(p, at, 2016, last, headerAt(tc.want-1, last.Timestamp)), consensus.ERR_HEADER_POW_INVALID)
		})
	}
	if got := scaled(1, 2); got != 0x1c7fff80 {
		t.Fatalf("half target bits=%08x", got)
	}
}

// minDifficultyNet is regtest with retargeting and the testnet
// min-difficulty rule switched on.
func minDifficultyNet() *chaincfg.Params {
	p := chaincfg.RegressionNetParams
	p.PoWNoRetargeting = false
	p.ReduceMinDifficulty = true
	return &p
}

const regularBits = 0x2000ffff

func TestValidateHeaderChainMinDifficulty(t *testing.T) {
	p := minDifficultyNet()
	long := p.MinDiffReductionTime + time.Minute
	short := 10 * time.Minute
	b1 := mineHeader(t, p, regtestGenesis(), regularBits, short, 0x01)

	type step struct {
		bits uint32
		gap  time.Duration
	}
	cases := []struct {
		name  string
		steps []step
		ok    bool
	}{
		{"min difficulty after a long gap", []step{{p.PowLimitBits, long}}, true},
		{"recovers the last regular bits", []step{{p.PowLimitBits, long}, {regularBits, short}}, true},
		{"walks back over several min difficulty blocks", []step{{p.PowLimitBits, long}, {p.PowLimitBits, long}, {regularBits, short}}, true},
		{"min difficulty needs the time gap", []step{{p.PowLimitBits, short}}, false},
		{"regular bits are required to resume", []step{{p.PowLimitBits, long}, {p.PowLimitBits, short}}, false},
		{"a long gap requires min difficulty", []step{{regularBits, long}}, false},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := make([]wire.BlockHeader, 0, len(tc.steps))
			prev := b1
			for _, s := range tc.steps {
				h := mineHeader(t, p, prev, s.bits, s.gap, byte(0x10+i))
				chain = append(chain, h)
				prev = h
			}
			err := ValidateHeaderChain(p, nil, 1, b1, chain)
			if tc.ok && err != nil {
				t.Fatalf("ValidateHeaderChain: %v", err)
			}
			if !tc.ok {
				mustCode(t, err, consensus.ERR_HEADER_POW_INVALID)
			}
		})
	}
}

func TestValidateHeaderChainMinDifficultyUsesAncestors(t *testing.T) {
	p := minDifficultyNet()
	long := p.MinDiffReductionTime + time.Minute
	b1 := mineHeader(t, p, regtestGenesis(), regularBits, 10*time.Minute, 0x01)
	b2 := mineHeader(t, p, b1, p.PowLimitBits, long, 0x02)
	ancestors := func(height uint32) (wire.BlockHeader, bool) {
		if height == 1 {
			return b1, true
		}
		return wire.BlockHeader{}, false
	}

	good := mineHeader(t, p, b2, regularBits, 10*time.Minute, 0x03)
	if err := ValidateHeaderChain(p, ancestors, 2, b2, []wire.BlockHeader{good}); err != nil {
		t.Fatalf("recovery through ancestors: %v", err)
	}
	stale := mineHeader(t, p, b2, p.PowLimitBits, 10*time.Minute, 0x04)
	mustCode(t, ValidateHeaderChain(p, ancestors, 2, b2, []wire.BlockHeader{stale}), consensus.ERR_HEADER_POW_INVALID)

	// Below the checkpoint the regular bits are unknown; proof of work
	// still applies.
	if err := ValidateHeaderChain(p, nil, 2, b2, []wire.BlockHeader{good}); err != nil {
		t.Fatalf("unknown ancestry: %v", err)
	}
}

func TestHeaderChainValidatesAgainstStoredAncestors(t *testing.T) {
	p := minDifficultyNet()
	long := p.MinDiffReductionTime + time.Minute
	b1 := mineHeader(t, p, regtestGenesis(), regularBits, 10*time.Minute, 0x01)
	work, overflow := uint256.FromBig(blockchain.CalcWork(b1.Bits))
	if overflow {
		t.Fatalf("work overflow")
	}
	hc, err := NewHeaderChain(p, b1, consensus.BlockLeaf{BlockHash: b1.BlockHash(), Height: 1, CumulativeChainwork: *work}, nil)
	if err != nil {
		t.Fatalf("NewHeaderChain: %v", err)
	}
	b2 := mineHeader(t, p, b1, p.PowLimitBits, long, 0x02)
	if _, err := hc.ConnectHeaders([]wire.BlockHeader{b2}); err != nil {
		t.Fatalf("min difficulty block: %v", err)
	}
	// The batch starts above b2, so b1's bits come from the chain itself.
	stale := mineHeader(t, p, b2, p.PowLimitBits, 10*time.Minute, 0x03)
	if _, err := hc.ConnectHeaders([]wire.BlockHeader{stale}); err == nil {
		t.Fatalf("expected stale min difficulty to be rejected")
	}
	first, err := hc.ConnectHeaders([]wire.BlockHeader{mineHeader(t, p, b2, regularBits, 10*time.Minute, 0x04)})
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if first != 3 || hc.Tip().Height != 3 {
		t.Fatalf("first=%d tip=%d", first, hc.Tip().Height)
	}
}

func TestCumulativeWork(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 5, 0x01)
	parent := *uint256.NewInt(2)
	all, final, err := CumulativeWork(parent, chain)
	if err != nil {
		t.Fatalf("CumulativeWork: %v", err)
	}
	if len(all) != len(chain)+1 {
		t.Fatalf("len=%d", len(all))
	}
	if !all[len(all)-1].Eq(&final) {
		t.Fatalf("final mismatch")
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].Lt(&all[i]) {
			t.Fatalf("work not increasing at %d", i)
		}
	}
	// Regtest blocks carry work 2 each.
	if final.Uint64() != 2+2*5 {
		t.Fatalf("final=%s", final.Dec())
	}
}

func TestCumulativeWorkOverflow(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 1, 0x01)
	almostMax := new(uint256.Int).SetAllOne()
	almostMax.SubUint64(almostMax, 1)
	_, _, err := CumulativeWork(*almostMax, chain)
	mustCode(t, err, consensus.ERR_CHAINWORK_OVERFLOW)
}

func TestLeavesFromHeaders(t *testing.T) {
	chain := mineChain(t, regtestGenesis(), 3, 0x01)
	g := genesisLeaf(t)
	leaves, err := LeavesFromHeaders(regtest, nil, 0, regtestGenesis(), g.CumulativeChainwork, chain)
	if err != nil {
		t.Fatalf("LeavesFromHeaders: %v", err)
	}
	for i, l := range leaves {
		if l.Height != uint32(i+1) {
			t.Fatalf("leaf %d height=%d", i, l.Height)
		}
		if l.BlockHash != [32]byte(chain[i].BlockHash()) {
			t.Fatalf("leaf %d hash mismatch", i)
		}
	}

	chain[2].PrevBlock[0] ^= 0x01
	_, err = LeavesFromHeaders(regtest, nil, 0, regtestGenesis(), g.CumulativeChainwork, chain)
	var le *consensus.LedgerError
	if !errors.As(err, &le) {
		t.Fatalf("expected coded error, got %v", err)
	}
}
