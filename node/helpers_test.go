package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/lightclient"
	"github.com/shanmukanaks/protocol/verifier"
)

var (
	depositor = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	taker     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// testConfig is a regtest service with the digest verifier and no challenge
// period, rooted in t.TempDir().
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.API.BindAddr = "127.0.0.1:0"
	cfg.Exchange.Verifier = "digest"
	cfg.Exchange.Params.ChallengePeriod = 0
	cfg.LightClient.WatchtowerInterval = 20 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	svc, err := NewService(cfg, log)
	require.NoError(t, err)
	return svc
}

// mineHeaders grinds n regtest headers on top of parent.
func mineHeaders(t *testing.T, parent wire.BlockHeader, n int, salt byte) []wire.BlockHeader {
	t.Helper()
	params := &chaincfg.RegressionNetParams
	target := blockchain.CompactToBig(params.PowLimitBits)
	out := make([]wire.BlockHeader, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		h := wire.BlockHeader{
			Version:   4,
			PrevBlock: prev.BlockHash(),
			Timestamp: prev.Timestamp.Add(10 * time.Minute),
			Bits:      params.PowLimitBits,
		}
		h.MerkleRoot[0] = salt
		h.MerkleRoot[1] = byte(i)
		for nonce := uint32(0); ; nonce++ {
			h.Nonce = nonce
			hash := h.BlockHash()
			if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
				break
			}
			if nonce > 1<<20 {
				t.Fatalf("could not mine regtest header")
			}
		}
		out = append(out, h)
		prev = h
	}
	return out
}

func encodeHeaders(t *testing.T, headers []wire.BlockHeader) headersRequest {
	t.Helper()
	req := headersRequest{Headers: make([]string, len(headers))}
	for i := range headers {
		var buf bytes.Buffer
		require.NoError(t, headers[i].Serialize(&buf))
		req.Headers[i] = hex.EncodeToString(buf.Bytes())
	}
	return req
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func scriptFor(t *testing.T, tag byte) []byte {
	t.Helper()
	var keyHash [20]byte
	keyHash[0] = tag
	s, err := consensus.P2WPKHScript(keyHash)
	require.NoError(t, err)
	return s[:]
}

// deposit funds depositor on the service's token ledger and opens a vault.
func deposit(t *testing.T, svc *Service, amount uint64, salt byte) consensus.DepositVault {
	t.Helper()
	exAddr := common.HexToAddress(svc.cfg.Exchange.Address)
	amt := uint256.NewInt(amount)
	require.True(t, svc.Ledger().Mint(depositor, amt))
	svc.Ledger().Approve(depositor, exAddr, amt)
	p := exchange.DepositParams{
		Depositor:     depositor,
		PayoutAddress: depositor,
		ExpectedSats:  50_000,
		ScriptPubKey:  scriptFor(t, salt),
	}
	p.Amount.SetUint64(amount)
	p.Salt[0] = salt
	v, err := svc.Exchange().Deposit(context.Background(), p)
	require.NoError(t, err)
	return v
}

// swapParams proves a swap over vaults for the block at height, committing
// the light client to the service's current header chain tip.
func swapParams(t *testing.T, svc *Service, height uint32, vaults []consensus.DepositVault, amount, fee uint64) exchange.SwapProofParams {
	t.Helper()
	chain := svc.Chain()
	leaf, ok := chain.Leaf(height)
	require.True(t, ok, "no leaf at %d", height)
	var mined []consensus.BlockLeaf
	for _, l := range chain.Leaves() {
		if l.Height >= height {
			mined = append(mined, l)
		}
	}
	p := exchange.SwapProofParams{
		BlockHash:        leaf.BlockHash,
		BlockHeight:      leaf.Height,
		Chainwork:        leaf.CumulativeChainwork,
		Vaults:           vaults,
		PayoutAddress:    taker,
		PriorMMRRoot:     svc.LightClient().Root(),
		NewMMRRoot:       chain.Root(),
		CompressedLeaves: lightclient.CompressLeaves(mined),
	}
	p.TotalSwapAmount.SetUint64(amount)
	p.TotalSwapFee.SetUint64(fee)

	agg, err := consensus.AggregateVaultCommitment(vaults)
	require.NoError(t, err)
	pi := p.PublicInputs(agg, svc.Exchange().Params().MinConfirmationBlocks)
	enc, err := pi.Encode()
	require.NoError(t, err)
	vkey, err := svc.cfg.Exchange.Exchange()
	require.NoError(t, err)
	p.Proof = verifier.DigestVerifier{}.Prove(vkey.VerificationKey, enc)
	return p
}

func (p proofResponse) inclusion() consensus.InclusionProof {
	out := consensus.InclusionProof{
		LeafIndex: p.LeafIndex,
		LeafCount: p.LeafCount,
		Siblings:  make([][32]byte, len(p.Siblings)),
		Peaks:     make([][32]byte, len(p.Peaks)),
	}
	for i, h := range p.Siblings {
		out.Siblings[i] = h
	}
	for i, h := range p.Peaks {
		out.Peaks[i] = h
	}
	return out
}
