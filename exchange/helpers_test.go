package exchange

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/lightclient"
	"github.com/shanmukanaks/protocol/token"
	"github.com/shanmukanaks/protocol/verifier"
)

const baseHeight = 840_000

var (
	provider     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	provider2    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	taker        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000e0c0e")
	feeRouter    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	testVKey     = [32]byte{0x5a, 0x4b}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyToken fails on demand so rollback paths can be exercised.
type flakyToken struct {
	TokenLedger
	failTransfer     bool
	failTransferFrom bool
}

func (f *flakyToken) Transfer(to common.Address, amount *uint256.Int) bool {
	if f.failTransfer {
		return false
	}
	return f.TokenLedger.Transfer(to, amount)
}

func (f *flakyToken) TransferFrom(from, to common.Address, amount *uint256.Int) bool {
	if f.failTransferFrom {
		return false
	}
	return f.TokenLedger.TransferFrom(from, to, amount)
}

type recorder struct {
	mu      sync.Mutex
	vaults  []consensus.DepositVault
	swaps   []consensus.ProposedSwap
	ops     map[string]int
	rejects map[string]int
	gauges  int
}

func newRecorder() *recorder {
	return &recorder{ops: map[string]int{}, rejects: map[string]int{}}
}

func (r *recorder) VaultUpdated(_ context.Context, v consensus.DepositVault) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaults = append(r.vaults, v)
	return nil
}

func (r *recorder) SwapUpdated(_ context.Context, s consensus.ProposedSwap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps = append(r.swaps, s)
	return nil
}

func (r *recorder) ObserveOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rejects[op]++
		return
	}
	r.ops[op]++
}

func (r *recorder) ObserveLedger(uint64, uint64, *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges++
}

type harness struct {
	t      *testing.T
	ex     *Exchange
	store  *MemStore
	ledger *token.Ledger
	token  *flakyToken
	clock  *clock
	lc     *lightclient.Client
	mmr    *lightclient.MMR
	leaves []consensus.BlockLeaf
	branch byte
	rec    *recorder
	salt   byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	h := &harness{
		t:      t,
		store:  NewMemStore(),
		ledger: token.NewLedger("USDC", log),
		clock:  &clock{t: time.Unix(1_700_000_000, 0)},
		mmr:    lightclient.NewMMR(nil),
		rec:    newRecorder(),
	}
	h.token = &flakyToken{TokenLedger: h.ledger.Account(exchangeAddr)}
	h.lc = lightclient.NewClient(lightclient.ClientConfig{
		BaseHeight:  baseHeight,
		InitialRoot: h.mmr.Root(),
		Logger:      log,
	})
	reg := verifier.NewRegistry()
	require.NoError(t, reg.Register(testVKey, verifier.DigestVerifier{}))

	cfg := Config{
		Params:          consensus.DefaultParams(),
		VerificationKey: testVKey,
		Address:         exchangeAddr,
		FeeRouter:       feeRouter,
	}
	ex, err := New(cfg, h.store, h.token, reg, h.lc,
		WithLogger(log),
		WithClock(h.clock.now),
		WithNotifier(h.rec),
		WithObserver(h.rec),
	)
	require.NoError(t, err)
	h.ex = ex
	return h
}

func (h *harness) fund(addr common.Address, amount uint64) {
	h.t.Helper()
	amt := uint256.NewInt(amount)
	require.True(h.t, h.ledger.Mint(addr, amt))
	h.ledger.Approve(addr, exchangeAddr, amt)
}

func testScript(t *testing.T, tag byte) []byte {
	t.Helper()
	var keyHash [20]byte
	keyHash[0] = tag
	s, err := consensus.P2WPKHScript(keyHash)
	require.NoError(t, err)
	return s[:]
}

func (h *harness) depositParams(owner common.Address, amount uint64) DepositParams {
	h.salt++
	p := DepositParams{
		Depositor:     owner,
		PayoutAddress: owner,
		ExpectedSats:  50_000,
		ScriptPubKey:  testScript(h.t, h.salt),
	}
	p.Amount.SetUint64(amount)
	p.Salt[0] = h.salt
	return p
}

// deposit funds owner and opens a vault of amount.
func (h *harness) deposit(owner common.Address, amount uint64) consensus.DepositVault {
	h.t.Helper()
	h.fund(owner, amount)
	v, err := h.ex.Deposit(context.Background(), h.depositParams(owner, amount))
	require.NoError(h.t, err)
	return v
}

// mine appends n synthetic block leaves to the relayer's MMR.
func (h *harness) mine(n int) []consensus.BlockLeaf {
	h.t.Helper()
	out := make([]consensus.BlockLeaf, 0, n)
	for i := 0; i < n; i++ {
		height := uint32(baseHeight + len(h.leaves)) // #nosec G115 -- test heights are small.
		leaf := consensus.BlockLeaf{Height: height}
		leaf.BlockHash[0] = h.branch
		binary.BigEndian.PutUint32(leaf.BlockHash[28:], height)
		leaf.CumulativeChainwork.SetUint64(uint64(len(h.leaves)+1)*1_000 + uint64(h.branch))
		lh, err := consensus.HashBlockLeaf(&leaf)
		require.NoError(h.t, err)
		h.mmr.Append(lh)
		h.leaves = append(h.leaves, leaf)
		out = append(out, leaf)
	}
	return out
}

// reorg drops every relayer leaf from index fork on and switches branch.
func (h *harness) reorg(fork int) {
	h.mmr.Truncate(uint64(fork)) // #nosec G115 -- non-negative.
	h.leaves = h.leaves[:fork]
	h.branch++
}

func (h *harness) inclusion(leaf consensus.BlockLeaf) consensus.InclusionProof {
	h.t.Helper()
	p, err := h.mmr.Proof(uint64(leaf.Height - baseHeight))
	require.NoError(h.t, err)
	return p
}

// proofParams mines the proven block plus its confirmations and returns a
// correctly signed submission over vaults.
func (h *harness) proofParams(vaults []consensus.DepositVault, amount, fee uint64) SwapProofParams {
	h.t.Helper()
	prior := h.lc.Root()
	mined := h.mine(1 + int(h.ex.Params().MinConfirmationBlocks))
	leaf := mined[0]
	p := SwapProofParams{
		BlockHash:        leaf.BlockHash,
		BlockHeight:      leaf.Height,
		Chainwork:        leaf.CumulativeChainwork,
		Vaults:           vaults,
		PayoutAddress:    taker,
		PriorMMRRoot:     prior,
		NewMMRRoot:       h.mmr.Root(),
		CompressedLeaves: lightclient.CompressLeaves(mined),
	}
	p.TotalSwapAmount.SetUint64(amount)
	p.TotalSwapFee.SetUint64(fee)
	h.sign(&p)
	return p
}

func (h *harness) sign(p *SwapProofParams) {
	h.t.Helper()
	agg, err := consensus.AggregateVaultCommitment(p.Vaults)
	if err != nil {
		p.Proof = nil
		return
	}
	pi := p.PublicInputs(agg, h.ex.Params().MinConfirmationBlocks)
	enc, err := pi.Encode()
	require.NoError(h.t, err)
	p.Proof = verifier.DigestVerifier{}.Prove(testVKey, enc)
}

// ledgerState captures everything an operation may mutate.
type ledgerState struct {
	vaults   [][32]byte
	swaps    [][32]byte
	fees     uint256.Int
	balances map[common.Address]string
	root     [32]byte
}

func (h *harness) state() ledgerState {
	h.t.Helper()
	s := ledgerState{balances: map[common.Address]string{}, root: h.lc.Root()}
	require.NoError(h.t, h.store.View(func(r StoreReader) error {
		n, err := r.VaultCommitmentsLen()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			c, err := r.VaultCommitment(i)
			if err != nil {
				return err
			}
			s.vaults = append(s.vaults, c)
		}
		n, err = r.SwapCommitmentsLen()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			c, err := r.SwapCommitment(i)
			if err != nil {
				return err
			}
			s.swaps = append(s.swaps, c)
		}
		s.fees, err = r.AccumulatedFees()
		return err
	}))
	for _, a := range []common.Address{provider, provider2, taker, exchangeAddr, feeRouter} {
		s.balances[a] = h.ledger.BalanceOf(a).Dec()
	}
	return s
}

func (h *harness) requireCommitted(vaults ...consensus.DepositVault) {
	h.t.Helper()
	for _, v := range vaults {
		ok, err := h.ex.CheckVault(v)
		require.NoError(h.t, err)
		require.True(h.t, ok, "vault %d does not match its commitment", v.VaultIndex)
	}
}

func (h *harness) requireSwapCommitted(s consensus.ProposedSwap) {
	h.t.Helper()
	ok, err := h.ex.CheckSwap(s)
	require.NoError(h.t, err)
	require.True(h.t, ok, "swap %d does not match its commitment", s.SwapIndex)
}

func requireCode(t *testing.T, err error, want consensus.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := consensus.CodeOf(err)
	require.True(t, ok, "expected coded error %s, got %v", want, err)
	require.Equal(t, want, got, "error: %v", err)
}

func balance(h *harness, a common.Address) uint64 {
	return h.ledger.BalanceOf(a).Uint64()
}

// brokenReads fails every commitment read inside Update.
type brokenReads struct {
	CommitmentStore
	err error
}

func (b brokenReads) Update(fn func(StoreTx) error) error {
	return b.CommitmentStore.Update(func(tx StoreTx) error {
		return fn(brokenTx{StoreTx: tx, err: b.err})
	})
}

type brokenTx struct {
	StoreTx
	err error
}

func (b brokenTx) VaultCommitment(uint64) ([32]byte, error) { return [32]byte{}, b.err }
func (b brokenTx) SwapCommitment(uint64) ([32]byte, error)  { return [32]byte{}, b.err }

// gatedNotifier blocks the first vault notification until release is closed.
type gatedNotifier struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	owners []common.Address
}

func newGatedNotifier() *gatedNotifier {
	return &gatedNotifier{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedNotifier) VaultUpdated(_ context.Context, v consensus.DepositVault) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owners = append(g.owners, v.OwnerAddress)
	return nil
}

func (g *gatedNotifier) SwapUpdated(context.Context, consensus.ProposedSwap) error { return nil }

func (g *gatedNotifier) seen() []common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Address(nil), g.owners...)
}

// failingCommit runs every callback and then refuses to commit it.
type failingCommit struct {
	CommitmentStore
	err error
}

func (f failingCommit) Update(fn func(StoreTx) error) error {
	return f.CommitmentStore.Update(func(tx StoreTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return f.err
	})
}
