package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/indexer"
	"github.com/shanmukanaks/protocol/lightclient"
)

// maxHeaderBatch bounds one POST /api/v1/headers request.
const maxHeaderBatch = 2016

// IndexReader answers witness queries from the snapshot index.
type IndexReader interface {
	Vault(ctx context.Context, index uint64) (consensus.DepositVault, error)
	Swap(ctx context.Context, index uint64) (consensus.ProposedSwap, error)
	OpenVaults(ctx context.Context, owner string) ([]consensus.DepositVault, error)
	PendingSwaps(ctx context.Context) ([]consensus.ProposedSwap, error)
}

// APIServer serves the ledger's read surface, header ingestion, the event
// stream and metrics.
type APIServer struct {
	ex      *exchange.Exchange
	client  *lightclient.Client
	chain   *lightclient.HeaderChain
	hub     *EventHub
	index   IndexReader
	metrics *Metrics
	log     logrus.FieldLogger

	router *mux.Router
	http   *http.Server
}

type APIDeps struct {
	Exchange    *exchange.Exchange
	LightClient *lightclient.Client
	Chain       *lightclient.HeaderChain
	Hub         *EventHub
	// Index is optional; without it the /api/v1/index routes answer 503.
	Index    IndexReader
	Metrics  *Metrics
	Gatherer prometheus.Gatherer
}

func NewAPIServer(bindAddr string, deps APIDeps, log logrus.FieldLogger) *APIServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &APIServer{
		ex:      deps.Exchange,
		client:  deps.LightClient,
		chain:   deps.Chain,
		hub:     deps.Hub,
		index:   deps.Index,
		metrics: deps.Metrics,
		log:     log.WithField("component", "api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/vaults", s.handleVaultsLen).Methods("GET")
	r.HandleFunc("/api/v1/vaults/check", s.handleCheckVault).Methods("POST")
	r.HandleFunc("/api/v1/vaults/{index:[0-9]+}", s.handleVault).Methods("GET")
	r.HandleFunc("/api/v1/swaps", s.handleSwapsLen).Methods("GET")
	r.HandleFunc("/api/v1/swaps/check", s.handleCheckSwap).Methods("POST")
	r.HandleFunc("/api/v1/swaps/{index:[0-9]+}", s.handleSwap).Methods("GET")
	r.HandleFunc("/api/v1/fees", s.handleFees).Methods("GET")
	r.HandleFunc("/api/v1/fees/payout", s.handlePayoutFees).Methods("POST")
	r.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	r.HandleFunc("/api/v1/lightclient", s.handleLightClient).Methods("GET")
	r.HandleFunc("/api/v1/lightclient/proof/{height:[0-9]+}", s.handleInclusionProof).Methods("GET")
	r.HandleFunc("/api/v1/headers", s.handlePostHeaders).Methods("POST")
	r.HandleFunc("/api/v1/index/vaults", s.handleIndexedVaults).Methods("GET")
	r.HandleFunc("/api/v1/index/vaults/{index:[0-9]+}", s.handleIndexedVault).Methods("GET")
	r.HandleFunc("/api/v1/index/swaps/pending", s.handlePendingSwaps).Methods("GET")
	r.HandleFunc("/api/v1/index/swaps/{index:[0-9]+}", s.handleIndexedSwap).Methods("GET")
	if s.hub != nil {
		r.Handle("/api/v1/events", s.hub).Methods("GET")
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router = r

	s.http = &http.Server{
		Addr:              bindAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *APIServer) Handler() http.Handler { return s.router }

// Serve accepts connections on l until Stop is called.
func (s *APIServer) Serve(l net.Listener) error {
	s.log.WithField("addr", l.Addr().String()).Info("api listening")
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Start() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(l)
}

func (s *APIServer) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type lenResponse struct {
	Length uint64 `json:"length"`
}

type commitmentResponse struct {
	Index      uint64      `json:"index"`
	Commitment common.Hash `json:"commitment"`
}

type checkResponse struct {
	Valid bool `json:"valid"`
}

type feesResponse struct {
	AccumulatedFees string `json:"accumulated_fees"`
}

type lightClientResponse struct {
	Root       common.Hash   `json:"root"`
	BaseHeight uint32        `json:"base_height"`
	Committed  *leafResponse `json:"committed_tip,omitempty"`
	ChainTip   leafResponse  `json:"chain_tip"`
}

type leafResponse struct {
	BlockHash           common.Hash `json:"block_hash"`
	Height              uint32      `json:"height"`
	CumulativeChainwork string      `json:"cumulative_chainwork"`
}

type proofResponse struct {
	Leaf      leafResponse  `json:"leaf"`
	LeafIndex uint64        `json:"leaf_index"`
	LeafCount uint64        `json:"leaf_count"`
	Siblings  []common.Hash `json:"siblings"`
	Peaks     []common.Hash `json:"peaks"`
}

type headersRequest struct {
	Headers []string `json:"headers"`
}

type headersResponse struct {
	Tip leafResponse `json:"tip"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *APIServer) handleVaultsLen(w http.ResponseWriter, _ *http.Request) {
	n, err := s.ex.VaultCommitmentsLen()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lenResponse{Length: n})
}

func (s *APIServer) handleVault(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.ex.VaultCommitment(index)
	s.writeCommitment(w, index, h, err)
}

func (s *APIServer) handleSwapsLen(w http.ResponseWriter, _ *http.Request) {
	n, err := s.ex.SwapCommitmentsLen()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lenResponse{Length: n})
}

func (s *APIServer) handleSwap(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.ex.SwapCommitment(index)
	s.writeCommitment(w, index, h, err)
}

func (s *APIServer) writeCommitment(w http.ResponseWriter, index uint64, h [32]byte, err error) {
	switch {
	case errors.Is(err, exchange.ErrIndexOutOfRange):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, commitmentResponse{Index: index, Commitment: h})
	}
}

func (s *APIServer) handleCheckVault(w http.ResponseWriter, r *http.Request) {
	var v consensus.DepositVault
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.ex.CheckVault(v)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Valid: ok})
}

func (s *APIServer) handleCheckSwap(w http.ResponseWriter, r *http.Request) {
	var sw consensus.ProposedSwap
	if err := json.NewDecoder(r.Body).Decode(&sw); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.ex.CheckSwap(sw)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Valid: ok})
}

func (s *APIServer) handleFees(w http.ResponseWriter, _ *http.Request) {
	fees, err := s.ex.AccumulatedFees()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{AccumulatedFees: fees.Dec()})
}

func (s *APIServer) handlePayoutFees(w http.ResponseWriter, r *http.Request) {
	paid, err := s.ex.PayoutFees(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{AccumulatedFees: paid.Dec()})
}

func (s *APIServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.ex.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *APIServer) handleLightClient(w http.ResponseWriter, _ *http.Request) {
	root := s.client.Root()
	resp := lightClientResponse{
		Root:       root,
		BaseHeight: s.client.BaseHeight(),
		ChainTip:   toLeafResponse(s.chain.Tip()),
	}
	if leaf, ok := s.chain.LeafForRoot(root); ok {
		l := toLeafResponse(leaf)
		resp.Committed = &l
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInclusionProof serves the witness a release needs: the proof of
// the leaf at height against the currently committed root.
func (s *APIServer) handleInclusionProof(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	leaf, ok := s.chain.Leaf(uint32(height))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("height %d not canonical", height))
		return
	}
	proof, err := s.chain.ProofForRoot(leaf.Height, s.client.Root())
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	resp := proofResponse{
		Leaf:      toLeafResponse(leaf),
		LeafIndex: proof.LeafIndex,
		LeafCount: proof.LeafCount,
		Siblings:  make([]common.Hash, len(proof.Siblings)),
		Peaks:     make([]common.Hash, len(proof.Peaks)),
	}
	for i, h := range proof.Siblings {
		resp.Siblings[i] = h
	}
	for i, h := range proof.Peaks {
		resp.Peaks[i] = h
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handlePostHeaders(w http.ResponseWriter, r *http.Request) {
	var req headersRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Headers) == 0 || len(req.Headers) > maxHeaderBatch {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("want 1..%d headers, got %d", maxHeaderBatch, len(req.Headers)))
		return
	}
	headers := make([]wire.BlockHeader, len(req.Headers))
	for i, raw := range req.Headers {
		b, err := hex.DecodeString(raw)
		if err != nil || len(b) != wire.MaxBlockHeaderPayload {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("header %d: want 80 hex-encoded bytes", i))
			return
		}
		if err := headers[i].Deserialize(bytes.NewReader(b)); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("header %d: %w", i, err))
			return
		}
	}
	first, err := s.chain.ConnectHeaders(headers)
	switch {
	case errors.Is(err, lightclient.ErrHeaderSink):
		s.writeError(w, http.StatusInternalServerError, err)
		return
	case err != nil:
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	tip := s.chain.Tip()
	if s.metrics != nil {
		s.metrics.ObserveHeaderTip(tip.Height)
	}
	s.log.WithFields(logrus.Fields{"first": first, "count": len(headers), "tip": tip.Height}).Info("headers connected")
	writeJSON(w, http.StatusOK, headersResponse{Tip: toLeafResponse(tip)})
}

var errNoIndex = errors.New("snapshot index not configured")

// indexReady writes 503 when no index is wired and reports whether the
// request can proceed.
func (s *APIServer) indexReady(w http.ResponseWriter) bool {
	if s.index == nil {
		s.writeError(w, http.StatusServiceUnavailable, errNoIndex)
		return false
	}
	return true
}

func (s *APIServer) handleIndexedVault(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := s.index.Vault(r.Context(), index)
	s.writeIndexed(w, v, err)
}

func (s *APIServer) handleIndexedSwap(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	sw, err := s.index.Swap(r.Context(), index)
	s.writeIndexed(w, sw, err)
}

// handleIndexedVaults lists the open vaults of ?owner=.
func (s *APIServer) handleIndexedVaults(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	owner := r.URL.Query().Get("owner")
	if !common.IsHexAddress(owner) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("owner %q is not an address", owner))
		return
	}
	vaults, err := s.index.OpenVaults(r.Context(), common.HexToAddress(owner).Hex())
	s.writeIndexed(w, vaults, err)
}

func (s *APIServer) handlePendingSwaps(w http.ResponseWriter, r *http.Request) {
	if !s.indexReady(w) {
		return
	}
	swaps, err := s.index.PendingSwaps(r.Context())
	s.writeIndexed(w, swaps, err)
}

func (s *APIServer) writeIndexed(w http.ResponseWriter, v any, err error) {
	switch {
	case errors.Is(err, indexer.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "swap-ledger",
	})
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if code, ok := consensus.CodeOf(err); ok {
		resp.Code = string(code)
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, resp)
}

// statusFor maps ledger rejections to 409 and everything else to 500.
func statusFor(err error) int {
	if _, ok := consensus.CodeOf(err); ok {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toLeafResponse(l consensus.BlockLeaf) leafResponse {
	return leafResponse{
		BlockHash:           l.BlockHash,
		Height:              l.Height,
		CumulativeChainwork: l.CumulativeChainwork.Dec(),
	}
}
