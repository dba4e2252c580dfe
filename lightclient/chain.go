package lightclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/crypto"
)

var (
	ErrHeightGap        = errors.New("lightclient: leaves do not connect to the canonical chain")
	ErrInsufficientWork = errors.New("lightclient: candidate chain does not carry more work")
	ErrUnknownParent    = errors.New("lightclient: parent header is not canonical")
	ErrHeaderSink       = errors.New("lightclient: persisting headers failed")
)

// HeaderSink persists canonical headers from a height upward, replacing
// whatever it held at and above that height.
type HeaderSink interface {
	PutHeaders(first uint32, headers []wire.BlockHeader) error
}

// HeaderChain is the canonical sequence of block leaves starting at a
// checkpoint, mirrored into an MMR. A heavier competing suffix replaces the
// current one from the fork point.
type HeaderChain struct {
	mu      sync.RWMutex
	params  *chaincfg.Params
	leaves  []consensus.BlockLeaf
	headers []wire.BlockHeader
	byHash  map[[32]byte]uint32
	mmr     *MMR
	sink    HeaderSink
}

// NewHeaderChain starts a chain at the checkpoint header with its known
// cumulative work. The checkpoint is leaf 0 of the MMR.
func NewHeaderChain(params *chaincfg.Params, checkpoint wire.BlockHeader, checkpointLeaf consensus.BlockLeaf, hasher crypto.Hasher) (*HeaderChain, error) {
	if hasher == nil {
		hasher = crypto.Default
	}
	if [32]byte(checkpoint.BlockHash()) != checkpointLeaf.BlockHash {
		return nil, fmt.Errorf("lightclient: checkpoint leaf does not describe checkpoint header")
	}
	hc := &HeaderChain{
		params: params,
		byHash: make(map[[32]byte]uint32),
		mmr:    NewMMR(hasher),
	}
	if err := hc.appendLocked(checkpointLeaf, checkpoint); err != nil {
		return nil, err
	}
	return hc, nil
}

// SetSink makes every later connect persist its headers before they become
// canonical. A sink failure leaves the chain unchanged.
func (hc *HeaderChain) SetSink(sink HeaderSink) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.sink = sink
}

func (hc *HeaderChain) BaseHeight() uint32 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.leaves[0].Height
}

func (hc *HeaderChain) Tip() consensus.BlockLeaf {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.leaves[len(hc.leaves)-1]
}

func (hc *HeaderChain) Len() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.leaves)
}

func (hc *HeaderChain) Leaf(height uint32) (consensus.BlockLeaf, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	i, ok := hc.indexOf(height)
	if !ok {
		return consensus.BlockLeaf{}, false
	}
	return hc.leaves[i], true
}

func (hc *HeaderChain) Leaves() []consensus.BlockLeaf {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return append([]consensus.BlockLeaf(nil), hc.leaves...)
}

func (hc *HeaderChain) ContainsLeafHash(leafHash [32]byte) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	_, ok := hc.byHash[leafHash]
	return ok
}

func (hc *HeaderChain) Root() [32]byte {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.mmr.Root()
}

// Headers returns the canonical headers above the checkpoint.
func (hc *HeaderChain) Headers() []wire.BlockHeader {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return append([]wire.BlockHeader(nil), hc.headers[1:]...)
}

// LeafForRoot finds the canonical prefix whose MMR root equals root and
// returns its last leaf.
func (hc *HeaderChain) LeafForRoot(root [32]byte) (consensus.BlockLeaf, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if hc.mmr.Root() == root {
		return hc.leaves[len(hc.leaves)-1], true
	}
	m := NewMMR(hc.mmr.hasher)
	for i := range hc.leaves {
		h, err := consensus.HashBlockLeaf(&hc.leaves[i])
		if err != nil {
			return consensus.BlockLeaf{}, false
		}
		m.Append(h)
		if m.Root() == root {
			return hc.leaves[i], true
		}
	}
	return consensus.BlockLeaf{}, false
}

// ProofForRoot returns the inclusion proof of the leaf at height against
// the canonical prefix committed by root.
func (hc *HeaderChain) ProofForRoot(height uint32, root [32]byte) (consensus.InclusionProof, error) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	i, ok := hc.indexOf(height)
	if !ok {
		return consensus.InclusionProof{}, fmt.Errorf("lightclient: height %d not canonical", height)
	}
	if hc.mmr.Root() == root {
		return hc.mmr.Proof(uint64(i))
	}
	m := NewMMR(hc.mmr.hasher)
	for j := range hc.leaves {
		h, err := consensus.HashBlockLeaf(&hc.leaves[j])
		if err != nil {
			return consensus.InclusionProof{}, err
		}
		m.Append(h)
		if j >= i && m.Root() == root {
			return m.Proof(uint64(i))
		}
	}
	return consensus.InclusionProof{}, fmt.Errorf("lightclient: root not committed by the canonical chain")
}

// Proof returns the inclusion proof of the canonical leaf at height.
func (hc *HeaderChain) Proof(height uint32) (consensus.InclusionProof, error) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	i, ok := hc.indexOf(height)
	if !ok {
		return consensus.InclusionProof{}, fmt.Errorf("lightclient: height %d not canonical", height)
	}
	return hc.mmr.Proof(uint64(i))
}

// ConnectHeaders validates headers on top of the canonical header they
// build on and connects the resulting leaves, returning the height of the
// first one. A batch forking below the tip must carry more cumulative work
// than the current tip.
func (hc *HeaderChain) ConnectHeaders(headers []wire.BlockHeader) (uint32, error) {
	if len(headers) == 0 {
		return 0, consensus.NewError(consensus.ERR_HEADER_CHAIN_EMPTY, "no headers")
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	parentIdx := -1
	for i := len(hc.headers) - 1; i >= 0; i-- {
		if hc.headers[i].BlockHash() == headers[0].PrevBlock {
			parentIdx = i
			break
		}
	}
	if parentIdx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParent, headers[0].PrevBlock)
	}
	parentLeaf := hc.leaves[parentIdx]
	leaves, err := LeavesFromHeaders(hc.params, hc.headerAtLocked, parentLeaf.Height, hc.headers[parentIdx], parentLeaf.CumulativeChainwork, headers)
	if err != nil {
		return 0, err
	}
	if err := hc.connectLocked(leaves, headers); err != nil {
		return 0, err
	}
	return leaves[0].Height, nil
}

func (hc *HeaderChain) connectLocked(leaves []consensus.BlockLeaf, headers []wire.BlockHeader) error {
	tip := hc.leaves[len(hc.leaves)-1]
	first := leaves[0].Height
	if first <= hc.leaves[0].Height || first > tip.Height+1 {
		return fmt.Errorf("%w: first height %d, tip %d", ErrHeightGap, first, tip.Height)
	}
	if first <= tip.Height {
		last := leaves[len(leaves)-1]
		if !last.CumulativeChainwork.Gt(&tip.CumulativeChainwork) {
			return fmt.Errorf("%w: %s <= %s", ErrInsufficientWork, last.CumulativeChainwork.Dec(), tip.CumulativeChainwork.Dec())
		}
	}
	hashes := make([][32]byte, len(leaves))
	for i := range leaves {
		h, err := consensus.HashBlockLeaf(&leaves[i])
		if err != nil {
			return err
		}
		hashes[i] = h
	}
	if hc.sink != nil {
		if err := hc.sink.PutHeaders(first, headers); err != nil {
			return fmt.Errorf("%w: %w", ErrHeaderSink, err)
		}
	}
	if first <= tip.Height {
		hc.rewindLocked(first - 1)
	}
	for i := range leaves {
		hc.appendHashedLocked(leaves[i], headers[i], hashes[i])
	}
	return nil
}

// RewindToHeight drops every leaf above height.
func (hc *HeaderChain) RewindToHeight(height uint32) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, ok := hc.indexOf(height); !ok {
		return fmt.Errorf("lightclient: rewind height out of range: %d", height)
	}
	hc.rewindLocked(height)
	return nil
}

func (hc *HeaderChain) rewindLocked(height uint32) {
	keep, _ := hc.indexOf(height)
	for _, l := range hc.leaves[keep+1:] {
		h, err := consensus.HashBlockLeaf(&l)
		if err == nil {
			delete(hc.byHash, h)
		}
	}
	hc.leaves = hc.leaves[:keep+1]
	hc.headers = hc.headers[:keep+1]
	hc.mmr.Truncate(uint64(keep + 1))
}

func (hc *HeaderChain) appendLocked(leaf consensus.BlockLeaf, header wire.BlockHeader) error {
	h, err := consensus.HashBlockLeaf(&leaf)
	if err != nil {
		return err
	}
	hc.appendHashedLocked(leaf, header, h)
	return nil
}

func (hc *HeaderChain) appendHashedLocked(leaf consensus.BlockLeaf, header wire.BlockHeader, h [32]byte) {
	hc.leaves = append(hc.leaves, leaf)
	hc.headers = append(hc.headers, header)
	hc.byHash[h] = leaf.Height
	hc.mmr.Append(h)
}

func (hc *HeaderChain) headerAtLocked(height uint32) (wire.BlockHeader, bool) {
	i, ok := hc.indexOf(height)
	if !ok {
		return wire.BlockHeader{}, false
	}
	return hc.headers[i], true
}

func (hc *HeaderChain) indexOf(height uint32) (int, bool) {
	if len(hc.leaves) == 0 || height < hc.leaves[0].Height {
		return 0, false
	}
	i := int(height - hc.leaves[0].Height)
	if i >= len(hc.leaves) {
		return 0, false
	}
	return i, true
}

// ChainTip adapts the chain to the watchtower's view interface.
func (hc *HeaderChain) ChainTip(context.Context) (consensus.BlockLeaf, bool, error) {
	return hc.Tip(), true, nil
}

func (hc *HeaderChain) HasLeaf(_ context.Context, leafHash [32]byte) (bool, error) {
	return hc.ContainsLeafHash(leafHash), nil
}
