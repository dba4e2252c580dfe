package lightclient

import (
	"context"
	"sync"

	"github.com/shanmukanaks/protocol/consensus"
)

// CommittedView is the light client as seen through a local header chain:
// its tip is the last canonical leaf covered by the client's committed root.
// The last located tip is remembered, so a local reorg that orphans it is
// still reported.
type CommittedView struct {
	client *Client
	chain  *HeaderChain

	mu  sync.Mutex
	tip consensus.BlockLeaf
	ok  bool
}

func NewCommittedView(client *Client, chain *HeaderChain) *CommittedView {
	return &CommittedView{client: client, chain: chain}
}

func (v *CommittedView) BaseHeight() uint32 { return v.chain.BaseHeight() }

func (v *CommittedView) ChainTip(context.Context) (consensus.BlockLeaf, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if leaf, ok := v.chain.LeafForRoot(v.client.Root()); ok {
		v.tip, v.ok = leaf, true
	}
	return v.tip, v.ok, nil
}

func (v *CommittedView) HasLeaf(_ context.Context, leafHash [32]byte) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ok {
		return false, nil
	}
	h, err := consensus.HashBlockLeaf(&v.tip)
	if err != nil {
		return false, err
	}
	if h == leafHash {
		return true, nil
	}
	return v.chain.ContainsLeafHash(leafHash), nil
}
