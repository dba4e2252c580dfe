package lightclient

import (
	"github.com/shanmukanaks/protocol/consensus"
)

type ForkKind int

const (
	ForkNone ForkKind = iota
	// ForkMissingBlocks: the light client tip is on the engine chain but
	// behind its tip.
	ForkMissingBlocks
	// ForkReorganization: the light client tip is not on the heavier
	// engine chain.
	ForkReorganization
)

func (k ForkKind) String() string {
	switch k {
	case ForkNone:
		return "none"
	case ForkMissingBlocks:
		return "missing_blocks"
	case ForkReorganization:
		return "reorganization"
	default:
		return "unknown"
	}
}

type Fork struct {
	Kind           ForkKind
	LightClientTip consensus.BlockLeaf
	EngineTip      consensus.BlockLeaf
}

// DetectFork compares the light client tip with the data engine tip.
// engineHasLeaf reports whether the engine's canonical chain contains a leaf
// hash. Equal chainwork favors the existing chain, and a heavier light
// client waits for the engine to catch up.
func DetectFork(lcTip, engineTip consensus.BlockLeaf, engineHasLeaf func([32]byte) (bool, error)) (Fork, error) {
	f := Fork{Kind: ForkNone, LightClientTip: lcTip, EngineTip: engineTip}
	lcHash, err := consensus.HashBlockLeaf(&lcTip)
	if err != nil {
		return f, err
	}
	engineHash, err := consensus.HashBlockLeaf(&engineTip)
	if err != nil {
		return f, err
	}
	if lcHash == engineHash {
		return f, nil
	}
	switch lcTip.CumulativeChainwork.Cmp(&engineTip.CumulativeChainwork) {
	case 0, 1:
		return f, nil
	}
	found, err := engineHasLeaf(lcHash)
	if err != nil {
		return f, err
	}
	if found {
		f.Kind = ForkMissingBlocks
	} else {
		f.Kind = ForkReorganization
	}
	return f, nil
}
