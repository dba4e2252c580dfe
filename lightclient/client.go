package lightclient

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/crypto"
)

var ErrPriorRootMismatch = errors.New("lightclient: prior root does not match current root")

// RootStore persists the committed MMR root.
type RootStore interface {
	SaveLightClientRoot(root [32]byte) error
}

type ClientConfig struct {
	// BaseHeight is the Bitcoin height of MMR leaf 0.
	BaseHeight  uint32
	InitialRoot [32]byte
	Hasher      crypto.Hasher
	Store       RootStore
	Logger      logrus.FieldLogger
}

// Client tracks the committed MMR root of the Bitcoin light client and
// answers inclusion queries against it.
type Client struct {
	mu         sync.RWMutex
	root       [32]byte
	baseHeight uint32
	hasher     crypto.Hasher
	store      RootStore
	log        logrus.FieldLogger
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		root:       cfg.InitialRoot,
		baseHeight: cfg.BaseHeight,
		hasher:     cfg.Hasher,
		store:      cfg.Store,
		log:        cfg.Logger,
	}
	if c.hasher == nil {
		c.hasher = crypto.Default
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

func (c *Client) Root() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

func (c *Client) BaseHeight() uint32 { return c.baseHeight }

// UpdateRoot advances the root from prior to next. prior must equal the
// current root; next == prior is accepted without change.
func (c *Client) UpdateRoot(prior, next [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prior != c.root {
		return fmt.Errorf("%w: have %s got %s", ErrPriorRootMismatch, hex.EncodeToString(c.root[:]), hex.EncodeToString(prior[:]))
	}
	if next == prior {
		return nil
	}
	if c.store != nil {
		if err := c.store.SaveLightClientRoot(next); err != nil {
			return fmt.Errorf("lightclient: persist root: %w", err)
		}
	}
	c.root = next
	c.log.WithFields(logrus.Fields{
		"prior": hex.EncodeToString(prior[:]),
		"root":  hex.EncodeToString(next[:]),
	}).Info("light client root advanced")
	return nil
}

// ProveBlockInclusion reports whether leaf is a member of the MMR committed
// by the current root at the position implied by its height.
func (c *Client) ProveBlockInclusion(leaf consensus.BlockLeaf, proof consensus.InclusionProof) bool {
	if leaf.Height < c.baseHeight {
		return false
	}
	if proof.LeafIndex != uint64(leaf.Height-c.baseHeight) {
		return false
	}
	leafHash, err := consensus.HashBlockLeaf(&leaf)
	if err != nil {
		return false
	}
	return VerifyInclusion(c.hasher, c.Root(), leafHash, proof)
}
