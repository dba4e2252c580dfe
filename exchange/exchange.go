package exchange

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

type Config struct {
	Params          consensus.Params
	VerificationKey [32]byte
	// Address is the exchange's own token account.
	Address   common.Address
	FeeRouter common.Address
}

// Exchange is the vault and swap ledger. Every operation runs under one
// lock and commits all of its effects or none of them.
type Exchange struct {
	mu sync.Mutex

	params    consensus.Params
	vkey      [32]byte
	address   common.Address
	feeRouter common.Address

	store       CommitmentStore
	token       TokenLedger
	verifier    ProofVerifier
	lightClient LightClient

	notifiers []Notifier
	outbox    *outbox
	observer  Observer
	log       logrus.FieldLogger
	now       func() time.Time
}

type Option func(*Exchange)

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Exchange) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Exchange) { e.notifiers = append(e.notifiers, n) }
}

func WithObserver(o Observer) Option {
	return func(e *Exchange) { e.observer = o }
}

func New(cfg Config, store CommitmentStore, token TokenLedger, verifier ProofVerifier, lc LightClient, opts ...Option) (*Exchange, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if store == nil || token == nil || verifier == nil || lc == nil {
		return nil, errors.New("exchange: store, token, verifier and light client are required")
	}
	e := &Exchange{
		params:      cfg.Params,
		vkey:        cfg.VerificationKey,
		address:     cfg.Address,
		feeRouter:   cfg.FeeRouter,
		store:       store,
		token:       token,
		verifier:    verifier,
		lightClient: lc,
		outbox:      newOutbox(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("component", "exchange")
	return e, nil
}

func (e *Exchange) Params() consensus.Params { return e.params }

func (e *Exchange) nowUnix() uint64 {
	return uint64(e.now().Unix()) // #nosec G115 -- clock is after the unix epoch.
}

// validateVault recomputes the vault hash and compares it with the stored
// commitment at the vault's own index.
func validateVault(r StoreReader, v *consensus.DepositVault) error {
	stored, err := r.VaultCommitment(v.VaultIndex)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			return consensus.NewError(consensus.ERR_INVALID_COMMITMENT, "vault %d does not exist", v.VaultIndex)
		}
		return err
	}
	h, err := consensus.HashVault(v)
	if err != nil {
		return err
	}
	if h != stored {
		return consensus.NewError(consensus.ERR_INVALID_COMMITMENT, "vault %d does not match its commitment", v.VaultIndex)
	}
	return nil
}

func isInvalidCommitment(err error) bool {
	code, ok := consensus.CodeOf(err)
	return ok && code == consensus.ERR_INVALID_COMMITMENT
}

func validateSwap(r StoreReader, s *consensus.ProposedSwap) error {
	stored, err := r.SwapCommitment(s.SwapIndex)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			return consensus.NewError(consensus.ERR_INVALID_COMMITMENT, "swap %d does not exist", s.SwapIndex)
		}
		return err
	}
	h, err := consensus.HashSwap(s)
	if err != nil {
		return err
	}
	if h != stored {
		return consensus.NewError(consensus.ERR_INVALID_COMMITMENT, "swap %d does not match its commitment", s.SwapIndex)
	}
	return nil
}

func putVault(tx StoreTx, v *consensus.DepositVault) error {
	h, err := consensus.HashVault(v)
	if err != nil {
		return err
	}
	return tx.SetVaultCommitment(v.VaultIndex, h)
}

func putSwap(tx StoreTx, s *consensus.ProposedSwap) error {
	h, err := consensus.HashSwap(s)
	if err != nil {
		return err
	}
	return tx.SetSwapCommitment(s.SwapIndex, h)
}

// finish records the outcome of op. Rejections are logged at debug with
// their code; infrastructure failures at error.
func (e *Exchange) finish(op string, err error, fields logrus.Fields) error {
	if e.observer != nil {
		e.observer.ObserveOperation(op, err)
	}
	entry := e.log.WithField("op", op).WithFields(fields)
	if err != nil {
		if code, ok := consensus.CodeOf(err); ok {
			entry.WithField("code", string(code)).WithError(err).Debug("operation rejected")
		} else {
			entry.WithError(err).Error("operation failed")
		}
		return err
	}
	entry.Info("operation committed")
	e.observeLedger()
	return nil
}

func (e *Exchange) observeLedger() {
	if e.observer == nil {
		return
	}
	var vaults, swaps uint64
	var fees uint256.Int
	err := e.store.View(func(r StoreReader) error {
		var err error
		if vaults, err = r.VaultCommitmentsLen(); err != nil {
			return err
		}
		if swaps, err = r.SwapCommitmentsLen(); err != nil {
			return err
		}
		fees, err = r.AccumulatedFees()
		return err
	})
	if err != nil {
		e.log.WithError(err).Warn("ledger gauges unavailable")
		return
	}
	e.observer.ObserveLedger(vaults, swaps, &fees)
}

func (e *Exchange) emitVault(ctx context.Context, v consensus.DepositVault) {
	for _, n := range e.notifiers {
		if err := n.VaultUpdated(ctx, v); err != nil {
			e.log.WithError(err).WithField("vault_index", v.VaultIndex).Warn("vault notification failed")
		}
	}
}

func (e *Exchange) emitSwap(ctx context.Context, s consensus.ProposedSwap) {
	for _, n := range e.notifiers {
		if err := n.SwapUpdated(ctx, s); err != nil {
			e.log.WithError(err).WithField("swap_index", s.SwapIndex).Warn("swap notification failed")
		}
	}
}

func transferFailed(what string, to common.Address, amount *uint256.Int) error {
	return consensus.NewError(consensus.ERR_TRANSFER_FAILED, "%s of %s to %s", what, amount.Dec(), to.Hex())
}

func hexHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
