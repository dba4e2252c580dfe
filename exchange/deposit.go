package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

type DepositParams struct {
	// Depositor is the account the gross amount is pulled from. It becomes
	// the vault owner.
	Depositor     common.Address
	PayoutAddress common.Address
	Amount        uint256.Int
	ExpectedSats  uint64
	ScriptPubKey  []byte
	Salt          [32]byte
}

// Deposit opens a new vault at the end of the vault sequence and pulls
// Amount from the depositor. The returned vault is the witness the caller
// must present to later operations.
func (e *Exchange) Deposit(ctx context.Context, p DepositParams) (consensus.DepositVault, error) {
	return e.runDeposit(ctx, OpDeposit, p, nil)
}

// DepositWithOverwrite reuses the slot of existing, which must be empty and
// match its stored commitment.
func (e *Exchange) DepositWithOverwrite(ctx context.Context, p DepositParams, existing consensus.DepositVault) (consensus.DepositVault, error) {
	return e.runDeposit(ctx, OpDepositOverwrite, p, &existing)
}

func (e *Exchange) runDeposit(ctx context.Context, op string, p DepositParams, existing *consensus.DepositVault) (consensus.DepositVault, error) {
	var v consensus.DepositVault
	err := e.run(ctx, op, func() (changes, logrus.Fields, error) {
		var err error
		v, err = e.deposit(p, existing)
		return changes{vaults: []consensus.DepositVault{v}}, depositFields(&p, &v), err
	})
	if err != nil {
		return consensus.DepositVault{}, err
	}
	return v, nil
}

func (e *Exchange) deposit(p DepositParams, existing *consensus.DepositVault) (consensus.DepositVault, error) {
	if err := consensus.CheckDepositInputs(e.params, &p.Amount, p.ExpectedSats, p.ScriptPubKey); err != nil {
		return consensus.DepositVault{}, err
	}
	script, err := consensus.ScriptFromBytes(p.ScriptPubKey)
	if err != nil {
		return consensus.DepositVault{}, err
	}
	fee, net := consensus.DepositFee(&p.Amount, e.params.ProtocolFeeBP)

	var out consensus.DepositVault
	err = e.store.Update(func(tx StoreTx) error {
		var index uint64
		if existing != nil {
			verr := validateVault(tx, existing)
			if verr != nil && !isInvalidCommitment(verr) {
				return verr
			}
			if verr != nil || !existing.IsEmpty() {
				return consensus.NewError(consensus.ERR_VAULT_NOT_OVERWRITABLE, "vault %d is not an empty committed vault", existing.VaultIndex)
			}
			index = existing.VaultIndex
		} else {
			n, err := tx.VaultCommitmentsLen()
			if err != nil {
				return err
			}
			index = n
		}
		nonce, err := consensus.VaultNonce(p.Salt, index, e.params.ChainID)
		if err != nil {
			return err
		}
		v := consensus.DepositVault{
			VaultIndex:             index,
			DepositTimestamp:       e.nowUnix(),
			DepositAmount:          net,
			DepositFee:             fee,
			ExpectedSats:           p.ExpectedSats,
			BtcPayoutScriptPubKey:  script,
			SpecifiedPayoutAddress: p.PayoutAddress,
			OwnerAddress:           p.Depositor,
			Nonce:                  nonce,
		}
		h, err := consensus.HashVault(&v)
		if err != nil {
			return err
		}
		if existing != nil {
			err = tx.SetVaultCommitment(index, h)
		} else {
			_, err = tx.AppendVaultCommitment(h)
		}
		if err != nil {
			return err
		}
		if !e.token.TransferFrom(p.Depositor, e.address, &p.Amount) {
			return transferFailed("deposit pull", e.address, &p.Amount)
		}
		out = v
		return nil
	})
	return out, err
}

func depositFields(p *DepositParams, v *consensus.DepositVault) logrus.Fields {
	f := logrus.Fields{
		"depositor": p.Depositor.Hex(),
		"amount":    p.Amount.Dec(),
	}
	if !v.IsEmpty() {
		f["vault_index"] = v.VaultIndex
		f["deposit_fee"] = v.DepositFee.Dec()
	}
	return f
}
