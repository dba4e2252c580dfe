package exchange

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

// Withdraw returns an unlocked vault's net amount to its owner and leaves
// the slot empty. It returns the drained vault.
func (e *Exchange) Withdraw(ctx context.Context, vault consensus.DepositVault) (consensus.DepositVault, error) {
	var drained consensus.DepositVault
	err := e.run(ctx, OpWithdraw, func() (changes, logrus.Fields, error) {
		err := e.store.Update(func(tx StoreTx) error {
			if err := validateVault(tx, &vault); err != nil {
				return err
			}
			if vault.IsEmpty() {
				return consensus.NewError(consensus.ERR_EMPTY_DEPOSIT_VAULT, "vault %d is empty", vault.VaultIndex)
			}
			unlock := vault.UnlockTime(e.params.DepositLockupPeriod)
			if e.now().Before(unlock) {
				return consensus.NewError(consensus.ERR_DEPOSIT_STILL_LOCKED, "vault %d locked until %s", vault.VaultIndex, unlock.UTC().Format("2006-01-02T15:04:05Z"))
			}
			drained = vault.Drained()
			if err := putVault(tx, &drained); err != nil {
				return err
			}
			if !e.token.Transfer(vault.OwnerAddress, &vault.DepositAmount) {
				return transferFailed("withdrawal", vault.OwnerAddress, &vault.DepositAmount)
			}
			return nil
		})
		fields := logrus.Fields{
			"vault_index": vault.VaultIndex,
			"owner":       vault.OwnerAddress.Hex(),
			"amount":      vault.DepositAmount.Dec(),
		}
		return changes{vaults: []consensus.DepositVault{drained}}, fields, err
	})
	if err != nil {
		return consensus.DepositVault{}, err
	}
	return drained, nil
}
