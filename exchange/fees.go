package exchange

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

// AccumulatedFees is the fee balance awaiting PayoutFees.
func (e *Exchange) AccumulatedFees() (*uint256.Int, error) {
	var fees uint256.Int
	err := e.store.View(func(r StoreReader) error {
		var err error
		fees, err = r.AccumulatedFees()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &fees, nil
}

// PayoutFees transfers the whole accumulator to the fee router.
func (e *Exchange) PayoutFees(ctx context.Context) (*uint256.Int, error) {
	var paid uint256.Int
	err := e.run(ctx, OpPayoutFees, func() (changes, logrus.Fields, error) {
		err := e.store.Update(func(tx StoreTx) error {
			fees, err := tx.AccumulatedFees()
			if err != nil {
				return err
			}
			if fees.IsZero() {
				return consensus.NewError(consensus.ERR_NO_FEE_TO_PAY, "fee accumulator is empty")
			}
			if err := tx.SetAccumulatedFees(uint256.Int{}); err != nil {
				return err
			}
			if !e.token.Transfer(e.feeRouter, &fees) {
				return transferFailed("fee payout", e.feeRouter, &fees)
			}
			paid = fees
			return nil
		})
		fields := logrus.Fields{"fee_router": e.feeRouter.Hex(), "amount": paid.Dec()}
		return changes{}, fields, err
	})
	if err != nil {
		return nil, err
	}
	return &paid, nil
}
