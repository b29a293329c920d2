package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"coinsender/internal/asset"
	"coinsender/internal/gate"
	"coinsender/internal/mover"
)

// Ledger is the escrow core: the claims registry, the vesting ledger and the
// fee gate, bound to a store for state and a mover for asset movement.
//
// Every mutating operation follows the same two-phase shape: commit the state
// transition through the store first, then perform external payouts. An entry
// is always marked closed before the mover pays it out, so a repeated call
// observes the entry as already closed instead of double-paying.
type Ledger struct {
	store       Store
	mover       mover.Mover
	gate        *gate.Gate
	beneficiary common.Address
	log         logrus.FieldLogger
	now         func() time.Time
}

type Params struct {
	Store       Store
	Mover       mover.Mover
	Gate        *gate.Gate
	Beneficiary common.Address
	Log         logrus.FieldLogger
	Clock       func() time.Time
}

func New(p Params) *Ledger {
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}
	return &Ledger{
		store:       p.Store,
		mover:       p.Mover,
		gate:        p.Gate,
		beneficiary: p.Beneficiary,
		log:         p.Log,
		now:         p.Clock,
	}
}

// Payout describes one external payment owed after a committed state change.
type Payout struct {
	Asset  asset.Asset
	To     common.Address
	Amount *big.Int
}

// MinFee reads the current minimum fee.
func (l *Ledger) MinFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := l.store.View(ctx, func(tx Tx) error {
		var err error
		fee, err = tx.MinFee()
		return err
	})
	return fee, err
}

// SetMinFee updates the minimum fee. Owner only; emits MinFeeChanged(old, new).
func (l *Ledger) SetMinFee(ctx context.Context, caller common.Address, fee *big.Int) error {
	if !l.gate.IsOwner(caller) {
		return ErrUnauthorized
	}
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	err := l.store.Update(ctx, func(tx Tx) error {
		old, err := tx.MinFee()
		if err != nil {
			return err
		}
		if err := tx.SetMinFee(fee); err != nil {
			return err
		}
		return tx.AppendEvent(EventMinFeeChange, map[string]string{
			"old": old.String(),
			"new": fee.String(),
		})
	})
	if err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"caller": caller.Hex(), "min_fee": fee.String()}).Info("minimum fee changed")
	return nil
}

// Events returns the most recent audit records.
func (l *Ledger) Events(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := l.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Events(limit)
		return err
	})
	return out, err
}

// checkFee enforces the fee gate: the declared fee must meet the minimum and
// the attached payment must cover the declared fee.
func (l *Ledger) checkFee(ctx context.Context, fee, value *big.Int) error {
	minFee, err := l.MinFee(ctx)
	if err != nil {
		return err
	}
	if fee == nil || fee.Cmp(minFee) < 0 {
		return ErrFeeTooLow
	}
	if value == nil || value.Cmp(fee) < 0 {
		return ErrFeeTooLow
	}
	return nil
}

// forwardFee pays a collected fee to the beneficiary. Fees are never
// escrowed; this runs within the same operation that collected them.
func (l *Ledger) forwardFee(ctx context.Context, fee *big.Int) error {
	if fee.Sign() == 0 {
		return nil
	}
	if err := l.mover.Push(ctx, asset.Native(), l.beneficiary, fee); err != nil {
		return fmt.Errorf("forward fee: %w", err)
	}
	return nil
}

// pull takes funds from a principal into escrow. Zero amounts are skipped:
// the production mover cannot initiate native pulls at all, and a zero fee
// must not force one.
func (l *Ledger) pull(ctx context.Context, a asset.Asset, from common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return l.mover.Pull(ctx, a, from, amount)
}

// payOut performs the external payments for an already-committed state
// change.
func (l *Ledger) payOut(ctx context.Context, payouts []Payout) error {
	for _, p := range payouts {
		if p.Amount.Sign() == 0 {
			continue
		}
		if err := l.mover.Push(ctx, p.Asset, p.To, p.Amount); err != nil {
			return err
		}
	}
	return nil
}

// refund returns already-pulled funds to the caller when recording fails
// after the pull. Failures are logged; there is nothing further to unwind.
func (l *Ledger) refund(ctx context.Context, payouts []Payout) {
	for _, p := range payouts {
		if p.Amount.Sign() == 0 {
			continue
		}
		if err := l.mover.Push(ctx, p.Asset, p.To, p.Amount); err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"asset":  p.Asset.String(),
				"to":     p.To.Hex(),
				"amount": p.Amount.String(),
			}).Error("refund after failed send")
		}
	}
}

func validateBatch(recipients []common.Address, amounts []*big.Int) error {
	if len(recipients) == 0 || len(recipients) != len(amounts) {
		return ErrArityMismatch
	}
	for _, a := range amounts {
		if a == nil || a.Sign() <= 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}

func sum(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	return total
}
