package ledger

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"coinsender/internal/asset"
)

// VestingSendRequest is one batched vesting distribution: every recipient
// gets its own transfer id sharing the same schedule.
type VestingSendRequest struct {
	Asset              asset.Asset
	Recipients         []common.Address
	Amounts            []*big.Int
	CliffDuration      int64
	Start              int64
	Duration           int64
	SlicePeriodSeconds int64
	Revocable          bool
	Fee                *big.Int
	Value              *big.Int
}

// SendCoinsVesting escrows the batch and records one vesting transfer per
// recipient, each under a freshly allocated id. Returns the ids in recipient
// order.
func (l *Ledger) SendCoinsVesting(ctx context.Context, caller common.Address, req VestingSendRequest) ([]uint64, error) {
	if l.gate.Paused() {
		return nil, ErrSystemPaused
	}
	if err := validateBatch(req.Recipients, req.Amounts); err != nil {
		return nil, err
	}
	if req.Duration <= 0 || req.CliffDuration < 0 || req.SlicePeriodSeconds < 1 {
		return nil, ErrInvalidSchedule
	}
	if req.Duration < req.CliffDuration {
		return nil, ErrInvalidSchedule
	}
	if err := l.checkFee(ctx, req.Fee, req.Value); err != nil {
		return nil, err
	}

	total := sum(req.Amounts)
	pulled, err := l.pullForSend(ctx, caller, req.Asset, total, req.Fee, req.Value)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	err = l.store.Update(ctx, func(tx Tx) error {
		ids = ids[:0]
		for i, recipient := range req.Recipients {
			id, err := tx.NextTransferID()
			if err != nil {
				return err
			}
			transfer := &VestingTransfer{
				ID:                 id,
				Sender:             caller,
				Recipient:          recipient,
				Asset:              req.Asset,
				TotalAmount:        new(big.Int).Set(req.Amounts[i]),
				Released:           new(big.Int),
				Start:              req.Start,
				Cliff:              req.Start + req.CliffDuration,
				Duration:           req.Duration,
				SlicePeriodSeconds: req.SlicePeriodSeconds,
				Revocable:          req.Revocable,
			}
			if err := tx.PutTransfer(transfer); err != nil {
				return err
			}
			err = tx.AppendEvent(EventVestingSent, map[string]string{
				"id":        strconv.FormatUint(id, 10),
				"sender":    caller.Hex(),
				"recipient": recipient.Hex(),
				"asset":     req.Asset.String(),
				"amount":    req.Amounts[i].String(),
				"start":     strconv.FormatInt(req.Start, 10),
				"cliff":     strconv.FormatInt(transfer.Cliff, 10),
				"duration":  strconv.FormatInt(req.Duration, 10),
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		l.refund(ctx, pulled)
		return nil, err
	}

	if err := l.forwardFee(ctx, req.Fee); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"sender":     caller.Hex(),
		"asset":      req.Asset.String(),
		"recipients": len(req.Recipients),
		"total":      total.String(),
	}).Info("vesting coins sent")
	return ids, nil
}

// ClaimVesting releases whatever the schedules of the named transfers have
// unlocked for the caller. Every id must belong to the caller and not be
// revoked; the call fails outright if no id yields a nonzero release.
// Released counters are committed before any payment leaves escrow.
func (l *Ledger) ClaimVesting(ctx context.Context, caller common.Address, ids []uint64, fee, value *big.Int) ([]Payout, error) {
	if len(ids) == 0 {
		return nil, ErrNothingReleasable
	}
	if err := l.checkFee(ctx, fee, value); err != nil {
		return nil, err
	}

	if err := l.pull(ctx, asset.Native(), caller, fee); err != nil {
		return nil, err
	}

	now := l.now().Unix()
	var payouts []Payout
	err := l.store.Update(ctx, func(tx Tx) error {
		payouts = payouts[:0]
		for _, id := range ids {
			transfer, err := tx.Transfer(id)
			if err != nil {
				return err
			}
			if transfer == nil || transfer.Revoked {
				return ErrNoPendingClaim
			}
			if transfer.Recipient != caller {
				return ErrNotRecipient
			}
			releasable := transfer.ReleasableAt(now)
			if releasable.Sign() == 0 {
				continue
			}
			transfer.Released.Add(transfer.Released, releasable)
			if err := tx.PutTransfer(transfer); err != nil {
				return err
			}
			err = tx.AppendEvent(EventClaimed, map[string]string{
				"id":        strconv.FormatUint(id, 10),
				"sender":    transfer.Sender.Hex(),
				"recipient": caller.Hex(),
				"asset":     transfer.Asset.String(),
				"amount":    releasable.String(),
			})
			if err != nil {
				return err
			}
			payouts = append(payouts, Payout{Asset: transfer.Asset, To: caller, Amount: releasable})
		}
		if len(payouts) == 0 {
			return ErrNothingReleasable
		}
		return nil
	})
	if err != nil {
		l.refund(ctx, []Payout{{Asset: asset.Native(), To: caller, Amount: fee}})
		return nil, err
	}

	if err := l.payOut(ctx, payouts); err != nil {
		return nil, err
	}
	if err := l.forwardFee(ctx, fee); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"recipient": caller.Hex(),
		"ids":       len(ids),
		"released":  len(payouts),
	}).Info("vesting claims released")
	return payouts, nil
}

// CancelVesting revokes the named transfers and returns each unreleased
// remainder to the caller. Amounts already released stay with the
// recipients. Revoked and fully released transfers cannot be canceled again.
func (l *Ledger) CancelVesting(ctx context.Context, caller common.Address, ids []uint64) ([]Payout, error) {
	if len(ids) == 0 {
		return nil, ErrNoTransferFound
	}

	var payouts []Payout
	err := l.store.Update(ctx, func(tx Tx) error {
		payouts = payouts[:0]
		for _, id := range ids {
			transfer, err := tx.Transfer(id)
			if err != nil {
				return err
			}
			if transfer == nil || transfer.Revoked || transfer.Released.Cmp(transfer.TotalAmount) == 0 {
				return ErrNoTransferFound
			}
			if transfer.Sender != caller {
				return ErrNotSender
			}
			if !transfer.Revocable {
				return ErrNotRevocable
			}
			remaining := transfer.Remaining()
			transfer.Revoked = true
			if err := tx.PutTransfer(transfer); err != nil {
				return err
			}
			err = tx.AppendEvent(EventCanceled, map[string]string{
				"id":        strconv.FormatUint(id, 10),
				"sender":    caller.Hex(),
				"recipient": transfer.Recipient.Hex(),
				"asset":     transfer.Asset.String(),
				"amount":    remaining.String(),
			})
			if err != nil {
				return err
			}
			payouts = append(payouts, Payout{Asset: transfer.Asset, To: caller, Amount: remaining})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := l.payOut(ctx, payouts); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"sender":  caller.Hex(),
		"cancels": len(payouts),
	}).Info("vesting transfers canceled")
	return payouts, nil
}

// ViewSentCoins enumerates the sender's live vesting transfers.
func (l *Ledger) ViewSentCoins(ctx context.Context, sender common.Address) ([]*VestingTransfer, error) {
	var out []*VestingTransfer
	err := l.store.View(ctx, func(tx Tx) error {
		transfers, err := tx.TransfersBySender(sender)
		if err != nil {
			return err
		}
		out = filterLive(transfers)
		return nil
	})
	return out, err
}

// ViewClaimsCoins enumerates the recipient's live vesting transfers.
func (l *Ledger) ViewClaimsCoins(ctx context.Context, recipient common.Address) ([]*VestingTransfer, error) {
	var out []*VestingTransfer
	err := l.store.View(ctx, func(tx Tx) error {
		transfers, err := tx.TransfersByRecipient(recipient)
		if err != nil {
			return err
		}
		out = filterLive(transfers)
		return nil
	})
	return out, err
}

func filterLive(transfers []*VestingTransfer) []*VestingTransfer {
	out := make([]*VestingTransfer, 0, len(transfers))
	for _, t := range transfers {
		if t.Revoked || t.Released.Cmp(t.TotalAmount) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}
