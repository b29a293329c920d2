package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"coinsender/internal/asset"
)

// SendRequest is one batched immediate distribution: the same asset to many
// recipients, with a declared fee and the caller's attached native payment.
type SendRequest struct {
	Asset      asset.Asset
	Recipients []common.Address
	Amounts    []*big.Int
	Fee        *big.Int
	Value      *big.Int
}

// SendCoins escrows the batch and records one pending claim per recipient.
// Repeated sends to the same (sender, recipient, asset) triple accumulate
// into a single entry. The fee is forwarded to the beneficiary as part of
// the same operation.
func (l *Ledger) SendCoins(ctx context.Context, caller common.Address, req SendRequest) error {
	if l.gate.Paused() {
		return ErrSystemPaused
	}
	if err := validateBatch(req.Recipients, req.Amounts); err != nil {
		return err
	}
	if err := l.checkFee(ctx, req.Fee, req.Value); err != nil {
		return err
	}

	total := sum(req.Amounts)
	pulled, err := l.pullForSend(ctx, caller, req.Asset, total, req.Fee, req.Value)
	if err != nil {
		return err
	}

	err = l.store.Update(ctx, func(tx Tx) error {
		for i, recipient := range req.Recipients {
			existing, err := tx.Claim(caller, recipient, req.Asset)
			if err != nil {
				return err
			}
			entry := &PendingClaim{
				Sender:    caller,
				Recipient: recipient,
				Asset:     req.Asset,
				Amount:    new(big.Int).Set(req.Amounts[i]),
			}
			if existing != nil && existing.claimable() {
				entry.Amount.Add(entry.Amount, existing.Amount)
			}
			if err := tx.PutClaim(entry); err != nil {
				return err
			}
			err = tx.AppendEvent(EventSent, map[string]string{
				"sender":    caller.Hex(),
				"recipient": recipient.Hex(),
				"asset":     req.Asset.String(),
				"amount":    req.Amounts[i].String(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.refund(ctx, pulled)
		return err
	}

	if err := l.forwardFee(ctx, req.Fee); err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"sender":     caller.Hex(),
		"asset":      req.Asset.String(),
		"recipients": len(req.Recipients),
		"total":      total.String(),
	}).Info("coins sent")
	return nil
}

// pullForSend takes the escrowed total plus the fee from the caller. For the
// native asset the attached payment must cover fee plus total; any excess is
// never pulled. Returns what was pulled so a failed recording can refund it.
func (l *Ledger) pullForSend(ctx context.Context, caller common.Address, a asset.Asset, total, fee, value *big.Int) ([]Payout, error) {
	if a.IsNative() {
		need := new(big.Int).Add(fee, total)
		if value.Cmp(need) < 0 {
			return nil, ErrInsufficientPayment
		}
		if err := l.pull(ctx, asset.Native(), caller, need); err != nil {
			return nil, err
		}
		return []Payout{{Asset: asset.Native(), To: caller, Amount: need}}, nil
	}

	if err := l.pull(ctx, asset.Native(), caller, fee); err != nil {
		return nil, err
	}
	if err := l.pull(ctx, a, caller, total); err != nil {
		l.refund(ctx, []Payout{{Asset: asset.Native(), To: caller, Amount: fee}})
		return nil, err
	}
	return []Payout{
		{Asset: asset.Native(), To: caller, Amount: fee},
		{Asset: a, To: caller, Amount: total},
	}, nil
}

// ClaimCoinsBatch pays out every named pending claim owed to the caller.
// All-or-nothing: one absent or spent entry fails the whole batch. Entries
// are marked claimed before any payment leaves escrow.
func (l *Ledger) ClaimCoinsBatch(ctx context.Context, caller common.Address, senders []common.Address, assets []asset.Asset) ([]Payout, error) {
	if len(senders) == 0 || len(senders) != len(assets) {
		return nil, ErrArityMismatch
	}

	var payouts []Payout
	err := l.store.Update(ctx, func(tx Tx) error {
		payouts = payouts[:0]
		for i := range senders {
			entry, err := tx.Claim(senders[i], caller, assets[i])
			if err != nil {
				return err
			}
			if entry == nil || !entry.claimable() {
				return ErrNoPendingClaim
			}
			amount := new(big.Int).Set(entry.Amount)
			entry.Amount = new(big.Int)
			entry.Claimed = true
			if err := tx.PutClaim(entry); err != nil {
				return err
			}
			err = tx.AppendEvent(EventClaimed, map[string]string{
				"sender":    senders[i].Hex(),
				"recipient": caller.Hex(),
				"asset":     assets[i].String(),
				"amount":    amount.String(),
			})
			if err != nil {
				return err
			}
			payouts = append(payouts, Payout{Asset: assets[i], To: caller, Amount: amount})
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
		"recipient": caller.Hex(),
		"claims":    len(payouts),
	}).Info("claims paid out")
	return payouts, nil
}

// CancelTransferBatch returns every named unclaimed amount to the caller and
// removes the entries. All-or-nothing like ClaimCoinsBatch.
func (l *Ledger) CancelTransferBatch(ctx context.Context, caller common.Address, recipients []common.Address, assets []asset.Asset) ([]Payout, error) {
	if len(recipients) == 0 || len(recipients) != len(assets) {
		return nil, ErrArityMismatch
	}

	var payouts []Payout
	err := l.store.Update(ctx, func(tx Tx) error {
		payouts = payouts[:0]
		for i := range recipients {
			entry, err := tx.Claim(caller, recipients[i], assets[i])
			if err != nil {
				return err
			}
			if entry == nil || !entry.claimable() {
				return ErrNoTransferFound
			}
			if err := tx.DeleteClaim(caller, recipients[i], assets[i]); err != nil {
				return err
			}
			err = tx.AppendEvent(EventCanceled, map[string]string{
				"sender":    caller.Hex(),
				"recipient": recipients[i].Hex(),
				"asset":     assets[i].String(),
				"amount":    entry.Amount.String(),
			})
			if err != nil {
				return err
			}
			payouts = append(payouts, Payout{Asset: assets[i], To: caller, Amount: entry.Amount})
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
	}).Info("transfers canceled")
	return payouts, nil
}

// ViewClaims enumerates the recipient's pending claims as of this read.
func (l *Ledger) ViewClaims(ctx context.Context, recipient common.Address) ([]*PendingClaim, error) {
	var out []*PendingClaim
	err := l.store.View(ctx, func(tx Tx) error {
		claims, err := tx.ClaimsByRecipient(recipient)
		if err != nil {
			return err
		}
		out = filterClaimable(claims)
		return nil
	})
	return out, err
}

// ViewSentTokens enumerates the sender's still-pending outbound claims.
func (l *Ledger) ViewSentTokens(ctx context.Context, sender common.Address) ([]*PendingClaim, error) {
	var out []*PendingClaim
	err := l.store.View(ctx, func(tx Tx) error {
		claims, err := tx.ClaimsBySender(sender)
		if err != nil {
			return err
		}
		out = filterClaimable(claims)
		return nil
	})
	return out, err
}

func filterClaimable(claims []*PendingClaim) []*PendingClaim {
	out := make([]*PendingClaim, 0, len(claims))
	for _, c := range claims {
		if c.claimable() {
			out = append(out, c)
		}
	}
	return out
}
