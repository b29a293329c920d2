package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

// PendingClaim is one escrowed immediate distribution, uniquely addressed by
// (Sender, Recipient, Asset). Repeated sends to the same triple accumulate
// into this one entry. Once Claimed is set or Amount reaches zero the entry
// carries no claimable value and can never pay out again.
type PendingClaim struct {
	Sender    common.Address
	Recipient common.Address
	Asset     asset.Asset
	Amount    *big.Int
	Claimed   bool
}

func (c *PendingClaim) clone() *PendingClaim {
	out := *c
	out.Amount = new(big.Int).Set(c.Amount)
	return &out
}

// claimable reports whether the entry still holds value for the recipient.
func (c *PendingClaim) claimable() bool {
	return !c.Claimed && c.Amount.Sign() > 0
}

// VestingTransfer is one escrowed time-released distribution. IDs are
// allocated from a process-wide monotonic counter, unique across senders
// and assets. Released only grows; once Revoked no further claim succeeds.
type VestingTransfer struct {
	ID                 uint64
	Sender             common.Address
	Recipient          common.Address
	Asset              asset.Asset
	TotalAmount        *big.Int
	Released           *big.Int
	Start              int64
	Cliff              int64
	Duration           int64
	SlicePeriodSeconds int64
	Revocable          bool
	Revoked            bool
}

func (t *VestingTransfer) clone() *VestingTransfer {
	out := *t
	out.TotalAmount = new(big.Int).Set(t.TotalAmount)
	out.Released = new(big.Int).Set(t.Released)
	return &out
}

// VestedAt computes the amount unlocked by the linear ramp at the given unix
// time: elapsed time is floored to a slice boundary, and the full total is
// vested once the duration has fully elapsed.
func (t *VestingTransfer) VestedAt(now int64) *big.Int {
	if now < t.Cliff || now < t.Start {
		return new(big.Int)
	}
	elapsed := now - t.Start
	if elapsed >= t.Duration {
		return new(big.Int).Set(t.TotalAmount)
	}
	if t.SlicePeriodSeconds > 0 {
		elapsed -= elapsed % t.SlicePeriodSeconds
	}
	vested := new(big.Int).Mul(t.TotalAmount, big.NewInt(elapsed))
	return vested.Div(vested, big.NewInt(t.Duration))
}

// ReleasableAt is the portion claimable right now: vested minus already
// released, zero for revoked transfers.
func (t *VestingTransfer) ReleasableAt(now int64) *big.Int {
	if t.Revoked {
		return new(big.Int)
	}
	releasable := t.VestedAt(now)
	releasable.Sub(releasable, t.Released)
	if releasable.Sign() < 0 {
		return new(big.Int)
	}
	return releasable
}

// Remaining is the unreleased escrowed value.
func (t *VestingTransfer) Remaining() *big.Int {
	return new(big.Int).Sub(t.TotalAmount, t.Released)
}

// Event kinds recorded in the audit log.
const (
	EventSent         = "sent"
	EventVestingSent  = "vesting_sent"
	EventClaimed      = "claimed"
	EventCanceled     = "canceled"
	EventMinFeeChange = "min_fee_changed"
)

// Event is one append-only audit record. Data carries enough fields to
// reconstruct the ledger mutation it describes.
type Event struct {
	Seq  uint64            `json:"seq"`
	Kind string            `json:"kind"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data"`
}
