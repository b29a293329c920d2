package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

// Tx is the view of the ledger state inside one atomic transaction. Lookups
// return nil (not an error) for absent entries; errors are reserved for
// storage failures.
type Tx interface {
	// Claims registry, keyed (sender, recipient, asset).
	Claim(sender, recipient common.Address, a asset.Asset) (*PendingClaim, error)
	PutClaim(c *PendingClaim) error
	DeleteClaim(sender, recipient common.Address, a asset.Asset) error
	ClaimsByRecipient(recipient common.Address) ([]*PendingClaim, error)
	ClaimsBySender(sender common.Address) ([]*PendingClaim, error)

	// Vesting ledger, keyed by id from a durable monotonic counter.
	NextTransferID() (uint64, error)
	Transfer(id uint64) (*VestingTransfer, error)
	PutTransfer(t *VestingTransfer) error
	TransfersBySender(sender common.Address) ([]*VestingTransfer, error)
	TransfersByRecipient(recipient common.Address) ([]*VestingTransfer, error)

	// Fee configuration.
	MinFee() (*big.Int, error)
	SetMinFee(fee *big.Int) error

	// Audit log.
	AppendEvent(kind string, data map[string]string) error
	Events(limit int) ([]Event, error)
}

// Store persists the ledger. Update runs the function inside one atomic
// transaction: either every mutation it makes becomes visible, or none do.
// Updates are serialized; no two of them interleave reads and writes.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close()
}
