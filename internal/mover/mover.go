package mover

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

// ErrTransferFailed covers every pull/push failure, including insufficient
// balance or allowance on the source account.
var ErrTransferFailed = errors.New("transfer failed")

// Mover executes asset movements in and out of escrow custody. Pull takes
// funds from a principal into escrow, Push pays funds out of escrow. Both
// must either fully apply or fail with no effect.
type Mover interface {
	Pull(ctx context.Context, a asset.Asset, from common.Address, amount *big.Int) error
	Push(ctx context.Context, a asset.Asset, to common.Address, amount *big.Int) error
}

// HealthChecker is implemented by movers that talk to a remote backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
