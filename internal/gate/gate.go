package gate

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Gate carries the access-control facts the ledger consults: who owns the
// service and whether sends are suspended. Authorization decisions live with
// the callers; the gate only answers questions.
type Gate struct {
	owner  common.Address
	paused atomic.Bool
}

func New(owner common.Address) *Gate {
	return &Gate{owner: owner}
}

func (g *Gate) Owner() common.Address {
	return g.owner
}

func (g *Gate) IsOwner(addr common.Address) bool {
	return addr == g.owner
}

func (g *Gate) Paused() bool {
	return g.paused.Load()
}

func (g *Gate) SetPaused(v bool) {
	g.paused.Store(v)
}
