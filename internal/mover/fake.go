package mover

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"coinsender/internal/asset"
)

// FakeMover keeps balances in memory. It backs local development and tests,
// where it doubles as the source of truth for conservation checks: escrow
// holdings are tracked per asset and observable via EscrowBalance.
type FakeMover struct {
	mu         sync.Mutex
	balances   map[string]map[common.Address]*big.Int
	allowances map[string]map[common.Address]*big.Int
	escrowed   map[string]*big.Int
}

func NewFakeMover() *FakeMover {
	return &FakeMover{
		balances:   make(map[string]map[common.Address]*big.Int),
		allowances: make(map[string]map[common.Address]*big.Int),
		escrowed:   make(map[string]*big.Int),
	}
}

// Mint credits an account out of thin air. Test setup only.
func (m *FakeMover) Mint(a asset.Asset, addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balance(a, addr)
	bal.Add(bal, amount)
}

// Approve records an allowance for escrow pulls of a token asset. Native
// pulls need no allowance; they model the caller's attached payment.
func (m *FakeMover) Approve(a asset.Asset, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all, ok := m.allowances[a.Key()]
	if !ok {
		all = make(map[common.Address]*big.Int)
		m.allowances[a.Key()] = all
	}
	all[owner] = new(big.Int).Set(amount)
}

func (m *FakeMover) Pull(_ context.Context, a asset.Asset, from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balance(a, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance of %s on %s", ErrTransferFailed, a, from.Hex())
	}
	if !a.IsNative() {
		all := m.allowances[a.Key()][from]
		if all == nil || all.Cmp(amount) < 0 {
			return fmt.Errorf("%w: insufficient allowance of %s on %s", ErrTransferFailed, a, from.Hex())
		}
		all.Sub(all, amount)
	}
	bal.Sub(bal, amount)
	esc := m.escrow(a)
	esc.Add(esc, amount)
	return nil
}

func (m *FakeMover) Push(_ context.Context, a asset.Asset, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	esc := m.escrow(a)
	if esc.Cmp(amount) < 0 {
		return fmt.Errorf("%w: escrow holds less than %s of %s", ErrTransferFailed, amount, a)
	}
	esc.Sub(esc, amount)
	bal := m.balance(a, to)
	bal.Add(bal, amount)
	return nil
}

// BalanceOf reports the free (non-escrowed) balance of an account.
func (m *FakeMover) BalanceOf(a asset.Asset, addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(a, addr))
}

// EscrowBalance reports the funds currently held in escrow for an asset.
func (m *FakeMover) EscrowBalance(a asset.Asset) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.escrow(a))
}

func (m *FakeMover) balance(a asset.Asset, addr common.Address) *big.Int {
	accounts, ok := m.balances[a.Key()]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		m.balances[a.Key()] = accounts
	}
	bal, ok := accounts[addr]
	if !ok {
		bal = new(big.Int)
		accounts[addr] = bal
	}
	return bal
}

func (m *FakeMover) escrow(a asset.Asset) *big.Int {
	esc, ok := m.escrowed[a.Key()]
	if !ok {
		esc = new(big.Int)
		m.escrowed[a.Key()] = esc
	}
	return esc
}
