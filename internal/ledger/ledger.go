// Package ledger talks to the custody backend that holds player stakes.
package ledger

import (
	"context"
	"errors"
	"sync"
)

// StakeLedger moves staked value between players. Implementations must be
// safe for concurrent use.
type StakeLedger interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	LockStake(ctx context.Context, address string, amount int64, gameID string) (bool, error)
	TransferStake(ctx context.Context, gameID, winner string, amount int64) (bool, error)
}

var ErrInvalidAmount = errors.New("ledger: amount must not be negative")

// Transfer is a payout recorded by the demo ledger
type Transfer struct {
	GameID string
	Winner string
	Amount int64
}

// DemoLedger is an in-process ledger where every address starts with the
// same balance. Used when no custody backend is configured.
type DemoLedger struct {
	mu        sync.Mutex
	initial   int64
	balances  map[string]int64
	locked    map[string]int64
	transfers []Transfer
}

// NewDemoLedger creates a demo ledger granting initial to every new address
func NewDemoLedger(initial int64) *DemoLedger {
	return &DemoLedger{
		initial:  initial,
		balances: make(map[string]int64),
		locked:   make(map[string]int64),
	}
}

var _ StakeLedger = (*DemoLedger)(nil)

func (d *DemoLedger) balance(address string) int64 {
	b, ok := d.balances[address]
	if !ok {
		b = d.initial
		d.balances[address] = b
	}
	return b
}

func (d *DemoLedger) GetBalance(_ context.Context, address string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.balance(address), nil
}

// LockStake moves amount out of the spendable balance. It reports false when
// the balance is too low.
func (d *DemoLedger) LockStake(_ context.Context, address string, amount int64, gameID string) (bool, error) {
	if amount < 0 {
		return false, ErrInvalidAmount
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.balance(address)
	if b < amount {
		return false, nil
	}
	d.balances[address] = b - amount
	d.locked[gameID] += amount
	return true, nil
}

// TransferStake pays amount to winner out of the game's locked pot
func (d *DemoLedger) TransferStake(_ context.Context, gameID, winner string, amount int64) (bool, error) {
	if amount < 0 {
		return false, ErrInvalidAmount
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.balances[winner] = d.balance(winner) + amount
	d.locked[gameID] -= amount
	if d.locked[gameID] <= 0 {
		delete(d.locked, gameID)
	}
	d.transfers = append(d.transfers, Transfer{GameID: gameID, Winner: winner, Amount: amount})
	return true, nil
}

// Locked returns the stake currently held for gameID
func (d *DemoLedger) Locked(gameID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.locked[gameID]
}

// Transfers returns every payout made so far
func (d *DemoLedger) Transfers() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Transfer(nil), d.transfers...)
}
