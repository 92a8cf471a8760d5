package ledger

import (
	"context"
	"sync"

	"crashpit/internal/game"
)

// Memory is a process-local game.Ledger for tests and for running the server
// without redis. Same contract as the redis ledger: single atomic update per
// operation.
type Memory struct {
	mu       sync.Mutex
	balances map[string]float64
	credits  map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]float64),
		credits:  make(map[string]int),
	}
}

func (m *Memory) Debit(_ context.Context, userID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return 0, game.ErrInsufficientBalance
	}
	m.balances[userID] -= amount
	return m.balances[userID], nil
}

func (m *Memory) Credit(_ context.Context, userID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	m.credits[userID]++
	return m.balances[userID], nil
}

func (m *Memory) Balance(_ context.Context, userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) SetBalance(_ context.Context, userID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = amount
	return nil
}

// CreditCount reports how many credits a user has received. Test hook for
// the exactly-once property.
func (m *Memory) CreditCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[userID]
}
