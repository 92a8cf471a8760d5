package ledger

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crashpit/internal/game"
)

const (
	balanceKeyPrefix  = "crash:balance:"
	pendingCreditsKey = "crash:credits:pending"
	reconcileInterval = 5 * time.Second
)

// debitScript checks and debits a balance in one server-side step. Returns
// -1 when the balance cannot cover the amount, otherwise the new balance.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local amt = tonumber(ARGV[1])
if bal < amt then
	return '-1'
end
return redis.call('INCRBYFLOAT', KEYS[1], '-' .. ARGV[1])
`)

type pendingCredit struct {
	Ref    string  `json:"ref"`
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// Redis keeps balances in redis and satisfies game.Ledger. Credits that fail
// against a down redis node land on a pending list and are retried by the
// reconciliation loop, so the engine never re-runs a settlement.
type Redis struct {
	client *redis.Client
	stop   chan struct{}
}

func NewRedis(client *redis.Client) *Redis {
	l := &Redis{
		client: client,
		stop:   make(chan struct{}),
	}
	go l.reconcileLoop()
	return l
}

func (l *Redis) Close() {
	close(l.stop)
}

// Debit atomically withdraws amount from the user's balance.
func (l *Redis) Debit(ctx context.Context, userID string, amount float64) (float64, error) {
	res, err := debitScript.Run(ctx, l.client, []string{balanceKeyPrefix + userID}, amount).Float64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, game.ErrInsufficientBalance
	}
	return res, nil
}

// Credit atomically deposits amount. On infrastructure failure the credit is
// queued for reconciliation and the error returned for logging.
func (l *Redis) Credit(ctx context.Context, userID string, amount float64) (float64, error) {
	balance, err := l.client.IncrByFloat(ctx, balanceKeyPrefix+userID, amount).Result()
	if err != nil {
		l.queuePending(userID, amount)
		return 0, err
	}
	return balance, nil
}

// Balance reads the current balance; zero for unknown users.
func (l *Redis) Balance(ctx context.Context, userID string) (float64, error) {
	balance, err := l.client.Get(ctx, balanceKeyPrefix+userID).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return balance, err
}

// SetBalance overwrites a balance. Admin/dev surface only.
func (l *Redis) SetBalance(ctx context.Context, userID string, amount float64) error {
	return l.client.Set(ctx, balanceKeyPrefix+userID, amount, 0).Err()
}

func (l *Redis) queuePending(userID string, amount float64) {
	entry := pendingCredit{
		Ref:    uuid.NewString(),
		UserID: userID,
		Amount: amount,
	}
	data, _ := json.Marshal(entry)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.RPush(ctx, pendingCreditsKey, data).Err(); err != nil {
		// Both the credit and the queue write failed; keep a durable trace
		// in the log for manual reconciliation.
		log.Printf("[LEDGER] UNRECONCILED credit %s: user %s amount %.2f: %v", entry.Ref, userID, amount, err)
	}
}

// reconcileLoop retries queued credits until redis accepts them.
func (l *Redis) reconcileLoop() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.drainPending()
		}
	}
}

func (l *Redis) drainPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		data, err := l.client.LPop(ctx, pendingCreditsKey).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			return
		}

		var entry pendingCredit
		if json.Unmarshal([]byte(data), &entry) != nil {
			log.Printf("[LEDGER] dropping malformed pending credit: %s", data)
			continue
		}

		if err := l.client.IncrByFloat(ctx, balanceKeyPrefix+entry.UserID, entry.Amount).Err(); err != nil {
			// Still down; requeue and back off until the next tick.
			l.client.RPush(ctx, pendingCreditsKey, data)
			return
		}
		log.Printf("[LEDGER] reconciled credit %s: user %s amount %.2f", entry.Ref, entry.UserID, entry.Amount)
	}
}
