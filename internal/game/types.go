package game

import (
	"sync/atomic"
	"time"
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseBetting Phase = "BETTING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

type WagerState string

const (
	WagerPlaced    WagerState = "PLACED"
	WagerCashedOut WagerState = "CASHED_OUT"
	WagerSettled   WagerState = "SETTLED"
)

// Wager is one user's single bet within one round. At most one exists per
// (round, user). The settled flag is the settle-once guard: whichever of
// {cash-out, crash sweep} flips it performs the one and only settlement.
type Wager struct {
	RoundID           string     `json:"round_id"`
	UserID            string     `json:"user_id"`
	Amount            float64    `json:"amount"`
	AutoCashout       float64    `json:"auto_cashout,omitempty"`
	PlacedAt          time.Time  `json:"placed_at"`
	State             WagerState `json:"state"`
	CashoutMultiplier float64    `json:"cashout_multiplier,omitempty"`
	Winnings          float64    `json:"winnings"`

	settled atomic.Bool
}

// trySettle wins the settlement race at most once.
func (w *Wager) trySettle() bool {
	return w.settled.CompareAndSwap(false, true)
}

// IsSettled reports whether either settlement path has claimed this wager.
func (w *Wager) IsSettled() bool {
	return w.settled.Load()
}

// round is the engine's mutable per-round state. Owned exclusively by the
// engine loop goroutine; snapshots are copied out under stateMutex.
type round struct {
	ID          string
	Phase       Phase
	CrashPoint  float64
	ServerSeed  string
	ClientSeed  string
	Commitment  string
	Nonce       int
	StartedAt   time.Time
	RunStart    time.Time
	CrashedAt   time.Time
	Deadline    time.Time
	Elapsed     float64
	Multiplier  float64
	Wagers      map[string]*Wager
	TotalStaked float64
	TotalPaid   float64
}

// Snapshot is the read-only view served to clients. The crash point and
// server seed stay zero until the round has crashed.
type Snapshot struct {
	RoundID       string  `json:"round_id"`
	Table         string  `json:"table"`
	Phase         Phase   `json:"phase"`
	Elapsed       float64 `json:"elapsed"`
	Multiplier    float64 `json:"multiplier"`
	TimeRemaining float64 `json:"time_remaining"`
	Commitment    string  `json:"commitment"`
	Players       int     `json:"players"`
	CrashPoint    float64 `json:"crash_point,omitempty"`
	ServerSeed    string  `json:"server_seed,omitempty"`
}

// BetReceipt confirms an accepted wager.
type BetReceipt struct {
	RoundID  string  `json:"round_id"`
	UserID   string  `json:"user_id"`
	Amount   float64 `json:"amount"`
	Balance  float64 `json:"balance"`
	PlacedAt int64   `json:"placed_at"`
}

// CashOutResult reports a successful cash-out.
type CashOutResult struct {
	RoundID    string  `json:"round_id"`
	UserID     string  `json:"user_id"`
	Multiplier float64 `json:"multiplier"`
	Winnings   float64 `json:"winnings"`
	Balance    float64 `json:"balance"`
}

// Settlement is the per-wager history record emitted exactly once.
type Settlement struct {
	RoundID           string     `json:"round_id"`
	UserID            string     `json:"user_id"`
	BetAmount         float64    `json:"bet_amount"`
	OutcomeMultiplier *float64   `json:"outcome_multiplier"` // nil when the wager busted
	Winnings          float64    `json:"winnings"`
	SettledAt         time.Time  `json:"settled_at"`
	State             WagerState `json:"state"`
}

// RoundRecord is the archived form of a finished round.
type RoundRecord struct {
	RoundID     string    `json:"round_id"`
	Table       string    `json:"table"`
	CrashPoint  float64   `json:"crash_point"`
	ServerSeed  string    `json:"server_seed"`
	ClientSeed  string    `json:"client_seed"`
	Commitment  string    `json:"commitment"`
	Nonce       int       `json:"nonce"`
	StartedAt   time.Time `json:"started_at"`
	CrashedAt   time.Time `json:"crashed_at"`
	Wagers      int       `json:"wagers"`
	TotalStaked float64   `json:"total_staked"`
	TotalPaid   float64   `json:"total_paid"`
}

type betRequest struct {
	UserID      string
	Amount      float64
	AutoCashout float64
	respChan    chan betReply
}

type betReply struct {
	receipt *BetReceipt
	err     error
}

type cashoutRequest struct {
	UserID   string
	respChan chan cashoutReply
}

type cashoutReply struct {
	result *CashOutResult
	err    error
}
