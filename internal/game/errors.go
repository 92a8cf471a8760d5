package game

import "errors"

// Every rejection a caller can hit is an expected outcome, returned as a
// typed value. None of these indicate a system fault.
var (
	ErrInvalidAmount       = errors.New("bet amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRoundNotBetting     = errors.New("betting window is closed")
	ErrRoundNotRunning     = errors.New("round is not running")
	ErrDuplicateWager      = errors.New("wager already placed this round")
	ErrNoActiveWager       = errors.New("no active wager")
	ErrAlreadySettled      = errors.New("wager already settled")
	ErrEngineBusy          = errors.New("engine request queue full")
	ErrEngineStopped       = errors.New("engine stopped")
)
