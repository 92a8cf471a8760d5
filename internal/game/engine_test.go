package game

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

// testLedger is an in-memory game.Ledger that counts every debit and credit,
// so tests can assert the exactly-once property directly.
type testLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	credits  map[string]int
	debits   map[string]int
}

func newTestLedger() *testLedger {
	return &testLedger{
		balances: make(map[string]float64),
		credits:  make(map[string]int),
		debits:   make(map[string]int),
	}
}

func (l *testLedger) Debit(_ context.Context, userID string, amount float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return 0, ErrInsufficientBalance
	}
	l.balances[userID] -= amount
	l.debits[userID]++
	return l.balances[userID], nil
}

func (l *testLedger) Credit(_ context.Context, userID string, amount float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	l.credits[userID]++
	return l.balances[userID], nil
}

func (l *testLedger) set(userID string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

func (l *testLedger) balance(userID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *testLedger) creditCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[userID]
}

func (l *testLedger) debitCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debits[userID]
}

type testRecorder struct {
	mu          sync.Mutex
	settlements []Settlement
	rounds      []RoundRecord
}

func (r *testRecorder) RecordSettlement(_ context.Context, s Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements = append(r.settlements, s)
	return nil
}

func (r *testRecorder) ArchiveRound(_ context.Context, rec RoundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, rec)
	return nil
}

func (r *testRecorder) settlementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settlements)
}

func (r *testRecorder) settlementFor(userID string) (Settlement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.settlements {
		if s.UserID == userID {
			return s, true
		}
	}
	return Settlement{}, false
}

// fastConfig pins the crash point by collapsing the tier table to a single
// point and compresses every phase so a full round runs in well under a
// second.
func fastConfig(crash float64) Config {
	cfg := DefaultConfig()
	cfg.Table = "test"
	cfg.WaitingTime = 20 * time.Millisecond
	cfg.BettingTime = 80 * time.Millisecond
	cfg.CrashedTime = 40 * time.Millisecond
	cfg.TickInterval = 2 * time.Millisecond
	cfg.Curve = CurveParams{GrowthBase: 1.018, TimeFactor: 100}
	cfg.Tiers = []Tier{{CumLow: 0, CumHigh: 1, Low: crash, High: crash}}
	cfg.BetTimeout = 2 * time.Second
	cfg.CashoutTimeout = 2 * time.Second
	return cfg
}

func waitForPhase(t *testing.T, e *Engine, phase Phase) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := e.Snapshot()
		if snap.Phase == phase {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s (current: %s)", phase, e.Snapshot().Phase)
	return Snapshot{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngine_BustScenario(t *testing.T) {
	ledger := newTestLedger()
	recorder := &testRecorder{}
	e := NewEngine(fastConfig(1.5), ledger, recorder, nil)
	ledger.set("alice", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	receipt, err := e.PlaceBet("alice", 100, 0)
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if receipt.Balance != 900 {
		t.Errorf("balance after debit = %v, want 900", receipt.Balance)
	}

	waitForPhase(t, e, PhaseCrashed)
	waitFor(t, "bust settlement", func() bool {
		_, ok := recorder.settlementFor("alice")
		return ok
	})

	if got := ledger.creditCount("alice"); got != 0 {
		t.Errorf("busted wager received %d credits, want 0", got)
	}
	if got := ledger.balance("alice"); got != 900 {
		t.Errorf("balance = %v, want 900 (net -100)", got)
	}

	s, _ := recorder.settlementFor("alice")
	if s.Winnings != 0 {
		t.Errorf("bust winnings = %v, want 0", s.Winnings)
	}
	if s.OutcomeMultiplier != nil {
		t.Errorf("bust outcome multiplier = %v, want nil", *s.OutcomeMultiplier)
	}
}

func TestEngine_CashOutWin(t *testing.T) {
	ledger := newTestLedger()
	recorder := &testRecorder{}
	e := NewEngine(fastConfig(3.0), ledger, recorder, nil)
	ledger.set("bob", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	if _, err := e.PlaceBet("bob", 100, 0); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	waitForPhase(t, e, PhaseRunning)
	waitFor(t, "multiplier past 1.2", func() bool {
		snap := e.Snapshot()
		return snap.Phase == PhaseRunning && snap.Multiplier >= 1.2
	})

	result, err := e.CashOut("bob")
	if err != nil {
		t.Fatalf("CashOut: %v", err)
	}
	if result.Multiplier >= 3.0 {
		t.Errorf("cash-out multiplier %v not below the crash point", result.Multiplier)
	}
	wantWinnings := math.Floor(100 * result.Multiplier * 0.95)
	if result.Winnings != wantWinnings {
		t.Errorf("winnings = %v, want floor(100*%v*0.95) = %v", result.Winnings, result.Multiplier, wantWinnings)
	}

	if got := ledger.creditCount("bob"); got != 1 {
		t.Errorf("credits = %d, want exactly 1", got)
	}
	if got := ledger.balance("bob"); got != 900+wantWinnings {
		t.Errorf("balance = %v, want %v", got, 900+wantWinnings)
	}

	// The wager is already settled; the crash sweep must not touch it.
	if _, err := e.CashOut("bob"); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second CashOut error = %v, want ErrAlreadySettled", err)
	}

	waitForPhase(t, e, PhaseCrashed)
	if got := ledger.creditCount("bob"); got != 1 {
		t.Errorf("credits after crash = %d, want still 1", got)
	}

	waitFor(t, "settlement record", func() bool {
		_, ok := recorder.settlementFor("bob")
		return ok
	})
	s, _ := recorder.settlementFor("bob")
	if s.OutcomeMultiplier == nil || *s.OutcomeMultiplier != result.Multiplier {
		t.Errorf("recorded multiplier = %v, want %v", s.OutcomeMultiplier, result.Multiplier)
	}
}

func TestEngine_AutoCashout(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(3.0), ledger, nil, nil)
	ledger.set("carol", 500)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	if _, err := e.PlaceBet("carol", 50, 1.5); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	waitForPhase(t, e, PhaseCrashed)

	if got := ledger.creditCount("carol"); got != 1 {
		t.Errorf("auto cash-out credits = %d, want 1", got)
	}
	if got := ledger.balance("carol"); got <= 450 {
		t.Errorf("balance = %v, want above 450 after auto cash-out at >= 1.5x", got)
	}
}

func TestEngine_DuplicateWager(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(1.5), ledger, nil, nil)
	ledger.set("dave", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	if _, err := e.PlaceBet("dave", 100, 0); err != nil {
		t.Fatalf("first PlaceBet: %v", err)
	}
	if _, err := e.PlaceBet("dave", 100, 0); !errors.Is(err, ErrDuplicateWager) {
		t.Errorf("second PlaceBet error = %v, want ErrDuplicateWager", err)
	}

	if got := ledger.debitCount("dave"); got != 1 {
		t.Errorf("debits = %d, want 1", got)
	}
	if got := ledger.balance("dave"); got != 900 {
		t.Errorf("balance = %v, want 900", got)
	}
}

func TestEngine_InvalidAmount(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(1.5), ledger, nil, nil)
	ledger.set("erin", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)

	for _, amount := range []float64{-5, 0, 1e9} {
		if _, err := e.PlaceBet("erin", amount, 0); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("PlaceBet(%v) error = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if got := ledger.balance("erin"); got != 1000 {
		t.Errorf("balance mutated by rejected bets: %v", got)
	}
}

func TestEngine_InsufficientBalance(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(1.5), ledger, nil, nil)
	ledger.set("frank", 50)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	if _, err := e.PlaceBet("frank", 100, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("PlaceBet error = %v, want ErrInsufficientBalance", err)
	}
	if got := ledger.balance("frank"); got != 50 {
		t.Errorf("balance = %v, want untouched 50", got)
	}

	// The failed bet must not have claimed the user's slot for the round.
	if _, err := e.PlaceBet("frank", 30, 0); err != nil {
		t.Errorf("affordable bet after rejection failed: %v", err)
	}
}

func TestEngine_NoLateBets(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(5.0), ledger, nil, nil)
	ledger.set("gina", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseWaiting)
	if _, err := e.PlaceBet("gina", 100, 0); !errors.Is(err, ErrRoundNotBetting) {
		t.Errorf("bet during WAITING error = %v, want ErrRoundNotBetting", err)
	}

	waitForPhase(t, e, PhaseRunning)
	if _, err := e.PlaceBet("gina", 100, 0); !errors.Is(err, ErrRoundNotBetting) {
		t.Errorf("bet during RUNNING error = %v, want ErrRoundNotBetting", err)
	}

	waitForPhase(t, e, PhaseCrashed)
	if _, err := e.PlaceBet("gina", 100, 0); !errors.Is(err, ErrRoundNotBetting) {
		t.Errorf("bet during CRASHED error = %v, want ErrRoundNotBetting", err)
	}

	if got := ledger.balance("gina"); got != 1000 {
		t.Errorf("late bets touched the ledger: balance = %v", got)
	}
}

func TestEngine_NoLateCashouts(t *testing.T) {
	ledger := newTestLedger()
	e := NewEngine(fastConfig(1.5), ledger, nil, nil)
	ledger.set("hank", 1000)

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	if _, err := e.PlaceBet("hank", 100, 0); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if _, err := e.CashOut("hank"); !errors.Is(err, ErrRoundNotRunning) {
		t.Errorf("cash-out during BETTING error = %v, want ErrRoundNotRunning", err)
	}

	waitForPhase(t, e, PhaseRunning)
	if _, err := e.CashOut("nobody"); !errors.Is(err, ErrNoActiveWager) {
		t.Errorf("cash-out with no wager error = %v, want ErrNoActiveWager", err)
	}

	waitForPhase(t, e, PhaseCrashed)
	if _, err := e.CashOut("hank"); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("cash-out after crash sweep error = %v, want ErrAlreadySettled", err)
	}
	if got := ledger.creditCount("hank"); got != 0 {
		t.Errorf("busted wager credited %d times, want 0", got)
	}
}

// TestEngine_SettlementRace drives the settle-once guard directly: a cash-out
// and the crash sweep fired at the same wager must produce exactly one
// settlement and at most one credit.
func TestEngine_SettlementRace(t *testing.T) {
	for iter := 0; iter < 200; iter++ {
		ledger := newTestLedger()
		e := NewEngine(fastConfig(2.0), ledger, nil, nil)

		w := &Wager{RoundID: "r", UserID: "ivy", Amount: 100, State: WagerPlaced}
		r := &round{
			ID:         "r",
			Phase:      PhaseRunning,
			CrashPoint: 2.0,
			Multiplier: 1.8,
			Wagers:     map[string]*Wager{"ivy": w},
		}

		var wg sync.WaitGroup
		var result *CashOutResult
		var cashErr error

		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			result, cashErr = e.settleCashout(r, w, 1.8)
		}()
		go func() {
			defer wg.Done()
			<-start
			e.crashSweep(r)
		}()
		close(start)
		wg.Wait()

		if !w.IsSettled() {
			t.Fatal("wager not settled by either path")
		}

		credits := ledger.creditCount("ivy")
		if result != nil {
			if cashErr != nil {
				t.Fatalf("got both result and error: %v", cashErr)
			}
			if credits != 1 {
				t.Fatalf("cash-out won but credits = %d, want 1", credits)
			}
		} else {
			if !errors.Is(cashErr, ErrAlreadySettled) {
				t.Fatalf("cash-out lost with error %v, want ErrAlreadySettled", cashErr)
			}
			if credits != 0 {
				t.Fatalf("sweep won but credits = %d, want 0", credits)
			}
		}
	}
}

func TestEngine_SnapshotHidesCrashPoint(t *testing.T) {
	e := NewEngine(fastConfig(2.0), newTestLedger(), nil, nil)

	e.Start()
	defer e.Stop()

	snap := waitForPhase(t, e, PhaseBetting)
	if snap.CrashPoint != 0 || snap.ServerSeed != "" {
		t.Errorf("betting snapshot leaks the outcome: %+v", snap)
	}
	if snap.Commitment == "" {
		t.Error("betting snapshot missing the commitment")
	}

	snap = waitForPhase(t, e, PhaseRunning)
	if snap.CrashPoint != 0 || snap.ServerSeed != "" {
		t.Errorf("running snapshot leaks the outcome: %+v", snap)
	}

	snap = waitForPhase(t, e, PhaseCrashed)
	if snap.CrashPoint != 2.0 {
		t.Errorf("crashed snapshot crash point = %v, want 2.0", snap.CrashPoint)
	}
	if snap.ServerSeed == "" {
		t.Error("crashed snapshot should reveal the server seed")
	}
	if Commitment(snap.ServerSeed) != snap.Commitment {
		t.Error("revealed seed does not hash to the published commitment")
	}
}

func TestEngine_PhaseWindowTiming(t *testing.T) {
	cfg := fastConfig(1.5)
	cfg.WaitingTime = 150 * time.Millisecond
	cfg.BettingTime = 300 * time.Millisecond

	ledger := newTestLedger()
	e := NewEngine(cfg, ledger, nil, nil)
	ledger.set("jack", 1000)

	e.Start()
	defer e.Stop()

	// Mid betting window.
	time.Sleep(250 * time.Millisecond)
	if snap := e.Snapshot(); snap.Phase != PhaseBetting {
		t.Fatalf("expected BETTING at t=250ms, got %s", snap.Phase)
	}
	if _, err := e.PlaceBet("jack", 100, 0); err != nil {
		t.Errorf("bet inside the window failed: %v", err)
	}

	waitForPhase(t, e, PhaseRunning)
	if _, err := e.PlaceBet("jack", 100, 0); !errors.Is(err, ErrRoundNotBetting) {
		t.Errorf("bet after the window error = %v, want ErrRoundNotBetting", err)
	}
}

func TestEngine_ExactlyOnceAcrossManyUsers(t *testing.T) {
	ledger := newTestLedger()
	recorder := &testRecorder{}
	e := NewEngine(fastConfig(2.5), ledger, recorder, nil)

	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	for _, u := range users {
		ledger.set(u, 100)
	}

	e.Start()
	defer e.Stop()

	waitForPhase(t, e, PhaseBetting)
	for i, u := range users {
		auto := 0.0
		if i%2 == 0 {
			auto = 1.3 // half the field cashes out automatically
		}
		if _, err := e.PlaceBet(u, 10, auto); err != nil {
			t.Fatalf("PlaceBet(%s): %v", u, err)
		}
	}

	waitForPhase(t, e, PhaseCrashed)
	waitFor(t, "all settlements recorded", func() bool {
		return recorder.settlementCount() >= len(users)
	})

	for i, u := range users {
		credits := ledger.creditCount(u)
		if i%2 == 0 && credits != 1 {
			t.Errorf("%s auto-cashed but credits = %d, want 1", u, credits)
		}
		if i%2 == 1 && credits != 0 {
			t.Errorf("%s busted but credits = %d, want 0", u, credits)
		}
	}

	waitFor(t, "round archived", func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.rounds) >= 1
	})
	recorder.mu.Lock()
	rec := recorder.rounds[0]
	recorder.mu.Unlock()
	if rec.Wagers != len(users) {
		t.Errorf("archived wager count = %d, want %d", rec.Wagers, len(users))
	}
	if rec.TotalStaked != 100 {
		t.Errorf("archived total staked = %v, want 100", rec.TotalStaked)
	}
}
