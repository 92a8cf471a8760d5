package game

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger holds per-user balances. Both operations are atomic single updates;
// the engine never reads-then-writes a balance across two calls. Debit returns
// ErrInsufficientBalance when the balance cannot cover the amount.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount float64) (float64, error)
	Credit(ctx context.Context, userID string, amount float64) (float64, error)
}

// HistoryRecorder consumes settlement and round-archive events. Failures are
// infrastructure faults: they are logged and retried out of band, never allowed
// to block or corrupt the round.
type HistoryRecorder interface {
	RecordSettlement(ctx context.Context, s Settlement) error
	ArchiveRound(ctx context.Context, r RoundRecord) error
}

// Broadcaster pushes events to connected clients, best effort.
type Broadcaster interface {
	Broadcast(v interface{})
}

// Config holds the per-table tuning knobs.
type Config struct {
	Table          string
	WaitingTime    time.Duration
	BettingTime    time.Duration
	CrashedTime    time.Duration
	TickInterval   time.Duration
	MinBet         float64
	MaxBet         float64
	HouseEdge      float64
	Curve          CurveParams
	Tiers          []Tier
	BetTimeout     time.Duration
	CashoutTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Table:          "main",
		WaitingTime:    10 * time.Second,
		BettingTime:    5 * time.Second,
		CrashedTime:    5 * time.Second,
		TickInterval:   100 * time.Millisecond,
		MinBet:         1.0,
		MaxBet:         10000.0,
		HouseEdge:      0.05,
		Curve:          DefaultCurveParams(),
		Tiers:          DefaultTiers(),
		BetTimeout:     5 * time.Second,
		CashoutTimeout: 500 * time.Millisecond,
	}
}

// Engine owns one table's round cycle. All round state is mutated by the
// single loop goroutine; bets and cash-outs are serialized through request
// channels, so they can never interleave with the crash transition.
type Engine struct {
	cfg     Config
	ledger  Ledger
	history HistoryRecorder
	hub     Broadcaster
	gen     *Generator
	curve   *Curve

	ctx        context.Context
	stateMutex sync.RWMutex
	current    *round
	nonce      int

	betChannel     chan betRequest
	cashoutChannel chan cashoutRequest
	stopChan       chan struct{}
	stopOnce       sync.Once
}

func NewEngine(cfg Config, ledger Ledger, history HistoryRecorder, hub Broadcaster) *Engine {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	if history == nil {
		history = nopRecorder{}
	}
	if hub == nil {
		hub = nopBroadcaster{}
	}
	return &Engine{
		cfg:            cfg,
		ledger:         ledger,
		history:        history,
		hub:            hub,
		gen:            NewGenerator(cfg.Tiers, nil),
		curve:          NewCurve(cfg.Curve),
		ctx:            context.Background(),
		betChannel:     make(chan betRequest, 1000),
		cashoutChannel: make(chan cashoutRequest, 1000),
		stopChan:       make(chan struct{}),
	}
}

func (e *Engine) Table() string { return e.cfg.Table }

func (e *Engine) Start() {
	go e.gameLoop()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// PlaceBet submits a wager for the current round's betting window.
func (e *Engine) PlaceBet(userID string, amount, autoCashout float64) (*BetReceipt, error) {
	req := betRequest{
		UserID:      userID,
		Amount:      amount,
		AutoCashout: autoCashout,
		respChan:    make(chan betReply, 1),
	}
	select {
	case e.betChannel <- req:
	case <-e.stopChan:
		return nil, ErrEngineStopped
	default:
		return nil, ErrEngineBusy
	}
	select {
	case rep := <-req.respChan:
		return rep.receipt, rep.err
	case <-time.After(e.cfg.BetTimeout):
		return nil, ErrEngineBusy
	case <-e.stopChan:
		return nil, ErrEngineStopped
	}
}

// CashOut locks in the current multiplier for the caller's wager.
func (e *Engine) CashOut(userID string) (*CashOutResult, error) {
	req := cashoutRequest{
		UserID:   userID,
		respChan: make(chan cashoutReply, 1),
	}
	select {
	case e.cashoutChannel <- req:
	case <-e.stopChan:
		return nil, ErrEngineStopped
	default:
		return nil, ErrEngineBusy
	}
	select {
	case rep := <-req.respChan:
		return rep.result, rep.err
	case <-time.After(e.cfg.CashoutTimeout):
		return nil, ErrEngineBusy
	case <-e.stopChan:
		return nil, ErrEngineStopped
	}
}

// Snapshot returns the display state. The crash point and server seed are
// only populated once the round has crashed.
func (e *Engine) Snapshot() Snapshot {
	e.stateMutex.RLock()
	defer e.stateMutex.RUnlock()

	r := e.current
	if r == nil {
		return Snapshot{Table: e.cfg.Table, Phase: PhaseWaiting, Multiplier: 1.0}
	}

	snap := Snapshot{
		RoundID:    r.ID,
		Table:      e.cfg.Table,
		Phase:      r.Phase,
		Multiplier: displayMultiplier(r.Multiplier),
		Commitment: r.Commitment,
		Players:    len(r.Wagers),
	}
	if r.Phase == PhaseRunning {
		snap.Elapsed = r.Elapsed
	}
	if !r.Deadline.IsZero() && r.Phase != PhaseRunning {
		if rem := time.Until(r.Deadline).Seconds(); rem > 0 {
			snap.TimeRemaining = rem
		}
	}
	if r.Phase == PhaseCrashed {
		snap.CrashPoint = r.CrashPoint
		snap.ServerSeed = r.ServerSeed
	}
	return snap
}

func (e *Engine) gameLoop() {
	for {
		select {
		case <-e.stopChan:
			log.Printf("[ENGINE] %s: loop stopped", e.cfg.Table)
			return
		default:
			e.runRound()
		}
	}
}

func (e *Engine) runRound() {
	e.nonce++
	r := &round{
		ID:         uuid.NewString(),
		Phase:      PhaseWaiting,
		Nonce:      e.nonce,
		StartedAt:  time.Now(),
		Deadline:   time.Now().Add(e.cfg.WaitingTime),
		Multiplier: 1.0,
		Wagers:     make(map[string]*Wager),
	}
	e.stateMutex.Lock()
	e.current = r
	e.stateMutex.Unlock()

	e.hub.Broadcast(map[string]interface{}{
		"type":      "round_waiting",
		"round_id":  r.ID,
		"table":     e.cfg.Table,
		"time_left": e.cfg.WaitingTime.Seconds(),
	})

	if !e.idlePhase(r) {
		return
	}

	// Entering the betting window: draw the crash point once, keep it
	// server-side, publish only the commitment.
	e.stateMutex.Lock()
	r.ServerSeed = GenerateSeed()
	r.ClientSeed = GenerateSeed()
	r.Commitment = Commitment(r.ServerSeed)
	r.CrashPoint = e.gen.FromUniform(UniformDraw(r.ServerSeed, r.ClientSeed, r.Nonce))
	r.Phase = PhaseBetting
	r.Deadline = time.Now().Add(e.cfg.BettingTime)
	e.stateMutex.Unlock()

	log.Printf("[ENGINE] %s: round %s betting open, commitment %s, crash %.2fx (hidden)",
		e.cfg.Table, r.ID, r.Commitment[:16], r.CrashPoint)

	e.hub.Broadcast(map[string]interface{}{
		"type":       "round_start",
		"round_id":   r.ID,
		"table":      e.cfg.Table,
		"commitment": r.Commitment,
		"time_left":  e.cfg.BettingTime.Seconds(),
	})

	if !e.bettingPhase(r) {
		return
	}

	e.stateMutex.Lock()
	r.Phase = PhaseRunning
	r.RunStart = time.Now()
	r.Deadline = time.Time{}
	e.stateMutex.Unlock()

	e.hub.Broadcast(map[string]interface{}{
		"type":     "round_running",
		"round_id": r.ID,
		"table":    e.cfg.Table,
	})

	if !e.runningPhase(r) {
		return
	}

	e.archiveRound(r)

	if !e.idlePhase(r) {
		return
	}

	log.Printf("[ENGINE] %s: round %s complete at %.2fx (%d wagers, staked %.2f, paid %.2f)",
		e.cfg.Table, r.ID, r.CrashPoint, len(r.Wagers), r.TotalStaked, r.TotalPaid)
}

// idlePhase answers requests with phase rejections until the deadline.
func (e *Engine) idlePhase(r *round) bool {
	timer := time.NewTimer(time.Until(r.Deadline))
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case req := <-e.betChannel:
			req.respChan <- betReply{err: ErrRoundNotBetting}
		case req := <-e.cashoutChannel:
			e.rejectCashout(r, req)
		case <-e.stopChan:
			return false
		}
	}
}

func (e *Engine) bettingPhase(r *round) bool {
	timer := time.NewTimer(time.Until(r.Deadline))
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case req := <-e.betChannel:
			e.handleBet(r, req)
		case req := <-e.cashoutChannel:
			e.rejectCashout(r, req)
		case <-e.stopChan:
			return false
		}
	}
}

func (e *Engine) runningPhase(r *round) bool {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(r.RunStart).Seconds()
			mult := e.curve.ValueAt(elapsed)

			if mult >= r.CrashPoint {
				// The authoritative crash event. The sweep settles every
				// still-placed wager before any new round state is visible.
				e.stateMutex.Lock()
				r.Phase = PhaseCrashed
				r.Elapsed = elapsed
				r.Multiplier = r.CrashPoint
				r.CrashedAt = time.Now()
				r.Deadline = r.CrashedAt.Add(e.cfg.CrashedTime)
				e.stateMutex.Unlock()

				e.crashSweep(r)

				e.hub.Broadcast(map[string]interface{}{
					"type":        "crash",
					"round_id":    r.ID,
					"table":       e.cfg.Table,
					"multiplier":  r.CrashPoint,
					"server_seed": r.ServerSeed,
					"client_seed": r.ClientSeed,
					"nonce":       r.Nonce,
				})
				return true
			}

			e.stateMutex.Lock()
			r.Elapsed = elapsed
			r.Multiplier = mult
			e.stateMutex.Unlock()

			e.hub.Broadcast(map[string]interface{}{
				"type":       "update",
				"round_id":   r.ID,
				"table":      e.cfg.Table,
				"multiplier": displayMultiplier(mult),
			})

			e.autoCashouts(r)

		case req := <-e.cashoutChannel:
			e.handleCashout(r, req)

		case req := <-e.betChannel:
			req.respChan <- betReply{err: ErrRoundNotBetting}

		case <-e.stopChan:
			return false
		}
	}
}

func (e *Engine) handleBet(r *round, req betRequest) {
	reply := func(rec *BetReceipt, err error) {
		req.respChan <- betReply{receipt: rec, err: err}
	}

	if req.Amount <= 0 || math.IsNaN(req.Amount) {
		reply(nil, ErrInvalidAmount)
		return
	}
	if req.Amount < e.cfg.MinBet || req.Amount > e.cfg.MaxBet {
		reply(nil, ErrInvalidAmount)
		return
	}
	if _, exists := r.Wagers[req.UserID]; exists {
		reply(nil, ErrDuplicateWager)
		return
	}

	balance, err := e.ledger.Debit(e.ctx, req.UserID, req.Amount)
	if err != nil {
		reply(nil, err)
		return
	}

	w := &Wager{
		RoundID:     r.ID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		AutoCashout: req.AutoCashout,
		PlacedAt:    time.Now(),
		State:       WagerPlaced,
	}
	e.stateMutex.Lock()
	r.Wagers[req.UserID] = w
	r.TotalStaked += req.Amount
	e.stateMutex.Unlock()

	reply(&BetReceipt{
		RoundID:  r.ID,
		UserID:   req.UserID,
		Amount:   req.Amount,
		Balance:  balance,
		PlacedAt: w.PlacedAt.Unix(),
	}, nil)

	e.hub.Broadcast(map[string]interface{}{
		"type":     "bet_placed",
		"round_id": r.ID,
		"table":    e.cfg.Table,
		"user_id":  req.UserID,
		"amount":   req.Amount,
	})

	log.Printf("[ENGINE] %s: %s staked %.2f on round %s", e.cfg.Table, req.UserID, req.Amount, r.ID)
}

func (e *Engine) handleCashout(r *round, req cashoutRequest) {
	w, exists := r.Wagers[req.UserID]
	if !exists {
		req.respChan <- cashoutReply{err: ErrNoActiveWager}
		return
	}
	mult := displayMultiplier(r.Multiplier)
	res, err := e.settleCashout(r, w, mult)
	req.respChan <- cashoutReply{result: res, err: err}
}

// settleCashout performs the one-and-only settlement for a cashed-out wager.
// The settle-once guard flips before the ledger credit; the losing side of
// any race observes ErrAlreadySettled and touches nothing.
func (e *Engine) settleCashout(r *round, w *Wager, mult float64) (*CashOutResult, error) {
	if !w.trySettle() {
		return nil, ErrAlreadySettled
	}

	winnings := math.Floor(w.Amount * mult * (1 - e.cfg.HouseEdge))
	now := time.Now()

	e.stateMutex.Lock()
	w.State = WagerCashedOut
	w.CashoutMultiplier = mult
	w.Winnings = winnings
	r.TotalPaid += winnings
	e.stateMutex.Unlock()

	balance, err := e.ledger.Credit(e.ctx, w.UserID, winnings)
	if err != nil {
		// Infra fault. The guard is already flipped, so the credit is owed
		// exactly once; the ledger's reconciliation picks it up.
		log.Printf("[ENGINE] %s: credit failed for %s (%.2f): %v", e.cfg.Table, w.UserID, winnings, err)
	}

	e.stateMutex.Lock()
	w.State = WagerSettled
	e.stateMutex.Unlock()

	outcome := mult
	e.recordSettlement(Settlement{
		RoundID:           r.ID,
		UserID:            w.UserID,
		BetAmount:         w.Amount,
		OutcomeMultiplier: &outcome,
		Winnings:          winnings,
		SettledAt:         now,
		State:             WagerSettled,
	})

	e.hub.Broadcast(map[string]interface{}{
		"type":       "cashout",
		"round_id":   r.ID,
		"table":      e.cfg.Table,
		"user_id":    w.UserID,
		"multiplier": mult,
		"winnings":   winnings,
	})

	log.Printf("[ENGINE] %s: %s cashed out at %.2fx for %.2f", e.cfg.Table, w.UserID, mult, winnings)

	return &CashOutResult{
		RoundID:    r.ID,
		UserID:     w.UserID,
		Multiplier: mult,
		Winnings:   winnings,
		Balance:    balance,
	}, nil
}

// autoCashouts fires cash-outs whose target the multiplier has reached.
// Processed inline on the loop goroutine through the same settle-once path
// as explicit requests.
func (e *Engine) autoCashouts(r *round) {
	mult := displayMultiplier(r.Multiplier)
	for _, w := range r.Wagers {
		if w.AutoCashout > 0 && mult >= w.AutoCashout && !w.IsSettled() {
			e.settleCashout(r, w, mult)
		}
	}
}

// crashSweep settles every wager that never cashed out. The debit at
// placement already represents the loss, so no ledger credit occurs here.
func (e *Engine) crashSweep(r *round) {
	now := time.Now()
	swept := 0
	for _, w := range r.Wagers {
		if !w.trySettle() {
			continue
		}
		e.stateMutex.Lock()
		w.State = WagerSettled
		w.Winnings = 0
		e.stateMutex.Unlock()

		e.recordSettlement(Settlement{
			RoundID:           r.ID,
			UserID:            w.UserID,
			BetAmount:         w.Amount,
			OutcomeMultiplier: nil,
			Winnings:          0,
			SettledAt:         now,
			State:             WagerSettled,
		})
		swept++
	}
	if swept > 0 {
		log.Printf("[ENGINE] %s: round %s crashed at %.2fx, swept %d busted wagers",
			e.cfg.Table, r.ID, r.CrashPoint, swept)
	}
}

func (e *Engine) rejectCashout(r *round, req cashoutRequest) {
	if w, exists := r.Wagers[req.UserID]; exists && w.IsSettled() {
		req.respChan <- cashoutReply{err: ErrAlreadySettled}
		return
	}
	req.respChan <- cashoutReply{err: ErrRoundNotRunning}
}

// recordSettlement hands the record to the history store off the loop
// goroutine. A store failure is logged and reconciled later; it never blocks
// settlement.
func (e *Engine) recordSettlement(s Settlement) {
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		defer cancel()
		if err := e.history.RecordSettlement(ctx, s); err != nil {
			log.Printf("[ENGINE] %s: history record failed for %s/%s: %v", e.cfg.Table, s.RoundID, s.UserID, err)
		}
	}()
}

func (e *Engine) archiveRound(r *round) {
	e.stateMutex.RLock()
	rec := RoundRecord{
		RoundID:     r.ID,
		Table:       e.cfg.Table,
		CrashPoint:  r.CrashPoint,
		ServerSeed:  r.ServerSeed,
		ClientSeed:  r.ClientSeed,
		Commitment:  r.Commitment,
		Nonce:       r.Nonce,
		StartedAt:   r.StartedAt,
		CrashedAt:   r.CrashedAt,
		Wagers:      len(r.Wagers),
		TotalStaked: r.TotalStaked,
		TotalPaid:   r.TotalPaid,
	}
	e.stateMutex.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		defer cancel()
		if err := e.history.ArchiveRound(ctx, rec); err != nil {
			log.Printf("[ENGINE] %s: round archive failed for %s: %v", e.cfg.Table, rec.RoundID, err)
		}
	}()

	e.hub.Broadcast(map[string]interface{}{
		"type":        "round_archived",
		"round_id":    rec.RoundID,
		"table":       rec.Table,
		"crash_point": rec.CrashPoint,
	})
}

type nopRecorder struct{}

func (nopRecorder) RecordSettlement(context.Context, Settlement) error { return nil }
func (nopRecorder) ArchiveRound(context.Context, RoundRecord) error   { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(interface{}) {}
