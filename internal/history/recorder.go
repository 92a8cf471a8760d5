package history

import (
	"context"
	"log"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"crashpit/internal/game"
)

// XPAwarder is the narrow hook into the leveling subsystem. The XP formula
// and its reward cascade live outside this repository.
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, amount int, reason string) error
}

// Recorder persists settlements and archived rounds to postgres and feeds
// the XP collaborator. It is a consumer of engine events; its failures are
// the engine's problem only insofar as they get logged.
type Recorder struct {
	pool *pgxpool.Pool
	xp   XPAwarder
}

func NewRecorder(pool *pgxpool.Pool, xp XPAwarder) *Recorder {
	return &Recorder{pool: pool, xp: xp}
}

func (r *Recorder) RecordSettlement(ctx context.Context, s game.Settlement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settlements (round_id, user_id, bet_amount, outcome_multiplier, winnings, state, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (round_id, user_id) DO NOTHING`,
		s.RoundID, s.UserID, s.BetAmount, s.OutcomeMultiplier, s.Winnings, string(s.State), s.SettledAt,
	)
	if err != nil {
		return err
	}

	if r.xp != nil {
		if xp, reason := xpFor(s); xp > 0 {
			if err := r.xp.AwardXP(ctx, s.UserID, xp, reason); err != nil {
				log.Printf("[HISTORY] xp award failed for %s: %v", s.UserID, err)
			}
		}
	}
	return nil
}

// xpFor grants 1 XP per 10 staked; wins are tagged separately so the
// leveling service can weight them.
func xpFor(s game.Settlement) (int, string) {
	xp := int(math.Floor(s.BetAmount / 10))
	if s.Winnings > 0 {
		return xp, "crash_win"
	}
	return xp, "crash_bet"
}

func (r *Recorder) ArchiveRound(ctx context.Context, rec game.RoundRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rounds (round_id, game_table, crash_point, server_seed, client_seed, commitment, nonce,
		                    started_at, crashed_at, wager_count, total_staked, total_paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (round_id) DO NOTHING`,
		rec.RoundID, rec.Table, rec.CrashPoint, rec.ServerSeed, rec.ClientSeed, rec.Commitment, rec.Nonce,
		rec.StartedAt, rec.CrashedAt, rec.Wagers, rec.TotalStaked, rec.TotalPaid,
	)
	return err
}

// RecentRounds returns the latest archived rounds for a table, newest first.
func (r *Recorder) RecentRounds(ctx context.Context, table string, limit int) ([]game.RoundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT round_id, game_table, crash_point, server_seed, client_seed, commitment, nonce,
		       started_at, crashed_at, wager_count, total_staked, total_paid
		FROM rounds
		WHERE game_table = $1
		ORDER BY crashed_at DESC
		LIMIT $2`,
		table, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []game.RoundRecord
	for rows.Next() {
		var rec game.RoundRecord
		if err := rows.Scan(&rec.RoundID, &rec.Table, &rec.CrashPoint, &rec.ServerSeed, &rec.ClientSeed,
			&rec.Commitment, &rec.Nonce, &rec.StartedAt, &rec.CrashedAt, &rec.Wagers,
			&rec.TotalStaked, &rec.TotalPaid); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UserSettlements returns a user's recent outcomes, newest first.
func (r *Recorder) UserSettlements(ctx context.Context, userID string, limit int) ([]game.Settlement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT round_id, user_id, bet_amount, outcome_multiplier, winnings, state, settled_at
		FROM settlements
		WHERE user_id = $1
		ORDER BY settled_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []game.Settlement
	for rows.Next() {
		var s game.Settlement
		var state string
		if err := rows.Scan(&s.RoundID, &s.UserID, &s.BetAmount, &s.OutcomeMultiplier,
			&s.Winnings, &state, &s.SettledAt); err != nil {
			return nil, err
		}
		s.State = game.WagerState(state)
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}
