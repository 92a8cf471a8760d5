package history

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgXPAwarder appends XP awards to postgres. The leveling service consumes
// the xp_awards table; nothing here knows about levels or rewards.
type PgXPAwarder struct {
	pool *pgxpool.Pool
}

func NewPgXPAwarder(pool *pgxpool.Pool) *PgXPAwarder {
	return &PgXPAwarder{pool: pool}
}

func (a *PgXPAwarder) AwardXP(ctx context.Context, userID string, amount int, reason string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO xp_awards (user_id, amount, reason, awarded_at)
		VALUES ($1, $2, $3, now())`,
		userID, amount, reason,
	)
	return err
}
