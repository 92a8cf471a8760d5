package history

import (
	"context"

	"crashpit/internal/game"
)

// Noop satisfies game.HistoryRecorder when no database is configured.
type Noop struct{}

func (Noop) RecordSettlement(context.Context, game.Settlement) error { return nil }
func (Noop) ArchiveRound(context.Context, game.RoundRecord) error    { return nil }
