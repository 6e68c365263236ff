// Package budget tracks model token spend against the shared monthly
// ceiling. The drafting assistant consumes the same ledger rows, so the
// pipeline pre-checks remaining headroom before every model call instead
// of relying on the other consumer's enforcement.
package budget

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/db"
)

// Period returns the ledger period key for t (UTC month, YYYY-MM).
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Ledger reads and increments the shared budget_ledger table.
type Ledger struct {
	pool db.Pool
}

// NewLedger creates a Ledger backed by the given pool.
func NewLedger(pool db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Used returns the tokens consumed in the given period by all consumers.
// A period with no row yet reads as zero.
func (l *Ledger) Used(ctx context.Context, period string) (int64, error) {
	var used int64
	err := l.pool.QueryRow(ctx,
		`SELECT tokens_used FROM budget_ledger WHERE period = $1`,
		period,
	).Scan(&used)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "budget: read period %s", period)
	}
	return used, nil
}

// Add increments the period's counter by tokens, creating the row if it
// does not exist yet.
func (l *Ledger) Add(ctx context.Context, period string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO budget_ledger (period, tokens_used, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (period) DO UPDATE
		 SET tokens_used = budget_ledger.tokens_used + EXCLUDED.tokens_used,
		     updated_at = now()`,
		period, tokens,
	)
	if err != nil {
		return eris.Wrapf(err, "budget: add %d tokens to period %s", tokens, period)
	}
	return nil
}
