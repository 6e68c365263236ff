package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/db"
	"github.com/harborlight-collective/grantscout/internal/model"
)

// Store defines persistence operations for the discovery pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.DiscoveryRun) error
	GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error)
	GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error)
	FindActiveRun(ctx context.Context) (*model.DiscoveryRun, error)
	MarkCancelling(ctx context.Context, runID string) (bool, error)
	ForceCancelled(ctx context.Context, runID string) (bool, error)
	FinalizeRun(ctx context.Context, run *model.DiscoveryRun) error
	ListRuns(ctx context.Context, limit int) ([]model.DiscoveryRun, error)

	// Query catalog
	ListEnabledQueries(ctx context.Context) ([]model.DiscoveryQuery, error)
	ListQueries(ctx context.Context) ([]model.DiscoveryQuery, error)
	UpdateQueryCursor(ctx context.Context, queryID int64, nextPage int) error
	SetQueryEnabled(ctx context.Context, name string, enabled bool) error
	UpsertQuery(ctx context.Context, q *model.DiscoveryQuery) error

	// Profiles
	ActiveProfile(ctx context.Context) (*model.OrgProfile, error)

	// Opportunities
	ExistingExternalIDs(ctx context.Context, source string, ids []string) (map[string]struct{}, error)
	InsertOpportunity(ctx context.Context, opp *model.Opportunity) (int64, error)
	ListReviewQueue(ctx context.Context, limit int) ([]model.Opportunity, error)

	Migrate(ctx context.Context) error
	Close() error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgres connects a pool and wraps it in a PostgresStore.
func NewPostgres(ctx context.Context, connString string, opts db.PoolOptions) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

// Close releases the underlying pool, if this store owns one.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateRun inserts a new run row in running state.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.DiscoveryRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, trigger_source, triggered_by, status)
		 VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Trigger), run.TriggeredBy, string(model.RunRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "discovery: create run %s", run.ID)
	}
	return nil
}

const runColumns = `id, trigger_source, triggered_by, status, started_at, completed_at,
	queries_attempted, fetched, new_candidates, detail_fetched,
	prescreen_rejected, score_rejected, below_threshold, inserted,
	cheap_input_tokens, cheap_output_tokens, capable_input_tokens, capable_output_tokens,
	error_log, fatal_error`

// GetRun returns one run with full counters and error log.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM discovery_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("discovery: run %s not found", runID)
		}
		return nil, eris.Wrapf(err, "discovery: get run %s", runID)
	}
	return run, nil
}

// GetRunStatus reads just the lifecycle status; the orchestrator polls
// this between candidates for the cancellation monitor.
func (s *PostgresStore) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM discovery_runs WHERE id = $1`, runID,
	).Scan(&status)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: get run status %s", runID)
	}
	return model.RunStatus(status), nil
}

// FindActiveRun returns the most recent run still running or cancelling,
// or nil if none.
func (s *PostgresStore) FindActiveRun(ctx context.Context) (*model.DiscoveryRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM discovery_runs
		 WHERE status IN ('running', 'cancelling')
		 ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "discovery: find active run")
	}
	return run, nil
}

// MarkCancelling transitions a running run toward cancellation. Returns
// false if the run was not in running state.
func (s *PostgresStore) MarkCancelling(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = 'cancelling' WHERE id = $1 AND status = 'running'`,
		runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "discovery: mark cancelling %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceCancelled forces an already-cancelling run to its terminal state.
// Covers an orchestrator that stopped without detecting the signal.
func (s *PostgresStore) ForceCancelled(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = 'cancelled', completed_at = now()
		 WHERE id = $1 AND status = 'cancelling'`,
		runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "discovery: force cancel %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

// FinalizeRun writes terminal status, counters, token totals and the error
// log. The status guard makes finalization a no-op if an operator already
// forced the run to a terminal state.
func (s *PostgresStore) FinalizeRun(ctx context.Context, run *model.DiscoveryRun) error {
	errLog, err := json.Marshal(run.ErrorLog)
	if err != nil {
		return eris.Wrap(err, "discovery: marshal error log")
	}
	if run.ErrorLog == nil {
		errLog = []byte("[]")
	}

	c := run.Counters
	t := run.Tokens
	_, err = s.pool.Exec(ctx,
		`UPDATE discovery_runs SET
			status = $2, completed_at = now(),
			queries_attempted = $3, fetched = $4, new_candidates = $5, detail_fetched = $6,
			prescreen_rejected = $7, score_rejected = $8, below_threshold = $9, inserted = $10,
			cheap_input_tokens = $11, cheap_output_tokens = $12,
			capable_input_tokens = $13, capable_output_tokens = $14,
			error_log = $15, fatal_error = $16
		 WHERE id = $1 AND status IN ('running', 'cancelling')`,
		run.ID, string(run.Status),
		c.QueriesAttempted, c.Fetched, c.NewCandidates, c.DetailFetched,
		c.PrescreenRejected, c.ScoreRejected, c.BelowThreshold, c.Inserted,
		t.CheapInput, t.CheapOutput, t.CapableInput, t.CapableOutput,
		errLog, run.FatalError,
	)
	if err != nil {
		return eris.Wrapf(err, "discovery: finalize run %s", run.ID)
	}
	return nil
}

// ListRuns returns runs ordered by most recent first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM discovery_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListEnabledQueries returns enabled queries in priority order.
func (s *PostgresStore) ListEnabledQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, payload, enabled, priority, current_page, created_at, updated_at
		 FROM discovery_queries WHERE enabled ORDER BY priority, id`)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list enabled queries")
	}
	defer rows.Close()
	return scanQueries(rows)
}

// ListQueries returns all catalog entries in priority order.
func (s *PostgresStore) ListQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, payload, enabled, priority, current_page, created_at, updated_at
		 FROM discovery_queries ORDER BY priority, id`)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list queries")
	}
	defer rows.Close()
	return scanQueries(rows)
}

// UpdateQueryCursor persists the next page to fetch for a query.
func (s *PostgresStore) UpdateQueryCursor(ctx context.Context, queryID int64, nextPage int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE discovery_queries SET current_page = $2, updated_at = now() WHERE id = $1`,
		queryID, nextPage,
	)
	if err != nil {
		return eris.Wrapf(err, "discovery: update cursor for query %d", queryID)
	}
	return nil
}

// SetQueryEnabled flips a query's enabled flag by name.
func (s *PostgresStore) SetQueryEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_queries SET enabled = $2, updated_at = now() WHERE name = $1`,
		name, enabled,
	)
	if err != nil {
		return eris.Wrapf(err, "discovery: set query %s enabled", name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("discovery: query %q not found", name)
	}
	return nil
}

// UpsertQuery inserts or updates a catalog entry by name. The pagination
// cursor is preserved on update so imports do not reset sweeps.
func (s *PostgresStore) UpsertQuery(ctx context.Context, q *model.DiscoveryQuery) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_queries (name, payload, enabled, priority)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET payload = EXCLUDED.payload, enabled = EXCLUDED.enabled,
		     priority = EXCLUDED.priority, updated_at = now()`,
		q.Name, q.Payload, q.Enabled, q.Priority,
	)
	if err != nil {
		return eris.Wrapf(err, "discovery: upsert query %s", q.Name)
	}
	return nil
}

// ActiveProfile returns the single active org profile, or nil if none.
func (s *PostgresStore) ActiveProfile(ctx context.Context) (*model.OrgProfile, error) {
	var p model.OrgProfile
	var weights []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, active, mission_prompt, weights, created_at
		 FROM org_profiles WHERE active LIMIT 1`,
	).Scan(&p.ID, &p.Name, &p.Active, &p.MissionPrompt, &weights, &p.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "discovery: load active profile")
	}
	if err := json.Unmarshal(weights, &p.Weights); err != nil {
		return nil, eris.Wrap(err, "discovery: decode profile weights")
	}
	return &p, nil
}

// ExistingExternalIDs returns, in one batched query, which of the given
// external ids are already persisted for a source.
func (s *PostgresStore) ExistingExternalIDs(ctx context.Context, source string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT external_id FROM opportunities
		 WHERE source = $1 AND external_id = ANY($2)`,
		source, ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: lookup existing external ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "discovery: scan external id")
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// InsertOpportunity writes one review-queue row. A (source, external_id)
// conflict returns ErrDuplicate.
func (s *PostgresStore) InsertOpportunity(ctx context.Context, opp *model.Opportunity) (int64, error) {
	breakdown, err := json.Marshal(opp.Breakdown)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: marshal score breakdown")
	}
	redFlags, err := json.Marshal(opp.RedFlags)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: marshal red flags")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO opportunities (
			source, external_id, name, funder, grant_type, description,
			award_ceiling, deadline, eligibility_notes,
			weighted_score, rationale, breakdown, red_flags, recommendation,
			status, auto_discovered, discovered_at, discovery_run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		opp.Source, opp.ExternalID, opp.Name, opp.Funder, opp.GrantType, opp.Description,
		opp.AwardCeiling, opp.Deadline, opp.EligibilityNotes,
		opp.WeightedScore, opp.Rationale, breakdown, redFlags, opp.Recommendation,
		opp.Status, opp.AutoDiscovered, opp.DiscoveredAt, opp.DiscoveryRunID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, eris.Wrap(err, "discovery: insert opportunity")
	}
	return id, nil
}

// ListReviewQueue returns auto-discovered opportunities awaiting review,
// highest score first.
func (s *PostgresStore) ListReviewQueue(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, external_id, name, funder, grant_type, description,
			award_ceiling, deadline, eligibility_notes,
			weighted_score, rationale, red_flags, recommendation,
			status, auto_discovered, discovered_at, discovery_run_id, created_at
		 FROM opportunities
		 WHERE status = $1
		 ORDER BY weighted_score DESC, id
		 LIMIT $2`,
		model.StatusRegistryReview, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list review queue")
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		var redFlags []byte
		var discoveredAt *time.Time
		var runID *string
		if err := rows.Scan(
			&o.ID, &o.Source, &o.ExternalID, &o.Name, &o.Funder, &o.GrantType, &o.Description,
			&o.AwardCeiling, &o.Deadline, &o.EligibilityNotes,
			&o.WeightedScore, &o.Rationale, &redFlags, &o.Recommendation,
			&o.Status, &o.AutoDiscovered, &discoveredAt, &runID, &o.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "discovery: scan opportunity")
		}
		if redFlags != nil {
			_ = json.Unmarshal(redFlags, &o.RedFlags)
		}
		if discoveredAt != nil {
			o.DiscoveredAt = *discoveredAt
		}
		if runID != nil {
			o.DiscoveryRunID = *runID
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

func scanQueries(rows pgx.Rows) ([]model.DiscoveryQuery, error) {
	var queries []model.DiscoveryQuery
	for rows.Next() {
		var q model.DiscoveryQuery
		if err := rows.Scan(&q.ID, &q.Name, &q.Payload, &q.Enabled, &q.Priority,
			&q.CurrentPage, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "discovery: scan query")
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func scanRun(row pgx.Row) (*model.DiscoveryRun, error) {
	var run model.DiscoveryRun
	var status, trigger string
	var errLog []byte
	err := row.Scan(
		&run.ID, &trigger, &run.TriggeredBy, &status, &run.StartedAt, &run.CompletedAt,
		&run.Counters.QueriesAttempted, &run.Counters.Fetched,
		&run.Counters.NewCandidates, &run.Counters.DetailFetched,
		&run.Counters.PrescreenRejected, &run.Counters.ScoreRejected,
		&run.Counters.BelowThreshold, &run.Counters.Inserted,
		&run.Tokens.CheapInput, &run.Tokens.CheapOutput,
		&run.Tokens.CapableInput, &run.Tokens.CapableOutput,
		&errLog, &run.FatalError,
	)
	if err != nil {
		return nil, err
	}
	run.Trigger = model.Trigger(trigger)
	run.Status = model.RunStatus(status)
	if errLog != nil {
		_ = json.Unmarshal(errLog, &run.ErrorLog)
	}
	return &run, nil
}
