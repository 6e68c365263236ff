package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harborlight-collective/grantscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local development and single-operator installs; production deployments
// use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovery_queries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	payload      TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	priority     INTEGER NOT NULL DEFAULT 100,
	current_page INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS org_profiles (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	active         INTEGER NOT NULL DEFAULT 0,
	mission_prompt TEXT NOT NULL,
	weights        TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_org_profiles_one_active
	ON org_profiles(active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS opportunities (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source            TEXT NOT NULL,
	external_id       TEXT,
	name              TEXT NOT NULL,
	funder            TEXT,
	grant_type        TEXT,
	description       TEXT,
	award_ceiling     REAL,
	deadline          TEXT,
	eligibility_notes TEXT,
	weighted_score    REAL NOT NULL DEFAULT 0,
	rationale         TEXT,
	breakdown         TEXT,
	red_flags         TEXT,
	recommendation    TEXT,
	status            TEXT NOT NULL,
	auto_discovered   INTEGER NOT NULL DEFAULT 0,
	discovered_at     DATETIME,
	discovery_run_id  TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_opportunities_source_external
	ON opportunities(source, external_id) WHERE external_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS discovery_runs (
	id                    TEXT PRIMARY KEY,
	trigger_source        TEXT NOT NULL,
	triggered_by          TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'running',
	started_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at          DATETIME,
	queries_attempted     INTEGER NOT NULL DEFAULT 0,
	fetched               INTEGER NOT NULL DEFAULT 0,
	new_candidates        INTEGER NOT NULL DEFAULT 0,
	detail_fetched        INTEGER NOT NULL DEFAULT 0,
	prescreen_rejected    INTEGER NOT NULL DEFAULT 0,
	score_rejected        INTEGER NOT NULL DEFAULT 0,
	below_threshold       INTEGER NOT NULL DEFAULT 0,
	inserted              INTEGER NOT NULL DEFAULT 0,
	cheap_input_tokens    INTEGER NOT NULL DEFAULT 0,
	cheap_output_tokens   INTEGER NOT NULL DEFAULT 0,
	capable_input_tokens  INTEGER NOT NULL DEFAULT 0,
	capable_output_tokens INTEGER NOT NULL DEFAULT 0,
	error_log             TEXT NOT NULL DEFAULT '[]',
	fatal_error           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS budget_ledger (
	period      TEXT PRIMARY KEY,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.DiscoveryRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, trigger_source, triggered_by, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Trigger), run.TriggeredBy, string(model.RunRunning), run.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create run %s", run.ID)
	}
	return nil
}

const sqliteRunColumns = `id, trigger_source, triggered_by, status, started_at, completed_at,
	queries_attempted, fetched, new_candidates, detail_fetched,
	prescreen_rejected, score_rejected, below_threshold, inserted,
	cheap_input_tokens, cheap_output_tokens, capable_input_tokens, capable_output_tokens,
	error_log, fatal_error`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM discovery_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: run %s not found", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM discovery_runs WHERE id = ?`, runID,
	).Scan(&status)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get run status %s", runID)
	}
	return model.RunStatus(status), nil
}

func (s *SQLiteStore) FindActiveRun(ctx context.Context) (*model.DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM discovery_runs
		 WHERE status IN ('running', 'cancelling')
		 ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find active run")
	}
	return run, nil
}

func (s *SQLiteStore) MarkCancelling(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = 'cancelling' WHERE id = ? AND status = 'running'`,
		runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark cancelling %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ForceCancelled(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = 'cancelled', completed_at = ?
		 WHERE id = ? AND status = 'cancelling'`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: force cancel %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, run *model.DiscoveryRun) error {
	errLog, err := json.Marshal(run.ErrorLog)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error log")
	}
	if run.ErrorLog == nil {
		errLog = []byte("[]")
	}

	c := run.Counters
	t := run.Tokens
	_, err = s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET
			status = ?, completed_at = ?,
			queries_attempted = ?, fetched = ?, new_candidates = ?, detail_fetched = ?,
			prescreen_rejected = ?, score_rejected = ?, below_threshold = ?, inserted = ?,
			cheap_input_tokens = ?, cheap_output_tokens = ?,
			capable_input_tokens = ?, capable_output_tokens = ?,
			error_log = ?, fatal_error = ?
		 WHERE id = ? AND status IN ('running', 'cancelling')`,
		string(run.Status), time.Now().UTC(),
		c.QueriesAttempted, c.Fetched, c.NewCandidates, c.DetailFetched,
		c.PrescreenRejected, c.ScoreRejected, c.BelowThreshold, c.Inserted,
		t.CheapInput, t.CheapOutput, t.CapableInput, t.CapableOutput,
		string(errLog), run.FatalError,
		run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize run %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM discovery_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) ListEnabledQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, payload, enabled, priority, current_page, created_at, updated_at
		 FROM discovery_queries WHERE enabled = 1 ORDER BY priority, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enabled queries")
	}
	defer rows.Close()
	return scanSQLiteQueries(rows)
}

func (s *SQLiteStore) ListQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, payload, enabled, priority, current_page, created_at, updated_at
		 FROM discovery_queries ORDER BY priority, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close()
	return scanSQLiteQueries(rows)
}

func (s *SQLiteStore) UpdateQueryCursor(ctx context.Context, queryID int64, nextPage int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discovery_queries SET current_page = ?, updated_at = ? WHERE id = ?`,
		nextPage, time.Now().UTC(), queryID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update cursor for query %d", queryID)
	}
	return nil
}

func (s *SQLiteStore) SetQueryEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_queries SET enabled = ?, updated_at = ? WHERE name = ?`,
		enabled, time.Now().UTC(), name,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set query %s enabled", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: query %q not found", name)
	}
	return nil
}

func (s *SQLiteStore) UpsertQuery(ctx context.Context, q *model.DiscoveryQuery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_queries (name, payload, enabled, priority)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET payload = excluded.payload, enabled = excluded.enabled,
		     priority = excluded.priority, updated_at = datetime('now')`,
		q.Name, string(q.Payload), q.Enabled, q.Priority,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert query %s", q.Name)
	}
	return nil
}

func (s *SQLiteStore) ActiveProfile(ctx context.Context) (*model.OrgProfile, error) {
	var p model.OrgProfile
	var weights string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, mission_prompt, weights, created_at
		 FROM org_profiles WHERE active = 1 LIMIT 1`,
	).Scan(&p.ID, &p.Name, &p.Active, &p.MissionPrompt, &weights, &p.CreatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: load active profile")
	}
	if err := json.Unmarshal([]byte(weights), &p.Weights); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode profile weights")
	}
	return &p, nil
}

func (s *SQLiteStore) ExistingExternalIDs(ctx context.Context, source string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, source)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM opportunities
		 WHERE source = ? AND external_id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup existing external ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan external id")
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

func (s *SQLiteStore) InsertOpportunity(ctx context.Context, opp *model.Opportunity) (int64, error) {
	breakdown, err := json.Marshal(opp.Breakdown)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal score breakdown")
	}
	redFlags, err := json.Marshal(opp.RedFlags)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal red flags")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunities (
			source, external_id, name, funder, grant_type, description,
			award_ceiling, deadline, eligibility_notes,
			weighted_score, rationale, breakdown, red_flags, recommendation,
			status, auto_discovered, discovered_at, discovery_run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opp.Source, opp.ExternalID, opp.Name, opp.Funder, opp.GrantType, opp.Description,
		opp.AwardCeiling, opp.Deadline, opp.EligibilityNotes,
		opp.WeightedScore, opp.Rationale, string(breakdown), string(redFlags), opp.Recommendation,
		opp.Status, opp.AutoDiscovered, opp.DiscoveredAt, opp.DiscoveryRunID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicate
		}
		return 0, eris.Wrap(err, "sqlite: insert opportunity")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	return id, nil
}

func (s *SQLiteStore) ListReviewQueue(ctx context.Context, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, external_id, name, funder, grant_type, description,
			award_ceiling, deadline, eligibility_notes,
			weighted_score, rationale, red_flags, recommendation,
			status, auto_discovered, discovered_at, discovery_run_id, created_at
		 FROM opportunities
		 WHERE status = ?
		 ORDER BY weighted_score DESC, id
		 LIMIT ?`,
		string(model.StatusRegistryReview), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review queue")
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		var redFlags sql.NullString
		var discoveredAt sql.NullTime
		var runID sql.NullString
		if err := rows.Scan(
			&o.ID, &o.Source, &o.ExternalID, &o.Name, &o.Funder, &o.GrantType, &o.Description,
			&o.AwardCeiling, &o.Deadline, &o.EligibilityNotes,
			&o.WeightedScore, &o.Rationale, &redFlags, &o.Recommendation,
			&o.Status, &o.AutoDiscovered, &discoveredAt, &runID, &o.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		if redFlags.Valid {
			_ = json.Unmarshal([]byte(redFlags.String), &o.RedFlags)
		}
		if discoveredAt.Valid {
			o.DiscoveredAt = discoveredAt.Time
		}
		if runID.Valid {
			o.DiscoveryRunID = runID.String
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Used returns the tokens spent in a billing period. SQLiteStore doubles
// as the budget ledger so single-file installs keep the shared ceiling.
func (s *SQLiteStore) Used(ctx context.Context, period string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens_used FROM budget_ledger WHERE period = ?`, period,
	).Scan(&used)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: budget used for %s", period)
	}
	return used, nil
}

// Add increments a period's spend, creating the row on first use.
func (s *SQLiteStore) Add(ctx context.Context, period string, tokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_ledger (period, tokens_used) VALUES (?, ?)
		 ON CONFLICT (period) DO UPDATE
		 SET tokens_used = tokens_used + excluded.tokens_used, updated_at = datetime('now')`,
		period, tokens,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: budget add for %s", period)
	}
	return nil
}

func scanSQLiteQueries(rows *sql.Rows) ([]model.DiscoveryQuery, error) {
	var queries []model.DiscoveryQuery
	for rows.Next() {
		var q model.DiscoveryQuery
		var payload string
		if err := rows.Scan(&q.ID, &q.Name, &payload, &q.Enabled, &q.Priority,
			&q.CurrentPage, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query")
		}
		q.Payload = json.RawMessage(payload)
		queries = append(queries, q)
	}
	return queries, rows.Err()
}
