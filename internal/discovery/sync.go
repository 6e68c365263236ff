// Package discovery implements the grant discovery sync pipeline: a
// scheduled batch job that sweeps the grants registry, deduplicates
// against known opportunities, extracts and scores candidates through a
// two-stage model pipeline, and admits high-fit results into the review
// queue.
package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborlight-collective/grantscout/internal/budget"
	"github.com/harborlight-collective/grantscout/internal/model"
)

// BudgetLedger is the shared monthly token ledger consulted before every
// model call and incremented after each one.
type BudgetLedger interface {
	Used(ctx context.Context, period string) (int64, error)
	Add(ctx context.Context, period string, tokens int64) error
}

// SyncOptions holds the per-run tunables.
type SyncOptions struct {
	Source              string
	MaxPerRun           int
	WallClock           time.Duration
	MinAwardCeiling     float64
	MinWeightedScore    float64
	MonthlyTokenCeiling int64
}

// Syncer drives one discovery run end to end.
type Syncer struct {
	store     Store
	registry  Registry
	extractor *Extractor
	scorer    *Scorer
	gate      *Gate
	budget    BudgetLedger
	opts      SyncOptions
	now       func() time.Time
}

// NewSyncer wires a Syncer from its collaborators.
func NewSyncer(store Store, registry Registry, extractor *Extractor, scorer *Scorer, budget BudgetLedger, opts SyncOptions) *Syncer {
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = 20
	}
	return &Syncer{
		store:     store,
		registry:  registry,
		extractor: extractor,
		scorer:    scorer,
		gate:      NewGate(store, opts.Source, opts.MinWeightedScore),
		budget:    budget,
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes one discovery sync and returns its finalized ledger. The
// returned error is non-nil only for infrastructure failures that prevent
// a run row from existing at all; pipeline failures are recorded in the
// run's error log and terminal status instead.
func (s *Syncer) Run(ctx context.Context, trigger model.Trigger, triggeredBy string) (*model.DiscoveryRun, error) {
	if s.opts.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WallClock)
		defer cancel()
	}

	runID := uuid.NewString()
	log := zap.L().With(zap.String("component", "discovery.sync"), zap.String("run_id", runID))
	led := newLedger(runID, trigger, triggeredBy)

	if err := s.store.CreateRun(ctx, led.run); err != nil {
		return nil, eris.Wrap(err, "sync: create run")
	}

	log.Info("discovery run started", zap.String("trigger", string(trigger)))

	// Configuration failures abort immediately: no meaningful partial
	// progress is possible without a profile or queries.
	profile, err := s.store.ActiveProfile(ctx)
	if err != nil {
		return s.failRun(ctx, led, log, eris.Wrap(err, "load active profile")), nil
	}
	if profile == nil {
		return s.failRun(ctx, led, log, eris.New("no active organization profile")), nil
	}

	queries, err := s.store.ListEnabledQueries(ctx)
	if err != nil {
		return s.failRun(ctx, led, log, eris.Wrap(err, "load query catalog")), nil
	}
	if len(queries) == 0 {
		return s.failRun(ctx, led, log, eris.New("no enabled discovery queries")), nil
	}

	fetched := s.fetchAllQueries(ctx, led, log, queries)

	existing, err := s.store.ExistingExternalIDs(ctx, s.opts.Source, fetched)
	if err != nil {
		return s.failRun(ctx, led, log, eris.Wrap(err, "dedup lookup")), nil
	}

	fresh := FilterNew(fetched, existing)
	led.run.Counters.NewCandidates = len(fresh)

	// Cap the batch so the sequential loop fits the wall-clock ceiling.
	// Excess ids are picked up by later runs as the cursors advance.
	if len(fresh) > s.opts.MaxPerRun {
		fresh = fresh[:s.opts.MaxPerRun]
	}

	log.Info("candidate batch assembled",
		zap.Int("fetched", led.run.Counters.Fetched),
		zap.Int("new", led.run.Counters.NewCandidates),
		zap.Int("processing", len(fresh)),
	)

	status := s.processBatch(ctx, led, log, profile, fresh)

	run := led.finalize(ctx, s.store, status, "")
	log.Info("discovery run finished",
		zap.String("status", string(status)),
		zap.Int("inserted", run.Counters.Inserted),
		zap.Int("rejected", run.Counters.Rejected()),
		zap.Int("errors", len(run.ErrorLog)),
	)
	return run, nil
}

// fetchAllQueries executes one page per enabled query, advancing each
// cursor after a successful fetch. A failure on one query is recorded and
// does not abort the others.
func (s *Syncer) fetchAllQueries(ctx context.Context, led *ledger, log *zap.Logger, queries []model.DiscoveryQuery) []string {
	var fetched []string
	for i := range queries {
		q := &queries[i]
		led.run.Counters.QueriesAttempted++

		page, err := FetchQueryPage(ctx, s.registry, q)
		if err != nil {
			led.addError(queryErr(model.KindSearch, q.Name, err))
			log.Warn("query fetch failed", zap.String("query", q.Name), zap.Error(err))
			continue
		}

		led.run.Counters.Fetched += len(page.IDs)
		fetched = append(fetched, page.IDs...)

		next := NextPage(q.CurrentPage, page.TotalPages)
		if err := s.store.UpdateQueryCursor(ctx, q.ID, next); err != nil {
			led.addError(queryErr(model.KindSearch, q.Name, err))
			log.Warn("cursor update failed", zap.String("query", q.Name), zap.Error(err))
			continue
		}

		log.Debug("query page fetched",
			zap.String("query", q.Name),
			zap.Int("page", q.CurrentPage),
			zap.Int("hits", len(page.IDs)),
			zap.Int("next_page", next),
		)
	}
	return fetched
}

// processBatch runs the sequential per-candidate stages and returns the
// run's terminal status.
func (s *Syncer) processBatch(ctx context.Context, led *ledger, log *zap.Logger, profile *model.OrgProfile, ids []string) model.RunStatus {
	for _, oppID := range ids {
		// Cooperative cancellation checkpoint: a candidate mid-flight
		// always completes, so cancel latency is bounded by one
		// candidate's full stage sequence.
		status, err := s.store.GetRunStatus(ctx, led.run.ID)
		if err != nil {
			log.Warn("cancellation poll failed", zap.Error(err))
		} else if status == model.RunCancelling {
			log.Info("cancellation detected, stopping batch")
			return model.RunCancelled
		}

		if ctx.Err() != nil {
			led.addError(&StageError{Kind: model.KindDeadline, Err: eris.New("wall-clock budget exhausted")})
			break
		}

		if s.processCandidate(ctx, led, log, profile, oppID) {
			break
		}
	}
	return model.RunCompleted
}

// budgetStop reports whether the shared monthly ceiling has been reached.
// Consulted before each model call; a read failure is logged and spend is
// allowed rather than stalling the run.
func (s *Syncer) budgetStop(ctx context.Context, log *zap.Logger) bool {
	if s.budget == nil || s.opts.MonthlyTokenCeiling <= 0 {
		return false
	}
	used, err := s.budget.Used(ctx, budget.Period(s.now()))
	if err != nil {
		log.Warn("budget read failed", zap.Error(err))
		return false
	}
	return used >= s.opts.MonthlyTokenCeiling
}

// errBudgetExhausted ends the batch once recorded; see processCandidate.
var errBudgetExhausted = eris.New("monthly token ceiling reached")

// processCandidate runs detail → extract → pre-screen → score → gate for
// one id. Each failure is recorded against the candidate and abandons it
// for this run; the id stays un-deduplicated so a later run retries it.
// Returns true when the shared token ceiling is reached, which ends the
// whole batch rather than just this candidate.
func (s *Syncer) processCandidate(ctx context.Context, led *ledger, log *zap.Logger, profile *model.OrgProfile, oppID string) (stop bool) {
	clog := log.With(zap.String("opp_id", oppID))

	if s.budgetStop(ctx, clog) {
		led.addError(&StageError{Kind: model.KindBudget, OppID: oppID, Err: errBudgetExhausted})
		clog.Info("token ceiling reached, ending batch")
		return true
	}

	raw, err := s.registry.FetchOpportunity(ctx, oppID)
	if err != nil {
		led.addError(candidateErr(model.KindDetail, oppID, err))
		clog.Warn("detail fetch failed", zap.Error(err))
		return false
	}
	led.run.Counters.DetailFetched++

	fields, usage, err := s.extractor.Extract(ctx, raw)
	led.addCheap(usage)
	s.accrue(ctx, clog, usage.Total())
	if err != nil {
		led.addError(candidateErr(model.KindExtract, oppID, err))
		clog.Warn("extraction failed", zap.Error(err))
		return false
	}

	if rejected, reason := Prescreen(fields, s.opts.MinAwardCeiling); rejected {
		led.run.Counters.PrescreenRejected++
		clog.Debug("pre-screen rejected", zap.String("reason", reason))
		return false
	}

	if s.budgetStop(ctx, clog) {
		led.addError(&StageError{Kind: model.KindBudget, OppID: oppID, Err: errBudgetExhausted})
		clog.Info("token ceiling reached, ending batch")
		return true
	}

	result, usage, err := s.scorer.Score(ctx, profile, fields)
	led.addCapable(usage)
	s.accrue(ctx, clog, usage.Total())
	if err != nil {
		led.addError(candidateErr(model.KindScore, oppID, err))
		clog.Warn("scoring failed", zap.Error(err))
		return false
	}

	if result.AutoReject {
		led.run.Counters.ScoreRejected++
		clog.Info("auto-rejected by scoring stage", zap.String("reason", result.AutoRejectReason))
		return false
	}

	inserted, err := s.gate.Admit(ctx, led.run.ID, oppID, fields, result)
	if err != nil {
		led.addError(candidateErr(model.KindInsert, oppID, err))
		clog.Warn("insertion failed", zap.Error(err))
		return false
	}
	if inserted {
		led.run.Counters.Inserted++
		clog.Info("opportunity admitted to review queue",
			zap.Float64("weighted_score", result.WeightedScore),
			zap.String("recommendation", result.Recommendation),
		)
	} else {
		led.run.Counters.BelowThreshold++
		clog.Debug("below score floor", zap.Float64("weighted_score", result.WeightedScore))
	}
	return false
}

// accrue adds spent tokens to the shared ledger. Failures are logged,
// not fatal: the audit copy of the totals lives on the run row.
func (s *Syncer) accrue(ctx context.Context, log *zap.Logger, tokens int64) {
	if s.budget == nil || tokens <= 0 {
		return
	}
	if err := s.budget.Add(ctx, budget.Period(s.now()), tokens); err != nil {
		log.Warn("budget ledger update failed", zap.Error(err))
	}
}

// failRun finalizes a run as failed with a single fatal log entry.
func (s *Syncer) failRun(ctx context.Context, led *ledger, log *zap.Logger, cause error) *model.DiscoveryRun {
	led.addError(&StageError{Kind: model.KindConfig, Err: cause})
	run := led.finalize(ctx, s.store, model.RunFailed, cause.Error())
	log.Error("discovery run failed", zap.Error(cause))
	return run
}
