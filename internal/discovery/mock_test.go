package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
	"github.com/harborlight-collective/grantscout/pkg/grantsgov"
)

// fakeStore is an in-memory Store. Error hooks let tests inject failures
// at specific operations; everything else behaves like a real backend.
type fakeStore struct {
	runs     map[string]*model.DiscoveryRun
	queries  []model.DiscoveryQuery
	profile  *model.OrgProfile
	existing map[string]struct{}
	inserted []*model.Opportunity
	cursors  map[int64]int

	profileErr  error
	queriesErr  error
	existingErr error
	insertErr   error

	// getStatusFn, when set, overrides the stored status. Used to flip a
	// run to cancelling partway through a batch.
	getStatusFn func(runID string) model.RunStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:     make(map[string]*model.DiscoveryRun),
		existing: make(map[string]struct{}),
		cursors:  make(map[int64]int),
		profile: &model.OrgProfile{
			ID:            1,
			Name:          "Harborlight Collective",
			Active:        true,
			MissionPrompt: "Coastal community resilience and maritime workforce development.",
			Weights: model.CriteriaWeights{
				MissionAlignment: 0.35,
				EligibilityFit:   0.25,
				FundingFit:       0.2,
				GeographicFit:    0.1,
				CapacityFit:      0.1,
			},
		},
	}
}

func (s *fakeStore) CreateRun(ctx context.Context, run *model.DiscoveryRun) error {
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

func (s *fakeStore) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(runID), nil
	}
	run, ok := s.runs[runID]
	if !ok {
		return "", fmt.Errorf("run %s not found", runID)
	}
	return run.Status, nil
}

func (s *fakeStore) FindActiveRun(ctx context.Context) (*model.DiscoveryRun, error) {
	for _, run := range s.runs {
		if run.Status.Active() {
			return run, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) MarkCancelling(ctx context.Context, runID string) (bool, error) {
	run, ok := s.runs[runID]
	if !ok || run.Status != model.RunRunning {
		return false, nil
	}
	run.Status = model.RunCancelling
	return true, nil
}

func (s *fakeStore) ForceCancelled(ctx context.Context, runID string) (bool, error) {
	run, ok := s.runs[runID]
	if !ok || run.Status != model.RunCancelling {
		return false, nil
	}
	run.Status = model.RunCancelled
	return true, nil
}

func (s *fakeStore) FinalizeRun(ctx context.Context, run *model.DiscoveryRun) error {
	stored, ok := s.runs[run.ID]
	if !ok || !stored.Status.Active() {
		return nil
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeStore) ListRuns(ctx context.Context, limit int) ([]model.DiscoveryRun, error) {
	var out []model.DiscoveryRun
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (s *fakeStore) ListEnabledQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	if s.queriesErr != nil {
		return nil, s.queriesErr
	}
	var out []model.DiscoveryQuery
	for _, q := range s.queries {
		if q.Enabled {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *fakeStore) ListQueries(ctx context.Context) ([]model.DiscoveryQuery, error) {
	return s.queries, nil
}

func (s *fakeStore) UpdateQueryCursor(ctx context.Context, queryID int64, nextPage int) error {
	s.cursors[queryID] = nextPage
	return nil
}

func (s *fakeStore) SetQueryEnabled(ctx context.Context, name string, enabled bool) error {
	for i := range s.queries {
		if s.queries[i].Name == name {
			s.queries[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("query %q not found", name)
}

func (s *fakeStore) UpsertQuery(ctx context.Context, q *model.DiscoveryQuery) error {
	for i := range s.queries {
		if s.queries[i].Name == q.Name {
			s.queries[i].Payload = q.Payload
			s.queries[i].Enabled = q.Enabled
			s.queries[i].Priority = q.Priority
			return nil
		}
	}
	cp := *q
	cp.ID = int64(len(s.queries) + 1)
	if cp.CurrentPage == 0 {
		cp.CurrentPage = 1
	}
	s.queries = append(s.queries, cp)
	return nil
}

func (s *fakeStore) ActiveProfile(ctx context.Context) (*model.OrgProfile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *fakeStore) ExistingExternalIDs(ctx context.Context, source string, ids []string) (map[string]struct{}, error) {
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.existing[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *fakeStore) InsertOpportunity(ctx context.Context, opp *model.Opportunity) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	if opp.ExternalID != nil {
		if _, ok := s.existing[*opp.ExternalID]; ok {
			return 0, ErrDuplicate
		}
		s.existing[*opp.ExternalID] = struct{}{}
	}
	cp := *opp
	cp.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, &cp)
	return cp.ID, nil
}

func (s *fakeStore) ListReviewQueue(ctx context.Context, limit int) ([]model.Opportunity, error) {
	var out []model.Opportunity
	for _, opp := range s.inserted {
		out = append(out, *opp)
	}
	return out, nil
}

func (s *fakeStore) Migrate(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                      { return nil }

// fakeRegistry cans search and detail responses per test.
type fakeRegistry struct {
	searchFn   func(req grantsgov.SearchRequest) (*grantsgov.SearchResult, error)
	fetchFn    func(oppID string) (json.RawMessage, error)
	searchReqs []grantsgov.SearchRequest
	fetched    []string
}

func (r *fakeRegistry) Search(ctx context.Context, req grantsgov.SearchRequest) (*grantsgov.SearchResult, error) {
	r.searchReqs = append(r.searchReqs, req)
	return r.searchFn(req)
}

func (r *fakeRegistry) FetchOpportunity(ctx context.Context, oppID string) (json.RawMessage, error) {
	r.fetched = append(r.fetched, oppID)
	if r.fetchFn != nil {
		return r.fetchFn(oppID)
	}
	return json.RawMessage(`{"opportunity":{"id":"` + oppID + `"}}`), nil
}

func hitsFor(ids ...string) []grantsgov.OppSummary {
	hits := make([]grantsgov.OppSummary, len(ids))
	for i, id := range ids {
		hits[i] = grantsgov.OppSummary{ID: id, Title: "Opp " + id}
	}
	return hits
}

// fakeAI responds to CreateMessage via a hook and records every request.
type fakeAI struct {
	respondFn func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
	calls     []anthropic.MessageRequest
}

func (a *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	a.calls = append(a.calls, req)
	return a.respondFn(req)
}

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

// fakeBudget is an in-memory budget ledger.
type fakeBudget struct {
	used    map[string]int64
	usedErr error
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{used: make(map[string]int64)}
}

func (b *fakeBudget) Used(ctx context.Context, period string) (int64, error) {
	if b.usedErr != nil {
		return 0, b.usedErr
	}
	return b.used[period], nil
}

func (b *fakeBudget) Add(ctx context.Context, period string, tokens int64) error {
	b.used[period] += tokens
	return nil
}
