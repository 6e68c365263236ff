package discovery

import (
	"context"
	"time"

	"github.com/harborlight-collective/grantscout/internal/model"
)

// Gate applies the configured score floor and writes admitted
// opportunities into the review queue.
type Gate struct {
	store    Store
	source   string
	minScore float64
}

// NewGate creates a Gate writing rows for the given registry source.
func NewGate(store Store, source string, minScore float64) *Gate {
	return &Gate{store: store, source: source, minScore: minScore}
}

// Admit inserts a scored opportunity when its weighted score meets the
// floor. Returns false with nil error for a below-floor result, which is
// discarded entirely; a later floor change cannot resurface it, it must be
// rediscovered from the registry.
func (g *Gate) Admit(ctx context.Context, runID, externalID string, fields *model.ExtractedFields, score *model.ScoreResult) (bool, error) {
	if score.WeightedScore < g.minScore {
		return false, nil
	}

	extID := externalID
	opp := &model.Opportunity{
		Source:           g.source,
		ExternalID:       &extID,
		Name:             fields.Name,
		Funder:           fields.Funder,
		GrantType:        fields.GrantType,
		Description:      fields.Description,
		AwardCeiling:     fields.AwardCeiling,
		Deadline:         fields.Deadline,
		EligibilityNotes: fields.EligibilityNotes,
		WeightedScore:    score.WeightedScore,
		Rationale:        score.Rationale,
		Breakdown:        *score,
		RedFlags:         score.RedFlags,
		Recommendation:   score.Recommendation,
		Status:           model.StatusRegistryReview,
		AutoDiscovered:   true,
		DiscoveredAt:     time.Now().UTC(),
		DiscoveryRunID:   runID,
	}

	if _, err := g.store.InsertOpportunity(ctx, opp); err != nil {
		return false, err
	}
	return true, nil
}
