package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight-collective/grantscout/internal/model"
)

func TestGateAdmitBoundary(t *testing.T) {
	tests := []struct {
		name         string
		score        float64
		wantInserted bool
	}{
		{"just below floor", 4.9, false},
		{"exactly at floor", 5.0, true},
		{"above floor", 8.2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			g := NewGate(store, "grants.gov", 5.0)

			ok, err := g.Admit(context.Background(), "run-1", "358642",
				testFields(), &model.ScoreResult{WeightedScore: tt.score, Recommendation: model.RecommendApply})
			require.NoError(t, err)
			assert.Equal(t, tt.wantInserted, ok)

			if tt.wantInserted {
				require.Len(t, store.inserted, 1)
			} else {
				assert.Empty(t, store.inserted)
			}
		})
	}
}

func TestGateAdmitRowShape(t *testing.T) {
	store := newFakeStore()
	g := NewGate(store, "grants.gov", 5.0)

	ceiling := 750000.0
	fields := &model.ExtractedFields{
		Name:             "Coastal Habitat Restoration Grants",
		Funder:           "NOAA",
		GrantType:        "grant",
		Description:      "Restoration in coastal watersheds.",
		AwardCeiling:     &ceiling,
		Deadline:         "2026-11-15",
		EligibilityNotes: "Nonprofits and tribal governments.",
		ExternalID:       "358642",
	}
	score := &model.ScoreResult{
		Criteria:       model.CriterionScores{MissionAlignment: 8},
		WeightedScore:  7.8,
		Rationale:      "Strong overlap.",
		RedFlags:       []string{"requires 25% match"},
		Recommendation: model.RecommendApply,
	}

	ok, err := g.Admit(context.Background(), "run-1", "358642", fields, score)
	require.NoError(t, err)
	require.True(t, ok)

	opp := store.inserted[0]
	assert.Equal(t, "grants.gov", opp.Source)
	require.NotNil(t, opp.ExternalID)
	assert.Equal(t, "358642", *opp.ExternalID)
	assert.Equal(t, model.StatusRegistryReview, opp.Status)
	assert.True(t, opp.AutoDiscovered)
	assert.Equal(t, "run-1", opp.DiscoveryRunID)
	assert.False(t, opp.DiscoveredAt.IsZero())
	assert.InDelta(t, 7.8, opp.WeightedScore, 0.001)
	assert.Equal(t, score.Criteria, opp.Breakdown.Criteria)
}

func TestGateAdmitDuplicate(t *testing.T) {
	store := newFakeStore()
	store.existing["358642"] = struct{}{}
	g := NewGate(store, "grants.gov", 5.0)

	_, err := g.Admit(context.Background(), "run-1", "358642",
		testFields(), &model.ScoreResult{WeightedScore: 7.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
}
