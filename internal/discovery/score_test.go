package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
)

const scoreResponse = `{
	"criteria": {
		"mission_alignment": 8,
		"eligibility_fit": 9,
		"funding_fit": 7,
		"geographic_fit": 6,
		"capacity_fit": 7,
		"extra_future_criterion": 5
	},
	"weighted_score": 7.8,
	"auto_reject": false,
	"auto_reject_reason": "",
	"rationale": "Strong mission overlap with coastal restoration programs.",
	"red_flags": ["requires 25% match"],
	"recommendation": "apply"
}`

func testProfile() *model.OrgProfile {
	return &model.OrgProfile{
		Name:          "Harborlight Collective",
		MissionPrompt: "Coastal community resilience.",
		Weights: model.CriteriaWeights{
			MissionAlignment: 0.35,
			EligibilityFit:   0.25,
			FundingFit:       0.2,
			GeographicFit:    0.1,
			CapacityFit:      0.1,
		},
	}
}

func testFields() *model.ExtractedFields {
	return &model.ExtractedFields{
		Name:       "Coastal Habitat Restoration Grants",
		Funder:     "NOAA",
		ExternalID: "358642",
	}
}

func TestScore(t *testing.T) {
	ai := &fakeAI{
		respondFn: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(scoreResponse, 2100, 340), nil
		},
	}
	s := NewScorer(ai, "capable-model", 2048)

	result, usage, err := s.Score(context.Background(), testProfile(), testFields())
	require.NoError(t, err)

	assert.InDelta(t, 7.8, result.WeightedScore, 0.001)
	assert.False(t, result.AutoReject)
	assert.Equal(t, model.RecommendApply, result.Recommendation)
	assert.Equal(t, []string{"requires 25% match"}, result.RedFlags)
	// Unknown criteria keys from a newer prompt are ignored, not fatal.
	assert.InDelta(t, 8.0, result.Criteria.MissionAlignment, 0.001)
	assert.Equal(t, int64(2440), usage.Total())

	require.Len(t, ai.calls, 1)
	msg := ai.calls[0].Messages[0].Content
	assert.Contains(t, msg, "Coastal community resilience.")
	assert.Contains(t, msg, "mission_alignment: 0.35")
	assert.Contains(t, msg, "358642")
}

func TestScoreAutoReject(t *testing.T) {
	ai := &fakeAI{
		respondFn: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse(`{
				"criteria": {"mission_alignment":9,"eligibility_fit":1,"funding_fit":9,"geographic_fit":9,"capacity_fit":9},
				"weighted_score": 8.1,
				"auto_reject": true,
				"auto_reject_reason": "individuals only, organizations ineligible",
				"rationale": "Not open to nonprofits.",
				"recommendation": "skip"
			}`, 100, 50), nil
		},
	}
	s := NewScorer(ai, "capable-model", 2048)

	result, _, err := s.Score(context.Background(), testProfile(), testFields())
	require.NoError(t, err)

	// Auto-reject stands on its own; a high weighted score does not
	// override it.
	assert.True(t, result.AutoReject)
	assert.InDelta(t, 8.1, result.WeightedScore, 0.001)
	assert.Equal(t, "individuals only, organizations ineligible", result.AutoRejectReason)
}

func TestScoreClampsAndDefaults(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantScore float64
		wantRec   string
	}{
		{"score above scale", `{"weighted_score": 14.2, "recommendation": "apply"}`, 10, model.RecommendApply},
		{"zero score", `{"weighted_score": 0}`, 1, model.RecommendInvestigate},
		{"negative score", `{"weighted_score": -3, "recommendation": "skip"}`, 1, model.RecommendSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &fakeAI{
				respondFn: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
					return textResponse(tt.response, 10, 10), nil
				},
			}
			s := NewScorer(ai, "capable-model", 2048)

			result, _, err := s.Score(context.Background(), testProfile(), testFields())
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, result.WeightedScore, 0.001)
			assert.Equal(t, tt.wantRec, result.Recommendation)
		})
	}
}

func TestScoreMalformedResponseStillReportsUsage(t *testing.T) {
	ai := &fakeAI{
		respondFn: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			return textResponse("I cannot score this opportunity.", 500, 20), nil
		},
	}
	s := NewScorer(ai, "capable-model", 2048)

	_, usage, err := s.Score(context.Background(), testProfile(), testFields())
	require.Error(t, err)
	assert.Equal(t, int64(520), usage.Total())
}
