package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/jsonx"
	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
)

// scoreSystemPrompt frames the capable-tier fit evaluation. The active
// profile's mission fragment and criteria weights are appended verbatim.
const scoreSystemPrompt = `You evaluate grant opportunities for fit against a nonprofit organization's profile. Score each criterion from 1 to 10 and compute the weighted overall score using the stated weights.

Set "auto_reject" true only when the opportunity is categorically unavailable to the organization (wrong applicant type, expired, geographically impossible), and give the reason.

Respond with ONLY a single JSON object, no other text:
{
  "criteria": {
    "mission_alignment": 0,
    "eligibility_fit": 0,
    "funding_fit": 0,
    "geographic_fit": 0,
    "capacity_fit": 0
  },
  "weighted_score": 0.0,
  "auto_reject": false,
  "auto_reject_reason": "",
  "rationale": "2-4 sentences",
  "red_flags": [],
  "recommendation": "apply | investigate | skip"
}`

// Scorer runs the capable-tier model over extracted opportunities.
type Scorer struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
}

// NewScorer creates a Scorer for the given capable-tier model.
func NewScorer(ai anthropic.Client, modelID string, maxTokens int64) *Scorer {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Scorer{ai: ai, model: modelID, maxTokens: maxTokens}
}

// Score rates extracted fields against the active profile. Token usage is
// returned even when parsing fails.
func (s *Scorer) Score(ctx context.Context, profile *model.OrgProfile, fields *model.ExtractedFields) (*model.ScoreResult, anthropic.TokenUsage, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "score: marshal extracted fields")
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    scoreSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: buildScoreMessage(profile, fieldsJSON),
		}},
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "score: model call")
	}

	text := resp.Text()
	if text == "" {
		return nil, resp.Usage, eris.New("score: empty model response")
	}

	var result model.ScoreResult
	if err := jsonx.DecodeObject(text, &result); err != nil {
		return nil, resp.Usage, eris.Wrap(err, "score: parse model response")
	}

	result.WeightedScore = clampScore(result.WeightedScore)
	if result.Recommendation == "" {
		result.Recommendation = model.RecommendInvestigate
	}

	return &result, resp.Usage, nil
}

// buildScoreMessage concatenates the profile fragment, the weight table
// and the extracted fields into the user message.
func buildScoreMessage(profile *model.OrgProfile, fieldsJSON []byte) string {
	var b strings.Builder
	b.WriteString("Organization profile:\n")
	b.WriteString(profile.MissionPrompt)
	b.WriteString("\n\nCriteria weights:\n")
	w := profile.Weights
	fmt.Fprintf(&b, "- mission_alignment: %.2f\n", w.MissionAlignment)
	fmt.Fprintf(&b, "- eligibility_fit: %.2f\n", w.EligibilityFit)
	fmt.Fprintf(&b, "- funding_fit: %.2f\n", w.FundingFit)
	fmt.Fprintf(&b, "- geographic_fit: %.2f\n", w.GeographicFit)
	fmt.Fprintf(&b, "- capacity_fit: %.2f\n", w.CapacityFit)
	b.WriteString("\nOpportunity:\n")
	b.Write(fieldsJSON)
	return b.String()
}

// clampScore bounds a weighted score to the 1-10 scale, treating zero or
// negative model output as the minimum.
func clampScore(score float64) float64 {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
