package model

import "time"

// CriteriaWeights holds the relative weight of each scoring criterion.
// Weights are expected to sum to 1.0; the scoring prompt states them
// verbatim so the model computes the weighted overall score.
type CriteriaWeights struct {
	MissionAlignment float64 `json:"mission_alignment"`
	EligibilityFit   float64 `json:"eligibility_fit"`
	FundingFit       float64 `json:"funding_fit"`
	GeographicFit    float64 `json:"geographic_fit"`
	CapacityFit      float64 `json:"capacity_fit"`
}

// OrgProfile is the scoring rubric for the applying organization. At most
// one profile may be active at a time; the pipeline only reads it.
type OrgProfile struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Active        bool            `json:"active"`
	MissionPrompt string          `json:"mission_prompt"`
	Weights       CriteriaWeights `json:"weights"`
	CreatedAt     time.Time       `json:"created_at"`
}
