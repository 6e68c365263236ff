package model

import "time"

// Opportunity statuses. StatusRegistryReview marks rows produced by the
// discovery pipeline; they stay out of the standard kanban views until a
// human promotes or rejects them.
const (
	StatusRegistryReview = "registry_review"
)

// Recommendation values returned by the scoring stage.
const (
	RecommendApply       = "apply"
	RecommendInvestigate = "investigate"
	RecommendSkip        = "skip"
)

// ExtractedFields is the normalized schema the extraction stage produces
// from a raw registry detail payload.
type ExtractedFields struct {
	Name             string   `json:"name"`
	Funder           string   `json:"funder"`
	GrantType        string   `json:"grant_type"`
	Description      string   `json:"description"`
	AwardCeiling     *float64 `json:"award_ceiling"`
	Deadline         string   `json:"deadline"`
	EligibilityNotes string   `json:"eligibility_notes"`
	ExternalID       string   `json:"external_id"`
}

// CriterionScores holds the five per-criterion fit scores, each 1-10.
type CriterionScores struct {
	MissionAlignment float64 `json:"mission_alignment"`
	EligibilityFit   float64 `json:"eligibility_fit"`
	FundingFit       float64 `json:"funding_fit"`
	GeographicFit    float64 `json:"geographic_fit"`
	CapacityFit      float64 `json:"capacity_fit"`
}

// ScoreResult is the structured output of the scoring stage.
type ScoreResult struct {
	Criteria         CriterionScores `json:"criteria"`
	WeightedScore    float64         `json:"weighted_score"`
	AutoReject       bool            `json:"auto_reject"`
	AutoRejectReason string          `json:"auto_reject_reason"`
	Rationale        string          `json:"rationale"`
	RedFlags         []string        `json:"red_flags"`
	Recommendation   string          `json:"recommendation"`
}

// Opportunity is a candidate funding record. Rows created by the discovery
// pipeline are uniquely identified by (Source, ExternalID); that pair is
// the system's only hard ingestion invariant. The pipeline never updates a
// row after insertion.
type Opportunity struct {
	ID               int64       `json:"id"`
	Source           string      `json:"source"`
	ExternalID       *string     `json:"external_id"`
	Name             string      `json:"name"`
	Funder           string      `json:"funder"`
	GrantType        string      `json:"grant_type"`
	Description      string      `json:"description"`
	AwardCeiling     *float64    `json:"award_ceiling"`
	Deadline         string      `json:"deadline"`
	EligibilityNotes string      `json:"eligibility_notes"`
	WeightedScore    float64     `json:"weighted_score"`
	Rationale        string      `json:"rationale"`
	Breakdown        ScoreResult `json:"breakdown"`
	RedFlags         []string    `json:"red_flags"`
	Recommendation   string      `json:"recommendation"`
	Status           string      `json:"status"`
	AutoDiscovered   bool        `json:"auto_discovered"`
	DiscoveredAt     time.Time   `json:"discovered_at"`
	DiscoveryRunID   string      `json:"discovery_run_id"`
	CreatedAt        time.Time   `json:"created_at"`
}
