package model

import "time"

// RunStatus is the lifecycle state of a discovery run.
type RunStatus string

const (
	// RunRunning is the initial state, set when the run row is created.
	RunRunning RunStatus = "running"
	// RunCancelling is set externally by the cancel endpoint; the
	// orchestrator polls for it between candidates.
	RunCancelling RunStatus = "cancelling"
	// RunCompleted, RunFailed and RunCancelled are terminal.
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Active reports whether the run is still in flight (running or cancelling).
func (s RunStatus) Active() bool {
	return s == RunRunning || s == RunCancelling
}

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ErrorKind classifies entries in a run's error log so it can be filtered
// programmatically instead of by string matching.
type ErrorKind string

const (
	KindSearch   ErrorKind = "search"
	KindDedup    ErrorKind = "dedup"
	KindDetail   ErrorKind = "detail"
	KindExtract  ErrorKind = "extract"
	KindScore    ErrorKind = "score"
	KindInsert   ErrorKind = "insert"
	KindConfig   ErrorKind = "config"
	KindBudget   ErrorKind = "budget"
	KindDeadline ErrorKind = "deadline"
)

// ErrorEntry is one recorded non-fatal (or fatal, for KindConfig) failure.
type ErrorEntry struct {
	Kind    ErrorKind `json:"kind"`
	Query   string    `json:"query,omitempty"`
	OppID   string    `json:"opp_id,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RunCounters tallies candidates at every pipeline stage.
//
// Pre-screen rejections and scoring-stage auto-rejects are tracked
// separately for operational clarity; Rejected() preserves the historical
// combined number.
type RunCounters struct {
	QueriesAttempted  int `json:"queries_attempted"`
	Fetched           int `json:"fetched"`
	NewCandidates     int `json:"new_candidates"`
	DetailFetched     int `json:"detail_fetched"`
	PrescreenRejected int `json:"prescreen_rejected"`
	ScoreRejected     int `json:"score_rejected"`
	BelowThreshold    int `json:"below_threshold"`
	Inserted          int `json:"inserted"`
}

// Rejected returns the combined auto-rejection count across both paths.
func (c RunCounters) Rejected() int {
	return c.PrescreenRejected + c.ScoreRejected
}

// TokenTotals tracks token consumption per model tier for one run.
type TokenTotals struct {
	CheapInput    int64 `json:"cheap_input"`
	CheapOutput   int64 `json:"cheap_output"`
	CapableInput  int64 `json:"capable_input"`
	CapableOutput int64 `json:"capable_output"`
}

// Total returns all tokens spent by the run across both tiers.
func (t TokenTotals) Total() int64 {
	return t.CheapInput + t.CheapOutput + t.CapableInput + t.CapableOutput
}

// DiscoveryRun is the audit record for one sync invocation. It is created
// at run start, updated in place, and finalized exactly once.
type DiscoveryRun struct {
	ID          string       `json:"id"`
	Trigger     Trigger      `json:"trigger"`
	TriggeredBy string       `json:"triggered_by,omitempty"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Counters    RunCounters  `json:"counters"`
	Tokens      TokenTotals  `json:"tokens"`
	ErrorLog    []ErrorEntry `json:"error_log,omitempty"`
	FatalError  string       `json:"fatal_error,omitempty"`
}
