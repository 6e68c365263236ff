package model

import (
	"encoding/json"
	"time"
)

// DiscoveryQuery is an operator-editable search definition against the
// grants registry. Payload is the opaque request body sent to the search
// endpoint; the fetcher only overrides its page field.
//
// CurrentPage always points at the next page to fetch. It wraps back to 1
// once it passes the last known page count, producing an ever-advancing
// sweep through the query's result set across daily runs. Only the sync
// orchestrator mutates it, and only after a successful fetch.
type DiscoveryQuery struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"`
	CurrentPage int             `json:"current_page"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
