package discovery

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/model"
)

// ErrDuplicate is returned by InsertOpportunity when the (source,
// external_id) uniqueness invariant rejects the row. Expected only under
// overlapping manual-trigger runs; recorded and skipped, never fatal.
var ErrDuplicate = eris.New("discovery: duplicate opportunity")

// StageError carries the error-log kind alongside the underlying failure
// so run ledgers can be filtered by kind instead of by message matching.
type StageError struct {
	Kind  model.ErrorKind
	Query string
	OppID string
	Err   error
}

func (e *StageError) Error() string {
	switch {
	case e.Query != "":
		return fmt.Sprintf("%s [query %s]: %v", e.Kind, e.Query, e.Err)
	case e.OppID != "":
		return fmt.Sprintf("%s [opp %s]: %v", e.Kind, e.OppID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// Entry converts the error into a run ledger entry.
func (e *StageError) Entry(now time.Time) model.ErrorEntry {
	return model.ErrorEntry{
		Kind:    e.Kind,
		Query:   e.Query,
		OppID:   e.OppID,
		Message: e.Err.Error(),
		At:      now,
	}
}

func queryErr(kind model.ErrorKind, query string, err error) *StageError {
	return &StageError{Kind: kind, Query: query, Err: err}
}

func candidateErr(kind model.ErrorKind, oppID string, err error) *StageError {
	return &StageError{Kind: kind, OppID: oppID, Err: err}
}
