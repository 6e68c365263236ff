package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/model"
)

// ErrNoActiveRun is returned by RequestCancel when nothing is in flight.
var ErrNoActiveRun = eris.New("discovery: no active run")

// CancelResult reports what a cancel request did.
type CancelResult struct {
	RunID  string
	Forced bool
}

// RequestCancel transitions the most recent active run toward
// cancellation. A first request against a running run marks it
// cancelling; the orchestrator detects that at its next checkpoint. A
// repeated request against a run already cancelling escalates to a forced
// cancelled state, covering an orchestrator that stopped without
// finalizing.
func RequestCancel(ctx context.Context, store Store) (*CancelResult, error) {
	run, err := store.FindActiveRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNoActiveRun
	}

	switch run.Status {
	case model.RunRunning:
		ok, err := store.MarkCancelling(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Run reached a terminal state between the read and the update.
			return nil, ErrNoActiveRun
		}
		return &CancelResult{RunID: run.ID}, nil

	case model.RunCancelling:
		ok, err := store.ForceCancelled(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoActiveRun
		}
		return &CancelResult{RunID: run.ID, Forced: true}, nil

	default:
		return nil, ErrNoActiveRun
	}
}
