package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
)

// ledger accumulates one run's counters, token totals and error log in
// memory, and guarantees the row is finalized exactly once.
type ledger struct {
	run       *model.DiscoveryRun
	finalized bool
}

func newLedger(runID string, trigger model.Trigger, triggeredBy string) *ledger {
	return &ledger{
		run: &model.DiscoveryRun{
			ID:          runID,
			Trigger:     trigger,
			TriggeredBy: triggeredBy,
			Status:      model.RunRunning,
			StartedAt:   time.Now().UTC(),
		},
	}
}

// addError appends a stage error to the run's structured error log.
func (l *ledger) addError(serr *StageError) {
	l.run.ErrorLog = append(l.run.ErrorLog, serr.Entry(time.Now().UTC()))
}

// addCheap accrues cheap-tier token usage.
func (l *ledger) addCheap(u anthropic.TokenUsage) {
	l.run.Tokens.CheapInput += u.InputTokens
	l.run.Tokens.CheapOutput += u.OutputTokens
}

// addCapable accrues capable-tier token usage.
func (l *ledger) addCapable(u anthropic.TokenUsage) {
	l.run.Tokens.CapableInput += u.InputTokens
	l.run.Tokens.CapableOutput += u.OutputTokens
}

// finalize writes the terminal row. The write uses a context detached
// from cancellation so a terminal ledger exists even when the run's
// wall-clock budget expired.
func (l *ledger) finalize(ctx context.Context, store Store, status model.RunStatus, fatal string) *model.DiscoveryRun {
	if l.finalized {
		return l.run
	}
	l.finalized = true

	l.run.Status = status
	l.run.FatalError = fatal
	now := time.Now().UTC()
	l.run.CompletedAt = &now

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.FinalizeRun(writeCtx, l.run); err != nil {
		zap.L().Error("failed to finalize discovery run",
			zap.String("run_id", l.run.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return l.run
}
